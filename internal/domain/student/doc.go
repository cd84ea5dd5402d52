// Package student содержит доменную модель студента в движке начислений.
//
// Пакет определяет:
//
//   - Сущности: Student (с производными балансами), Checkin
//   - Интерфейс репозитория: Repository
//
// Балансы никогда не изменяются напрямую: они пересчитываются из журнала
// функцией ledger.Aggregate в той же транзакции, что и запись в журнал.
//
//	st, err := NewStudent(NewStudentParams{ID: "s-42", DisplayName: "Аружан", Now: now})
//
// Уровень выводится из lifetime_points: каждые 1000 очков = 1 уровень.
package student
