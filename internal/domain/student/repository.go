package student

import (
	"context"
	"time"

	"github.com/alem-hub/points-ledger/internal/domain/ledger"
)

// Repository хранит студентов и их отметки. Реализации: postgres и sqlite.
// Отсутствующий студент всегда даёт shared.ErrStudentNotFound.
type Repository interface {
	// Create падает с ErrStudentAlreadyExists на повторном ID.
	Create(ctx context.Context, s *Student) error

	GetByID(ctx context.Context, id string) (*Student, error)

	// GetForUpdate возвращает студента и блокирует строку до конца транзакции,
	// если хранилище это поддерживает.
	GetForUpdate(ctx context.Context, id string) (*Student, error)

	// UpdateBalances сохраняет пересчитанные балансы.
	UpdateBalances(ctx context.Context, id string, b ledger.Balances, at time.Time) error

	// RecordCheckin добавляет отметку; false, если за этот день она уже есть.
	RecordCheckin(ctx context.Context, c Checkin) (bool, error)

	// CountCheckins возвращает число отметок студента.
	CountCheckins(ctx context.Context, studentID string) (int, error)
}
