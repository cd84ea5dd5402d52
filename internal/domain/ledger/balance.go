package ledger

import "github.com/alem-hub/points-ledger/internal/domain/shared"

// Balances - производные балансы, хранимые в строке студента.
type Balances struct {
	PointsTotal    int `json:"points_total"`
	PointsBalance  int `json:"points_balance"`
	LifetimePoints int `json:"lifetime_points"`
}

// Level вычисляет уровень из lifetime_points.
func (b Balances) Level() int {
	return shared.LevelFor(b.LifetimePoints)
}

// CategorySum - агрегаты по одной категории, которые возвращает хранилище.
type CategorySum struct {
	Category Category
	// Net - сумма всех записей категории.
	Net int
	// Positive - сумма только положительных записей.
	Positive int
}

// Aggregate сворачивает суммы по категориям в балансы.
//
//   - points_total и points_balance: все категории, резервы тоже;
//   - lifetime_points: положительные записи зарабатывающих категорий,
//     не меньше предыдущего значения.
func Aggregate(sums []CategorySum, previousLifetime int) Balances {
	var b Balances
	lifetime := 0
	for _, s := range sums {
		b.PointsTotal += s.Net
		if s.Category.CountsTowardLifetime() {
			lifetime += s.Positive
		}
	}
	b.PointsBalance = b.PointsTotal
	b.LifetimePoints = max(previousLifetime, lifetime)
	return b
}

// SumEntries строит суммы по категориям из записей в памяти.
func SumEntries(entries []*Entry) []CategorySum {
	index := make(map[Category]int)
	var sums []CategorySum
	for _, e := range entries {
		i, ok := index[e.Category]
		if !ok {
			i = len(sums)
			index[e.Category] = i
			sums = append(sums, CategorySum{Category: e.Category})
		}
		sums[i].Net += e.Points
		if e.Points > 0 {
			sums[i].Positive += e.Points
		}
	}
	return sums
}
