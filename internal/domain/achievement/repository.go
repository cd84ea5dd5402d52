package achievement

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции над бейджами и выдачами.
type Repository interface {
	// CreateBadge сохраняет бейдж.
	CreateBadge(ctx context.Context, b *Badge) error

	// UpdateBadge перезаписывает бейдж.
	// Возвращает ErrBadgeNotFound, если бейджа нет.
	UpdateBadge(ctx context.Context, b *Badge) error

	// GetBadge возвращает бейдж.
	// Возвращает ErrBadgeNotFound, если бейджа нет.
	GetBadge(ctx context.Context, id string) (*Badge, error)

	// ListAutoAwardable возвращает включённые непрестижные бейджи.
	ListAutoAwardable(ctx context.Context) ([]*Badge, error)

	// FindCandidates возвращает студентов, которые удовлетворяют критерию
	// бейджа и ещё его не получили.
	FindCandidates(ctx context.Context, b *Badge) ([]string, error)

	// InsertAward добавляет выдачу; false, если она уже есть.
	InsertAward(ctx context.Context, a Award) (bool, error)

	// ListAwards возвращает все выдачи бейджа.
	ListAwards(ctx context.Context, badgeID string) ([]Award, error)

	// UpdateAwardPoints меняет points_awarded с previous на target;
	// false, если запись уже изменилась.
	UpdateAwardPoints(ctx context.Context, studentID, badgeID string, previous, target int) (bool, error)
}
