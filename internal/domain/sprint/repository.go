package sprint

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции над спринтами и списаниями.
type Repository interface {
	// Create сохраняет новый спринт.
	Create(ctx context.Context, a *Assignment) error

	// GetByID возвращает спринт.
	// Возвращает ErrAssignmentNotFound, если спринт не найден.
	GetByID(ctx context.Context, id string) (*Assignment, error)

	// ListDueForPenalty возвращает рабочее множество: включённые, незавершённые
	// и assigned_at + (charged_days + 1) дней <= now. Пустой studentID - все.
	ListDueForPenalty(ctx context.Context, now time.Time, studentID string) ([]*Assignment, error)

	// InsertCharge добавляет списание; false, если день уже списан.
	InsertCharge(ctx context.Context, c Charge) (bool, error)

	// ListCharges возвращает списания спринта по возрастанию дня.
	ListCharges(ctx context.Context, assignmentID string) ([]Charge, error)

	// AdvanceCharged выставляет charged_days = max(charged_days, day)
	// и last_penalty_at.
	AdvanceCharged(ctx context.Context, id string, day int, lastPenaltyAt, now time.Time) error

	// MarkCompleted завершает спринт, только если completed_at ещё пуст.
	MarkCompleted(ctx context.Context, a *Assignment) (bool, error)

	// Disable выключает спринт; false, если он уже выключен.
	Disable(ctx context.Context, id string, now time.Time) (bool, error)
}
