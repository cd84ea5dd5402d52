package ledger

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции над журналом.
type Repository interface {
	// Append сохраняет новую запись.
	Append(ctx context.Context, e *Entry) error

	// GetByID возвращает запись.
	// Возвращает ErrEntryNotFound, если записи нет.
	GetByID(ctx context.Context, id string) (*Entry, error)

	// List возвращает записи по фильтру, по created_at и id.
	List(ctx context.Context, f Filter) ([]*Entry, error)

	// Delete удаляет запись (undo).
	// Возвращает ErrEntryNotFound, если записи нет.
	Delete(ctx context.Context, id string) error

	// SumByCategory возвращает суммы по категориям для студента.
	SumByCategory(ctx context.Context, studentID string) ([]CategorySum, error)
}
