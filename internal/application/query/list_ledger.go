package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST LEDGER QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ListLedgerQuery содержит фильтр журнала.
type ListLedgerQuery struct {
	StudentID  string
	Category   string
	SourceType string
	SourceID   string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// EntryDTO - запись журнала для ответа.
type EntryDTO struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	Points     int       `json:"points"`
	Category   string    `json:"category"`
	Note       string    `json:"note,omitempty"`
	SourceType string    `json:"source_type,omitempty"`
	SourceID   string    `json:"source_id,omitempty"`
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListLedgerResult - страница записей.
type ListLedgerResult struct {
	Entries []EntryDTO `json:"entries"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
}

// ListLedgerHandler обрабатывает ListLedgerQuery.
type ListLedgerHandler struct {
	store port.Store
}

// NewListLedgerHandler создаёт обработчик.
func NewListLedgerHandler(store port.Store) *ListLedgerHandler {
	return &ListLedgerHandler{store: store}
}

// Handle возвращает записи по фильтру в порядке created_at, id.
func (h *ListLedgerHandler) Handle(ctx context.Context, q ListLedgerQuery) (*ListLedgerResult, error) {
	created, err := shared.NewTimeRange(q.From, q.To)
	if err != nil {
		return nil, fmt.Errorf("list_ledger: %w", err)
	}
	page := shared.Pagination{Limit: q.Limit, Offset: q.Offset}.Normalize()

	f := ledger.Filter{
		StudentID:  q.StudentID,
		Category:   ledger.Category(q.Category),
		SourceType: q.SourceType,
		SourceID:   q.SourceID,
		Created:    created,
		Page:       page,
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("list_ledger: %w", err)
	}

	entries, err := h.store.Repositories().Ledger.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list_ledger: %w", err)
	}

	res := &ListLedgerResult{Entries: make([]EntryDTO, 0, len(entries)), Limit: page.Limit, Offset: page.Offset}
	for _, e := range entries {
		res.Entries = append(res.Entries, EntryDTO{
			ID:         e.ID,
			StudentID:  e.StudentID,
			Points:     e.Points,
			Category:   e.Category.String(),
			Note:       e.Note,
			SourceType: e.SourceType,
			SourceID:   e.SourceID,
			CreatedBy:  e.CreatedBy,
			CreatedAt:  e.CreatedAt,
		})
	}
	return res, nil
}
