// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET BALANCES QUERY
// Возвращает сохранённые балансы студента. Чтения идут через кэш, который
// сбрасывается обработчиком событий после каждого пересчёта.
// ══════════════════════════════════════════════════════════════════════════════

// GetBalancesQuery содержит параметры запроса.
type GetBalancesQuery struct {
	StudentID string
}

// BalancesDTO - балансы студента для ответа.
type BalancesDTO struct {
	StudentID      string `json:"student_id"`
	PointsTotal    int    `json:"points_total"`
	PointsBalance  int    `json:"points_balance"`
	LifetimePoints int    `json:"lifetime_points"`
	Level          int    `json:"level"`
	Cached         bool   `json:"-"`
}

// NewBalancesDTO собирает DTO из балансов.
func NewBalancesDTO(studentID string, b ledger.Balances) *BalancesDTO {
	return &BalancesDTO{
		StudentID:      studentID,
		PointsTotal:    b.PointsTotal,
		PointsBalance:  b.PointsBalance,
		LifetimePoints: b.LifetimePoints,
		Level:          b.Level(),
	}
}

// GetBalancesHandler обрабатывает GetBalancesQuery.
type GetBalancesHandler struct {
	students port.Store
	cache    port.BalanceCache
	log      *logger.Logger
}

// NewGetBalancesHandler создаёт обработчик. cache может быть nil.
func NewGetBalancesHandler(store port.Store, cache port.BalanceCache, log *logger.Logger) *GetBalancesHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetBalancesHandler{students: store, cache: cache, log: log}
}

// Handle возвращает балансы. Ошибки кэша считаются промахом.
func (h *GetBalancesHandler) Handle(ctx context.Context, q GetBalancesQuery) (*BalancesDTO, error) {
	id, err := shared.NewStudentID(q.StudentID)
	if err != nil {
		return nil, fmt.Errorf("get_balances: %w", err)
	}

	if h.cache != nil {
		b, ok, err := h.cache.Get(ctx, id.String())
		if err != nil {
			h.log.Warn("balance cache read failed", logger.StudentID(id.String()), logger.Err(err))
		}
		if ok && b != nil {
			dto := NewBalancesDTO(id.String(), *b)
			dto.Cached = true
			return dto, nil
		}
	}

	st, err := h.students.Repositories().Students.GetByID(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("get_balances: %w", err)
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, st.ID, st.Balances); err != nil {
			h.log.Warn("balance cache write failed", logger.StudentID(st.ID), logger.Err(err))
		}
	}
	return NewBalancesDTO(st.ID, st.Balances), nil
}
