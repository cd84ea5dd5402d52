package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/sprint"
	"github.com/alem-hub/points-ledger/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SKILL SPRINT QUERY
// Возвращает спринт и его текущую стоимость по кривой затухания.
// ══════════════════════════════════════════════════════════════════════════════

// GetSkillSprintQuery содержит id спринта.
type GetSkillSprintQuery struct {
	AssignmentID string
}

// SkillSprintDTO - спринт для ответа.
type SkillSprintDTO struct {
	ID                           string     `json:"id"`
	StudentID                    string     `json:"student_id"`
	SourceLabel                  string     `json:"source_label"`
	AssignedAt                   time.Time  `json:"assigned_at"`
	DueAt                        time.Time  `json:"due_at"`
	RewardPoints                 int        `json:"reward_points"`
	PenaltyPointsPerDay          int        `json:"penalty_points_per_day"`
	RequestedPenaltyPointsPerDay int        `json:"requested_penalty_points_per_day"`
	ChargedDays                  int        `json:"charged_days"`
	LastPenaltyAt                *time.Time `json:"last_penalty_at,omitempty"`
	CompletedAt                  *time.Time `json:"completed_at,omitempty"`
	CompletedBy                  string     `json:"completed_by,omitempty"`
	AwardedPoints                int        `json:"awarded_points"`
	Enabled                      bool       `json:"enabled"`
	AssignedBy                   string     `json:"assigned_by,omitempty"`

	// CurrentValue - сколько очков даст завершение прямо сейчас.
	CurrentValue int `json:"current_value"`

	// Charges - списанные дни по возрастанию; заполняет только GetSkillSprint.
	Charges []ChargeDTO `json:"charges"`
}

// ChargeDTO - один списанный день.
type ChargeDTO struct {
	DayIndex      int       `json:"day_index"`
	LedgerEntryID string    `json:"ledger_entry_id,omitempty"`
	ChargedAt     time.Time `json:"charged_at"`
}

// NewSkillSprintDTO собирает DTO на момент now.
func NewSkillSprintDTO(a *sprint.Assignment, now time.Time) *SkillSprintDTO {
	return &SkillSprintDTO{
		ID:                           a.ID,
		StudentID:                    a.StudentID,
		SourceLabel:                  a.SourceLabel,
		AssignedAt:                   a.AssignedAt,
		DueAt:                        a.DueAt,
		RewardPoints:                 a.RewardPoints,
		PenaltyPointsPerDay:          a.PenaltyPointsPerDay,
		RequestedPenaltyPointsPerDay: a.RequestedPenaltyPointsPerDay,
		ChargedDays:                  a.ChargedDays,
		LastPenaltyAt:                a.LastPenaltyAt,
		CompletedAt:                  a.CompletedAt,
		CompletedBy:                  a.CompletedBy,
		AwardedPoints:                a.AwardedPoints,
		Enabled:                      a.Enabled,
		AssignedBy:                   a.AssignedBy,
		CurrentValue:                 a.CurrentValue(now),
		Charges:                      []ChargeDTO{},
	}
}

// GetSkillSprintHandler обрабатывает GetSkillSprintQuery.
type GetSkillSprintHandler struct {
	store port.Store
	clock timeutil.Clock
}

// NewGetSkillSprintHandler создаёт обработчик.
func NewGetSkillSprintHandler(store port.Store, clock timeutil.Clock) *GetSkillSprintHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &GetSkillSprintHandler{store: store, clock: clock}
}

// Handle возвращает спринт вместе со списанными днями.
func (h *GetSkillSprintHandler) Handle(ctx context.Context, q GetSkillSprintQuery) (*SkillSprintDTO, error) {
	repos := h.store.Repositories()
	a, err := repos.Sprints.GetByID(ctx, q.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("get_skill_sprint: %w", err)
	}
	charges, err := repos.Sprints.ListCharges(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("get_skill_sprint: %w", err)
	}

	dto := NewSkillSprintDTO(a, h.clock.Now())
	for _, c := range charges {
		dto.Charges = append(dto.Charges, ChargeDTO{
			DayIndex:      c.DayIndex,
			LedgerEntryID: c.LedgerEntryID,
			ChargedAt:     c.ChargedAt,
		})
	}
	return dto, nil
}
