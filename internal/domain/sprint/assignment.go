// Package sprint содержит доменную модель Skill Sprint: задание с дедлайном,
// награда за которое убывает по дням, а просрочка штрафуется ежедневно.
package sprint

import (
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/timeutil"
)

// DefaultPenaltyCapPercent - потолок дневного штрафа в процентах от баланса.
const DefaultPenaltyCapPercent = 8

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: ASSIGNMENT
// ══════════════════════════════════════════════════════════════════════════════

// Assignment - назначенный студенту Skill Sprint.
type Assignment struct {
	ID          string
	StudentID   string
	SourceLabel string

	AssignedAt time.Time
	DueAt      time.Time

	// RewardPoints - начальная награда.
	RewardPoints int

	// PenaltyPointsPerDay - применённый штраф, ограниченный при назначении
	// и замороженный.
	PenaltyPointsPerDay int

	// RequestedPenaltyPointsPerDay - запрошенный штраф, для аудита.
	RequestedPenaltyPointsPerDay int

	// ChargedDays - сколько дней штрафа уже списано.
	ChargedDays   int
	LastPenaltyAt *time.Time

	CompletedAt   *time.Time
	CompletedBy   string
	AwardedPoints int

	Enabled    bool
	AssignedBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsCompleted возвращает true после завершения.
func (a *Assignment) IsCompleted() bool {
	return a.CompletedAt != nil
}

// IsTerminal возвращает true, если спринт больше не меняется.
func (a *Assignment) IsTerminal() bool {
	return a.IsCompleted() || !a.Enabled
}

// CurrentValue возвращает текущую стоимость награды.
func (a *Assignment) CurrentValue(now time.Time) int {
	if a.IsCompleted() {
		return a.AwardedPoints
	}
	return Decay(a.RewardPoints, a.AssignedAt, a.DueAt, now)
}

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY & VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// PenaltyCap возвращает floor(balance * percent / 100); 0 при balance <= 0.
func PenaltyCap(balance, percent int) int {
	if balance <= 0 || percent <= 0 {
		return 0
	}
	return balance * percent / 100
}

// NewAssignmentParams содержит параметры назначения.
type NewAssignmentParams struct {
	ID                  string
	StudentID           string
	SourceLabel         string
	DueAt               time.Time
	RewardPoints        int
	PenaltyPointsPerDay int
	AssignedBy          string

	// StudentBalance - points_balance студента в момент назначения.
	StudentBalance int

	// CapPercent - потолок штрафа; 0 означает DefaultPenaltyCapPercent.
	CapPercent int

	Now time.Time
}

// NewAssignment проверяет параметры и замораживает потолок штрафа.
func NewAssignment(p NewAssignmentParams) (*Assignment, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, shared.NewDomainError("sprint", "New", shared.ErrInvalidID, "assignment id is required")
	}
	studentID, err := shared.NewStudentID(p.StudentID)
	if err != nil {
		return nil, err
	}
	label := strings.TrimSpace(p.SourceLabel)
	if label == "" {
		return nil, shared.ErrEmptySourceLabel
	}
	if p.DueAt.IsZero() || !p.DueAt.After(p.Now) {
		return nil, shared.ErrInvalidDueDate
	}
	if p.RewardPoints < 0 {
		return nil, shared.NewDomainError("sprint", "New", shared.ErrNegativeValue, "reward points cannot be negative")
	}
	if p.PenaltyPointsPerDay < 0 {
		return nil, shared.NewDomainError("sprint", "New", shared.ErrNegativeValue, "penalty points cannot be negative")
	}

	capPercent := p.CapPercent
	if capPercent == 0 {
		capPercent = DefaultPenaltyCapPercent
	}
	applied := min(p.PenaltyPointsPerDay, PenaltyCap(p.StudentBalance, capPercent))

	return &Assignment{
		ID:                           p.ID,
		StudentID:                    studentID.String(),
		SourceLabel:                  label,
		AssignedAt:                   p.Now,
		DueAt:                        p.DueAt,
		RewardPoints:                 p.RewardPoints,
		PenaltyPointsPerDay:          applied,
		RequestedPenaltyPointsPerDay: p.PenaltyPointsPerDay,
		Enabled:                      true,
		AssignedBy:                   strings.TrimSpace(p.AssignedBy),
		CreatedAt:                    p.Now,
		UpdatedAt:                    p.Now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

// CheckCompletable возвращает ошибку, если спринт нельзя завершить.
// Повторное завершение ошибкой не считается: его обрабатывает вызывающий.
func (a *Assignment) CheckCompletable() error {
	if !a.Enabled {
		return shared.ErrAssignmentDisabled
	}
	return nil
}

// Complete отмечает спринт завершённым и возвращает начисленную награду.
func (a *Assignment) Complete(by string, now time.Time) int {
	reward := Decay(a.RewardPoints, a.AssignedAt, a.DueAt, now)
	completedAt := now
	a.CompletedAt = &completedAt
	a.CompletedBy = by
	a.AwardedPoints = reward
	a.UpdatedAt = now
	return reward
}

// ══════════════════════════════════════════════════════════════════════════════
// PENALTIES
// ══════════════════════════════════════════════════════════════════════════════

// Charge - запись о списанном дне штрафа. Пара (AssignmentID, DayIndex)
// уникальна в хранилище.
type Charge struct {
	AssignmentID  string
	DayIndex      int
	LedgerEntryID string // пусто, если штраф нулевой
	ChargedAt     time.Time
}

// ElapsedDays - полные дни с момента назначения.
func (a *Assignment) ElapsedDays(now time.Time) int {
	return timeutil.WholeDaysBetween(a.AssignedAt, now)
}

// DueForPenalty сообщает, входит ли спринт в рабочее множество штрафов.
func (a *Assignment) DueForPenalty(now time.Time) bool {
	if a.IsTerminal() {
		return false
	}
	return !timeutil.AddDays(a.AssignedAt, a.ChargedDays+1).After(now)
}

// PenaltyPlan возвращает индексы дней в (ChargedDays, ElapsedDays].
func (a *Assignment) PenaltyPlan(now time.Time) []int {
	if a.IsTerminal() {
		return nil
	}
	elapsed := a.ElapsedDays(now)
	if elapsed <= a.ChargedDays {
		return nil
	}
	days := make([]int, 0, elapsed-a.ChargedDays)
	for d := a.ChargedDays + 1; d <= elapsed; d++ {
		days = append(days, d)
	}
	return days
}

// PenaltySourceID - ключ корреляции записи штрафа за день d.
func (a *Assignment) PenaltySourceID(day int) string {
	return fmt.Sprintf("%s:%d", a.ID, day)
}

// PenaltyBoundary - момент, которым закрывается день d.
func (a *Assignment) PenaltyBoundary(day int) time.Time {
	return timeutil.AddDays(a.AssignedAt, day)
}

// ApplyCharge продвигает счётчик списанных дней.
func (a *Assignment) ApplyCharge(day int, now time.Time) {
	if day > a.ChargedDays {
		a.ChargedDays = day
		at := a.PenaltyBoundary(day)
		a.LastPenaltyAt = &at
	}
	a.UpdatedAt = now
}
