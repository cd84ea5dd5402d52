// Package ledger содержит доменную модель журнала начислений.
// Журнал только дописывается; баланс студента выводится из него агрегацией.
package ledger

import (
	"strings"
	"time"

	"github.com/alem-hub/points-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATEGORIES
// ══════════════════════════════════════════════════════════════════════════════

// Category - тег записи журнала.
type Category string

const (
	CategorySkillComplete       Category = "skill_complete"
	CategoryClassAward          Category = "class_award"
	CategoryManualAdjustment    Category = "manual_adjustment"
	CategoryBadgeAward          Category = "badge_award"
	CategoryBadgeAdjustment     Category = "badge_adjustment"
	CategorySkillSprintPenalty  Category = "skill_sprint_penalty"
	CategorySkillSprintComplete Category = "skill_sprint_complete"
	CategoryRewardRedemption    Category = "reward_redemption"
	CategoryRewardHold          Category = "reward_hold"
	CategoryRewardHoldRelease   Category = "reward_hold_release"
)

// IsHold возвращает true для резервов под награды.
// Резервы уменьшают баланс, но не lifetime_points.
func (c Category) IsHold() bool {
	return c == CategoryRewardHold || c == CategoryRewardHoldRelease
}

// CountsTowardLifetime возвращает true, если положительные записи этой
// категории увеличивают lifetime_points.
func (c Category) CountsTowardLifetime() bool {
	return !c.IsHold() && c != CategoryRewardRedemption
}

// IsKnown сообщает, входит ли категория в стандартный набор.
// Неизвестные категории допустимы и считаются обычными.
func (c Category) IsKnown() bool {
	switch c {
	case CategorySkillComplete, CategoryClassAward, CategoryManualAdjustment,
		CategoryBadgeAward, CategoryBadgeAdjustment, CategorySkillSprintPenalty,
		CategorySkillSprintComplete, CategoryRewardRedemption,
		CategoryRewardHold, CategoryRewardHoldRelease:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление категории.
func (c Category) String() string {
	return string(c)
}

// Source types used by the engine's own writers.
const (
	SourceSkillSprint        = "skill_sprint"
	SourceSkillSprintPenalty = "skill_sprint_penalty"
	SourceBadge              = "badge"
	SourceBadgeAdjustment    = "badge_adjustment"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry - неизменяемая запись журнала.
type Entry struct {
	ID        string
	StudentID string

	// Points - знаковая дельта.
	Points   int
	Category Category
	Note     string

	// SourceType/SourceID - необязательный ключ корреляции для undo и проверок.
	SourceType string
	SourceID   string

	CreatedBy string
	CreatedAt time.Time
}

// NewEntryParams содержит параметры новой записи.
type NewEntryParams struct {
	ID         string
	StudentID  string
	Points     int
	Category   Category
	Note       string
	SourceType string
	SourceID   string
	CreatedBy  string
	CreatedAt  time.Time
}

// NewEntry создаёт запись. Бизнес-проверок нет: только id студента и категория.
func NewEntry(p NewEntryParams) (*Entry, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, shared.NewDomainError("ledger", "NewEntry", shared.ErrInvalidID, "entry id is required")
	}
	studentID, err := shared.NewStudentID(p.StudentID)
	if err != nil {
		return nil, err
	}
	category := Category(strings.TrimSpace(string(p.Category)))
	if category == "" {
		return nil, shared.ErrInvalidCategory
	}
	if p.CreatedAt.IsZero() {
		return nil, shared.NewDomainError("ledger", "NewEntry", shared.ErrEmptyValue, "created_at is required")
	}

	return &Entry{
		ID:         p.ID,
		StudentID:  studentID.String(),
		Points:     p.Points,
		Category:   category,
		Note:       strings.TrimSpace(p.Note),
		SourceType: strings.TrimSpace(p.SourceType),
		SourceID:   strings.TrimSpace(p.SourceID),
		CreatedBy:  strings.TrimSpace(p.CreatedBy),
		CreatedAt:  p.CreatedAt,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FILTER
// ══════════════════════════════════════════════════════════════════════════════

// Filter задаёт выборку записей. Пустые поля не ограничивают.
// Результат упорядочен по created_at, затем по id.
type Filter struct {
	StudentID  string
	Category   Category
	SourceType string
	SourceID   string
	Created    shared.TimeRange
	Page       shared.Pagination
}

// Validate проверяет фильтр.
func (f Filter) Validate() error {
	if !f.Created.IsValid() {
		return shared.ValidationError("ledger", "List", "created range is inverted")
	}
	return nil
}
