package student

import (
	"strings"
	"time"

	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: STUDENT
// ══════════════════════════════════════════════════════════════════════════════

// Student - строка студента с производными балансами. Ростер живёт во
// внешней системе, поэтому ID принимается как есть, без проверки формата.
type Student struct {
	ID          string
	DisplayName string // по умолчанию равно ID

	// Balances меняются только пересчётом из журнала.
	Balances ledger.Balances

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Level возвращает уровень студента.
func (s *Student) Level() int {
	return s.Balances.Level()
}

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY & VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// NewStudentParams содержит параметры для создания студента.
type NewStudentParams struct {
	ID          string
	DisplayName string
	Now         time.Time
}

// NewStudent создаёт студента с нулевыми балансами.
func NewStudent(p NewStudentParams) (*Student, error) {
	id, err := shared.NewStudentID(p.ID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(p.DisplayName)
	if len(name) > 100 {
		return nil, shared.ValidationError("student", "New", "display name must be at most 100 chars")
	}
	if name == "" {
		name = id.String()
	}

	return &Student{
		ID:          id.String(),
		DisplayName: name,
		CreatedAt:   p.Now,
		UpdatedAt:   p.Now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECKINS
// ══════════════════════════════════════════════════════════════════════════════

// Checkin - отметка посещения. Одна на студента за календарный день.
type Checkin struct {
	StudentID   string
	Date        string // YYYY-MM-DD
	CheckedInAt time.Time
}
