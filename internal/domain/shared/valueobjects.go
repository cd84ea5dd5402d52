package shared

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UUID validation regex (simple version).
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsUUID reports whether s looks like a canonical UUID.
func IsUUID(s string) bool {
	return uuidRegex.MatchString(s)
}

// StudentID identifies a student. The roster is owned elsewhere, so any
// non-empty identifier is accepted.
type StudentID string

// IsValid checks that the id is non-blank.
func (s StudentID) IsValid() bool {
	return strings.TrimSpace(string(s)) != ""
}

// String returns the string representation.
func (s StudentID) String() string {
	return string(s)
}

// NewStudentID trims and validates a student id.
func NewStudentID(id string) (StudentID, error) {
	sid := StudentID(strings.TrimSpace(id))
	if !sid.IsValid() {
		return "", ErrInvalidStudentID
	}
	return sid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Level
// ═══════════════════════════════════════════════════════════════════════════

// PointsPerLevel is the platform leveling step.
const PointsPerLevel = 1000

// LevelFor derives the level from lifetime points.
func LevelFor(lifetimePoints int) int {
	if lifetimePoints <= 0 {
		return 0
	}
	return lifetimePoints / PointsPerLevel
}

// ═══════════════════════════════════════════════════════════════════════════
// Actor
// ═══════════════════════════════════════════════════════════════════════════

// Well-known actor roles.
const (
	RoleAdmin  = "admin"
	RoleCoach  = "coach"
	RoleSystem = "system"
)

// Actor is the identity a mutation is attributed to. The engine trusts
// whatever the caller supplies.
type Actor struct {
	ID    string
	Roles []string
}

// SystemActor is used by scheduled jobs.
func SystemActor(id string) Actor {
	if id == "" {
		id = "system"
	}
	return Actor{ID: id, Roles: []string{RoleSystem}}
}

// HasRole reports whether the actor carries role.
func (a Actor) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// IsZero reports whether no identity was supplied.
func (a Actor) IsZero() bool {
	return a.ID == ""
}

// OrDefault returns a, or fallback when a has no id.
func (a Actor) OrDefault(fallback Actor) Actor {
	if a.IsZero() {
		return fallback
	}
	return a
}

// ParseRoles splits a comma-separated role list.
func ParseRoles(s string) []string {
	var roles []string
	for _, part := range strings.Split(s, ",") {
		if r := strings.ToLower(strings.TrimSpace(part)); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// ═══════════════════════════════════════════════════════════════════════════
// Outcome
// ═══════════════════════════════════════════════════════════════════════════

// Outcome tags the result of an idempotent write.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeDryRun           Outcome = "dry_run"
)

// IsApplied reports whether the write changed state.
func (o Outcome) IsApplied() bool {
	return o == OutcomeApplied
}

// Err converts an already_processed outcome into ErrAlreadyProcessed for
// callers that prefer an error.
func (o Outcome) Err(domain, op string) error {
	if o == OutcomeAlreadyProcessed {
		return NewDomainError(domain, op, ErrAlreadyProcessed, "already processed")
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange Value Object
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange represents a half-open period [From, To). Zero bounds are open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsValid checks if the time range is valid.
func (t TimeRange) IsValid() bool {
	return t.From.IsZero() || t.To.IsZero() || !t.From.After(t.To)
}

// Contains checks if a time is within the range.
func (t TimeRange) Contains(tm time.Time) bool {
	if !t.From.IsZero() && tm.Before(t.From) {
		return false
	}
	if !t.To.IsZero() && !tm.Before(t.To) {
		return false
	}
	return true
}

// NewTimeRange creates a new TimeRange with validation.
func NewTimeRange(from, to time.Time) (TimeRange, error) {
	tr := TimeRange{From: from, To: to}
	if !tr.IsValid() {
		return TimeRange{}, NewDomainError("shared", "NewTimeRange", ErrInvalidInput, "'from' must be before 'to'")
	}
	return tr, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents limit/offset parameters.
type Pagination struct {
	Limit  int
	Offset int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Normalize clamps limit and offset into range.
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
