package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Events are published after the owning transaction commits.
const (
	// Student events
	EventStudentRegistered EventType = "student.registered"
	EventCheckinRecorded   EventType = "student.checkin_recorded"

	// Ledger events
	EventEntryAppended      EventType = "ledger.entry_appended"
	EventEntryDeleted       EventType = "ledger.entry_deleted"
	EventBalancesRecomputed EventType = "ledger.balances_recomputed"

	// Sprint events
	EventSprintAssigned  EventType = "sprint.assigned"
	EventSprintCompleted EventType = "sprint.completed"
	EventSprintDisabled  EventType = "sprint.disabled"
	EventPenaltyCharged  EventType = "sprint.penalty_charged"

	// Achievement events
	EventBadgeAwarded  EventType = "achievement.badge_awarded"
	EventBadgeAdjusted EventType = "achievement.badge_adjusted"
	EventBadgeDefined  EventType = "achievement.badge_defined"

	// System events
	EventJobCompleted EventType = "system.job_completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped at the given time.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Student Events
// ═══════════════════════════════════════════════════════════════════════════

// StudentRegisteredEvent is emitted when a student row is created.
type StudentRegisteredEvent struct {
	BaseEvent
	DisplayName string `json:"display_name"`
}

// Payload implements Event interface.
func (e StudentRegisteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"display_name": e.DisplayName,
	}
}

// NewStudentRegisteredEvent creates a new StudentRegisteredEvent.
func NewStudentRegisteredEvent(studentID, displayName string, at time.Time) StudentRegisteredEvent {
	return StudentRegisteredEvent{
		BaseEvent:   NewBaseEvent(EventStudentRegistered, studentID, at),
		DisplayName: displayName,
	}
}

// CheckinRecordedEvent is emitted for the first check-in of a calendar day.
type CheckinRecordedEvent struct {
	BaseEvent
	Date string `json:"date"`
}

// Payload implements Event interface.
func (e CheckinRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"date": e.Date}
}

// NewCheckinRecordedEvent creates a new CheckinRecordedEvent.
func NewCheckinRecordedEvent(studentID, date string, at time.Time) CheckinRecordedEvent {
	return CheckinRecordedEvent{
		BaseEvent: NewBaseEvent(EventCheckinRecorded, studentID, at),
		Date:      date,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Events
// ═══════════════════════════════════════════════════════════════════════════

// EntryAppendedEvent is emitted when a ledger entry is written.
type EntryAppendedEvent struct {
	BaseEvent
	EntryID  string `json:"entry_id"`
	Points   int    `json:"points"`
	Category string `json:"category"`
}

// Payload implements Event interface.
func (e EntryAppendedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"entry_id": e.EntryID,
		"points":   e.Points,
		"category": e.Category,
	}
}

// NewEntryAppendedEvent creates a new EntryAppendedEvent.
func NewEntryAppendedEvent(studentID, entryID string, points int, category string, at time.Time) EntryAppendedEvent {
	return EntryAppendedEvent{
		BaseEvent: NewBaseEvent(EventEntryAppended, studentID, at),
		EntryID:   entryID,
		Points:    points,
		Category:  category,
	}
}

// EntryDeletedEvent is emitted when a ledger entry is undone.
type EntryDeletedEvent struct {
	BaseEvent
	EntryID string `json:"entry_id"`
	Points  int    `json:"points"`
}

// Payload implements Event interface.
func (e EntryDeletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"entry_id": e.EntryID,
		"points":   e.Points,
	}
}

// NewEntryDeletedEvent creates a new EntryDeletedEvent.
func NewEntryDeletedEvent(studentID, entryID string, points int, at time.Time) EntryDeletedEvent {
	return EntryDeletedEvent{
		BaseEvent: NewBaseEvent(EventEntryDeleted, studentID, at),
		EntryID:   entryID,
		Points:    points,
	}
}

// BalancesRecomputedEvent carries the freshly stored balance triple.
type BalancesRecomputedEvent struct {
	BaseEvent
	PointsTotal    int `json:"points_total"`
	PointsBalance  int `json:"points_balance"`
	LifetimePoints int `json:"lifetime_points"`
	Level          int `json:"level"`
}

// Payload implements Event interface.
func (e BalancesRecomputedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"points_total":    e.PointsTotal,
		"points_balance":  e.PointsBalance,
		"lifetime_points": e.LifetimePoints,
		"level":           e.Level,
	}
}

// NewBalancesRecomputedEvent creates a new BalancesRecomputedEvent.
func NewBalancesRecomputedEvent(studentID string, total, balance, lifetime, level int, at time.Time) BalancesRecomputedEvent {
	return BalancesRecomputedEvent{
		BaseEvent:      NewBaseEvent(EventBalancesRecomputed, studentID, at),
		PointsTotal:    total,
		PointsBalance:  balance,
		LifetimePoints: lifetime,
		Level:          level,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Sprint Events
// ═══════════════════════════════════════════════════════════════════════════

// SprintAssignedEvent is emitted when a skill sprint is assigned.
type SprintAssignedEvent struct {
	BaseEvent
	AssignmentID     string    `json:"assignment_id"`
	DueAt            time.Time `json:"due_at"`
	RewardPoints     int       `json:"reward_points"`
	PenaltyPerDay    int       `json:"penalty_points_per_day"`
	RequestedPenalty int       `json:"requested_penalty_points_per_day"`
}

// Payload implements Event interface.
func (e SprintAssignedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"assignment_id":                    e.AssignmentID,
		"due_at":                           e.DueAt.Format(time.RFC3339),
		"reward_points":                    e.RewardPoints,
		"penalty_points_per_day":           e.PenaltyPerDay,
		"requested_penalty_points_per_day": e.RequestedPenalty,
	}
}

// NewSprintAssignedEvent creates a new SprintAssignedEvent.
func NewSprintAssignedEvent(studentID, assignmentID string, dueAt time.Time, reward, penalty, requested int, at time.Time) SprintAssignedEvent {
	return SprintAssignedEvent{
		BaseEvent:        NewBaseEvent(EventSprintAssigned, studentID, at),
		AssignmentID:     assignmentID,
		DueAt:            dueAt,
		RewardPoints:     reward,
		PenaltyPerDay:    penalty,
		RequestedPenalty: requested,
	}
}

// SprintCompletedEvent is emitted when a skill sprint is completed.
type SprintCompletedEvent struct {
	BaseEvent
	AssignmentID  string `json:"assignment_id"`
	AwardedPoints int    `json:"awarded_points"`
	CompletedBy   string `json:"completed_by"`
}

// Payload implements Event interface.
func (e SprintCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"assignment_id":  e.AssignmentID,
		"awarded_points": e.AwardedPoints,
		"completed_by":   e.CompletedBy,
	}
}

// NewSprintCompletedEvent creates a new SprintCompletedEvent.
func NewSprintCompletedEvent(studentID, assignmentID string, awarded int, completedBy string, at time.Time) SprintCompletedEvent {
	return SprintCompletedEvent{
		BaseEvent:     NewBaseEvent(EventSprintCompleted, studentID, at),
		AssignmentID:  assignmentID,
		AwardedPoints: awarded,
		CompletedBy:   completedBy,
	}
}

// SprintDisabledEvent is emitted when a skill sprint is switched off.
type SprintDisabledEvent struct {
	BaseEvent
	AssignmentID string `json:"assignment_id"`
	DisabledBy   string `json:"disabled_by"`
}

// Payload implements Event interface.
func (e SprintDisabledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"assignment_id": e.AssignmentID,
		"disabled_by":   e.DisabledBy,
	}
}

// NewSprintDisabledEvent creates a new SprintDisabledEvent.
func NewSprintDisabledEvent(studentID, assignmentID, actor string, at time.Time) SprintDisabledEvent {
	return SprintDisabledEvent{
		BaseEvent:    NewBaseEvent(EventSprintDisabled, studentID, at),
		AssignmentID: assignmentID,
		DisabledBy:   actor,
	}
}

// PenaltyChargedEvent is emitted once per charged day.
type PenaltyChargedEvent struct {
	BaseEvent
	AssignmentID string `json:"assignment_id"`
	DayIndex     int    `json:"day_index"`
	Points       int    `json:"points"`
}

// Payload implements Event interface.
func (e PenaltyChargedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"assignment_id": e.AssignmentID,
		"day_index":     e.DayIndex,
		"points":        e.Points,
	}
}

// NewPenaltyChargedEvent creates a new PenaltyChargedEvent.
func NewPenaltyChargedEvent(studentID, assignmentID string, day, points int, at time.Time) PenaltyChargedEvent {
	return PenaltyChargedEvent{
		BaseEvent:    NewBaseEvent(EventPenaltyCharged, studentID, at),
		AssignmentID: assignmentID,
		DayIndex:     day,
		Points:       points,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// BadgeAwardedEvent is emitted when a badge award row is inserted.
type BadgeAwardedEvent struct {
	BaseEvent
	BadgeID   string `json:"badge_id"`
	BadgeName string `json:"badge_name"`
	Points    int    `json:"points"`
	Auto      bool   `json:"auto"`
}

// Payload implements Event interface.
func (e BadgeAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"badge_id":   e.BadgeID,
		"badge_name": e.BadgeName,
		"points":     e.Points,
		"auto":       e.Auto,
	}
}

// NewBadgeAwardedEvent creates a new BadgeAwardedEvent.
func NewBadgeAwardedEvent(studentID, badgeID, badgeName string, points int, auto bool, at time.Time) BadgeAwardedEvent {
	return BadgeAwardedEvent{
		BaseEvent: NewBaseEvent(EventBadgeAwarded, studentID, at),
		BadgeID:   badgeID,
		BadgeName: badgeName,
		Points:    points,
		Auto:      auto,
	}
}

// BadgeAdjustedEvent is emitted when a retroactive adjustment lands.
type BadgeAdjustedEvent struct {
	BaseEvent
	BadgeID  string `json:"badge_id"`
	Previous int    `json:"previous"`
	Target   int    `json:"target"`
	Delta    int    `json:"delta"`
}

// Payload implements Event interface.
func (e BadgeAdjustedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"badge_id": e.BadgeID,
		"previous": e.Previous,
		"target":   e.Target,
		"delta":    e.Delta,
	}
}

// NewBadgeAdjustedEvent creates a new BadgeAdjustedEvent.
func NewBadgeAdjustedEvent(studentID, badgeID string, previous, target int, at time.Time) BadgeAdjustedEvent {
	return BadgeAdjustedEvent{
		BaseEvent: NewBaseEvent(EventBadgeAdjusted, studentID, at),
		BadgeID:   badgeID,
		Previous:  previous,
		Target:    target,
		Delta:     target - previous,
	}
}

// BadgeDefinedEvent is emitted when a badge is created or updated.
type BadgeDefinedEvent struct {
	BaseEvent
	Name     string `json:"name"`
	Criteria string `json:"criteria"`
}

// Payload implements Event interface.
func (e BadgeDefinedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"name":     e.Name,
		"criteria": e.Criteria,
	}
}

// NewBadgeDefinedEvent creates a new BadgeDefinedEvent.
func NewBadgeDefinedEvent(badgeID, name, criteria string, at time.Time) BadgeDefinedEvent {
	return BadgeDefinedEvent{
		BaseEvent: NewBaseEvent(EventBadgeDefined, badgeID, at),
		Name:      name,
		Criteria:  criteria,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// System Events
// ═══════════════════════════════════════════════════════════════════════════

// JobCompletedEvent is emitted after a batch job pass.
type JobCompletedEvent struct {
	BaseEvent
	Job      string        `json:"job"`
	Applied  int           `json:"applied"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e JobCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"job":              e.Job,
		"applied":          e.Applied,
		"errors":           e.Errors,
		"duration":         e.Duration.String(),
		"duration_seconds": e.Duration.Seconds(),
	}
}

// NewJobCompletedEvent creates a new JobCompletedEvent.
func NewJobCompletedEvent(job string, applied, errs int, d time.Duration, at time.Time) JobCompletedEvent {
	return JobCompletedEvent{
		BaseEvent: NewBaseEvent(EventJobCompleted, job, at),
		Job:       job,
		Applied:   applied,
		Errors:    errs,
		Duration:  d,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// Recorder collects events raised inside a transaction so they can be
// published only after it commits.
type Recorder struct {
	events []Event
}

// Record appends an event.
func (r *Recorder) Record(e Event) {
	r.events = append(r.events, e)
}

// Events returns the recorded events in order.
func (r *Recorder) Events() []Event {
	return r.events
}

// Reset drops everything recorded so far. Used when a transaction is retried.
func (r *Recorder) Reset() {
	r.events = r.events[:0]
}

// PublishAll publishes recorded events, returning the first error.
// Remaining events are still attempted.
func (r *Recorder) PublishAll(p EventPublisher) error {
	if p == nil {
		return nil
	}
	var first error
	for _, e := range r.events {
		if err := p.Publish(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
