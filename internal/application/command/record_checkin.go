package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/internal/domain/student"
	"github.com/alem-hub/points-ledger/pkg/timeutil"
)

// RecordCheckinCommand records attendance for a student.
type RecordCheckinCommand struct {
	StudentID string

	// At defaults to now.
	At time.Time
}

// RecordCheckinResult reports the calendar day that was recorded.
type RecordCheckinResult struct {
	StudentID string
	Date      string
	Outcome   shared.Outcome
	Checkins  int
}

// RecordCheckinHandler handles RecordCheckinCommand.
type RecordCheckinHandler struct {
	deps     Deps
	location *time.Location
}

// NewRecordCheckinHandler creates a new RecordCheckinHandler. Calendar days are
// taken in loc (UTC when nil).
func NewRecordCheckinHandler(deps Deps, loc *time.Location) *RecordCheckinHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &RecordCheckinHandler{deps: deps.withDefaults(), location: loc}
}

// Handle inserts at most one check-in per student per calendar day.
func (h *RecordCheckinHandler) Handle(ctx context.Context, cmd RecordCheckinCommand) (*RecordCheckinResult, error) {
	id, err := shared.NewStudentID(cmd.StudentID)
	if err != nil {
		return nil, fmt.Errorf("record_checkin: %w", err)
	}

	at := cmd.At
	if at.IsZero() {
		at = h.deps.Clock.Now()
	}
	c := student.Checkin{
		StudentID:   id.String(),
		Date:        timeutil.CalendarDate(at, h.location),
		CheckedInAt: at,
	}

	res := &RecordCheckinResult{StudentID: c.StudentID, Date: c.Date, Outcome: shared.OutcomeAlreadyProcessed}
	err = h.deps.inTx(ctx, "record_checkin", func(ctx context.Context, repos port.Repositories, rec *shared.Recorder) error {
		if _, err := repos.Students.GetByID(ctx, c.StudentID); err != nil {
			return err
		}
		inserted, err := repos.Students.RecordCheckin(ctx, c)
		if err != nil {
			return err
		}
		if inserted {
			res.Outcome = shared.OutcomeApplied
			rec.Record(shared.NewCheckinRecordedEvent(c.StudentID, c.Date, at))
		}
		res.Checkins, err = repos.Students.CountCheckins(ctx, c.StudentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record_checkin: %w", err)
	}
	return res, nil
}
