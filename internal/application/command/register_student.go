package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/internal/domain/student"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// RegisterStudentCommand creates the engine's row for a roster student.
type RegisterStudentCommand struct {
	StudentID   string
	DisplayName string
}

// RegisterStudentResult contains the stored student.
type RegisterStudentResult struct {
	Student *student.Student
	Outcome shared.Outcome
}

// RegisterStudentHandler handles RegisterStudentCommand.
type RegisterStudentHandler struct {
	deps Deps
}

// NewRegisterStudentHandler creates a new RegisterStudentHandler.
func NewRegisterStudentHandler(deps Deps) *RegisterStudentHandler {
	return &RegisterStudentHandler{deps: deps.withDefaults()}
}

// Handle creates the student, or returns the existing row as already_processed.
func (h *RegisterStudentHandler) Handle(ctx context.Context, cmd RegisterStudentCommand) (*RegisterStudentResult, error) {
	now := h.deps.Clock.Now()
	st, err := student.NewStudent(student.NewStudentParams{
		ID:          cmd.StudentID,
		DisplayName: cmd.DisplayName,
		Now:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("register_student: %w", err)
	}

	res := &RegisterStudentResult{Student: st, Outcome: shared.OutcomeApplied}
	err = h.deps.inTx(ctx, "register_student", func(ctx context.Context, repos port.Repositories, rec *shared.Recorder) error {
		err := repos.Students.Create(ctx, st)
		if shared.IsAlreadyExists(err) {
			existing, err := repos.Students.GetByID(ctx, st.ID)
			if err != nil {
				return err
			}
			res.Student = existing
			res.Outcome = shared.OutcomeAlreadyProcessed
			return nil
		}
		if err != nil {
			return err
		}
		rec.Record(shared.NewStudentRegisteredEvent(st.ID, st.DisplayName, now))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("register_student: %w", err)
	}

	if res.Outcome.IsApplied() {
		h.deps.Logger.Info("student registered", logger.StudentID(st.ID))
	}
	return res, nil
}
