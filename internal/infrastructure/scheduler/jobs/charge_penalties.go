package jobs

import (
	"context"
	"sync/atomic"

	"github.com/alem-hub/points-ledger/internal/application/command"
	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHARGE PENALTIES JOB
// ══════════════════════════════════════════════════════════════════════════════

// PenaltyProcessor runs one penalty pass.
type PenaltyProcessor interface {
	Handle(ctx context.Context, cmd command.ProcessPenaltiesCommand) (*command.ProcessPenaltiesResult, error)
}

// ChargePenaltiesJob charges every overdue sprint day that has not been
// charged yet. Running it more often than daily is safe.
type ChargePenaltiesJob struct {
	processor PenaltyProcessor
	features  port.FeatureGate
	log       *logger.Logger

	last atomic.Pointer[command.ProcessPenaltiesResult]
}

// NewChargePenaltiesJob creates the job. features may be nil.
func NewChargePenaltiesJob(p PenaltyProcessor, features port.FeatureGate, log *logger.Logger) *ChargePenaltiesJob {
	features, log = defaults(features, log)
	return &ChargePenaltiesJob{
		processor: p,
		features:  features,
		log:       log.With(logger.Job(ChargePenaltiesName)),
	}
}

// ChargePenaltiesName is the job name and its lock key suffix.
const ChargePenaltiesName = "charge_penalties"

// Name implements scheduler.Job.
func (j *ChargePenaltiesJob) Name() string { return ChargePenaltiesName }

// Description implements scheduler.Job.
func (j *ChargePenaltiesJob) Description() string {
	return "Charges one penalty per overdue day on open skill sprints"
}

// Run implements scheduler.Job.
func (j *ChargePenaltiesJob) Run(ctx context.Context) error {
	if !j.features.IsEnabled(port.FeaturePenaltiesAutoCharge) {
		j.log.Debug("feature disabled, skipping", logger.String("feature", port.FeaturePenaltiesAutoCharge))
		return nil
	}

	res, err := j.processor.Handle(ctx, command.ProcessPenaltiesCommand{})
	if res != nil {
		j.last.Store(res)
	}
	if err != nil {
		return err
	}
	if res.Skipped {
		return nil
	}
	return itemsFailed(res.Errors)
}

// LastResult returns the summary of the last pass, or nil.
func (j *ChargePenaltiesJob) LastResult() *command.ProcessPenaltiesResult {
	return j.last.Load()
}
