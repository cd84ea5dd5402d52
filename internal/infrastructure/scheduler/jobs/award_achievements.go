package jobs

import (
	"context"
	"sync/atomic"

	"github.com/alem-hub/points-ledger/internal/application/command"
	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD ACHIEVEMENTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// AchievementEvaluator runs one achievement pass.
type AchievementEvaluator interface {
	Handle(ctx context.Context, cmd command.RunAchievementPassCommand) (*command.RunAchievementPassResult, error)
}

// AwardAchievementsJob awards auto badges to newly eligible students.
type AwardAchievementsJob struct {
	evaluator AchievementEvaluator
	features  port.FeatureGate
	log       *logger.Logger

	last atomic.Pointer[command.RunAchievementPassResult]
}

// AwardAchievementsName is the job name and its lock key suffix.
const AwardAchievementsName = "award_achievements"

// NewAwardAchievementsJob creates the job. features may be nil.
func NewAwardAchievementsJob(e AchievementEvaluator, features port.FeatureGate, log *logger.Logger) *AwardAchievementsJob {
	features, log = defaults(features, log)
	return &AwardAchievementsJob{
		evaluator: e,
		features:  features,
		log:       log.With(logger.Job(AwardAchievementsName)),
	}
}

// Name implements scheduler.Job.
func (j *AwardAchievementsJob) Name() string { return AwardAchievementsName }

// Description implements scheduler.Job.
func (j *AwardAchievementsJob) Description() string {
	return "Awards enabled non-prestige badges to students who meet their criteria"
}

// Run implements scheduler.Job.
func (j *AwardAchievementsJob) Run(ctx context.Context) error {
	if !j.features.IsEnabled(port.FeatureAchievementsAutoAward) {
		j.log.Debug("feature disabled, skipping", logger.String("feature", port.FeatureAchievementsAutoAward))
		return nil
	}

	res, err := j.evaluator.Handle(ctx, command.RunAchievementPassCommand{})
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
func (j *AwardAchievementsJob) LastResult() *command.RunAchievementPassResult {
	return j.last.Load()
}
