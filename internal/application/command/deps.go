// Package command contains write operations (CQRS - Commands).
//
// Every command that touches the ledger appends its entries and recomputes the
// student's balances inside one store transaction. Domain events raised while
// the transaction runs are published only after it commits.
package command

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/logger"
	"github.com/alem-hub/points-ledger/pkg/timeutil"
)

// Deps are the collaborators shared by all command handlers.
type Deps struct {
	Store     port.Store
	Publisher shared.EventPublisher
	Clock     timeutil.Clock
	Logger    *logger.Logger
	Features  port.FeatureGate

	// Locker is optional. Batch passes take a job lock when it is set.
	Locker port.Locker

	// NewID generates entity ids. Defaults to random UUIDs.
	NewID func() string
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Features == nil {
		d.Features = port.AllowAll{}
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return d
}

// txFunc is a unit of work that may record events.
type txFunc func(ctx context.Context, repos port.Repositories, rec *shared.Recorder) error

// inTx runs fn in a transaction and publishes what it recorded after commit.
// Publish failures are logged; the write already happened.
func (d Deps) inTx(ctx context.Context, op string, fn txFunc) error {
	var rec shared.Recorder
	err := d.Store.WithinTx(ctx, func(ctx context.Context, repos port.Repositories) error {
		rec.Reset()
		return fn(ctx, repos, &rec)
	})
	if err != nil {
		return err
	}
	if err := rec.PublishAll(d.Publisher); err != nil {
		d.Logger.Warn("failed to publish events",
			logger.Operation(op),
			logger.Int("events", len(rec.Events())),
			logger.Err(err),
		)
	}
	return nil
}

// jobLockTTL bounds how long a crashed instance can block a batch pass.
const jobLockTTL = 5 * time.Minute

// withJobLock runs fn under lock:job:<name>. It reports false without
// running fn when another instance holds the lock. Lock backend failures are
// logged and fn runs anyway; storage uniqueness still protects the writes.
func (d Deps) withJobLock(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error) {
	if d.Locker == nil {
		return true, fn(ctx)
	}

	release, ok, err := d.Locker.TryLock(ctx, "job:"+name, jobLockTTL)
	if err != nil {
		d.Logger.Warn("job lock unavailable, running unlocked", logger.Job(name), logger.Err(err))
		return true, fn(ctx)
	}
	if !ok {
		d.Logger.Info("job lock held elsewhere, skipping", logger.Job(name))
		return false, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			d.Logger.Warn("failed to release job lock", logger.Job(name), logger.Err(err))
		}
	}()
	return true, fn(ctx)
}

// publish sends one event outside any transaction.
func (d Deps) publish(e shared.Event) {
	if d.Publisher == nil {
		return
	}
	if err := d.Publisher.Publish(e); err != nil {
		d.Logger.Warn("failed to publish event", logger.String("event", string(e.EventType())), logger.Err(err))
	}
}
