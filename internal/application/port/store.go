// Package port declares what the application layer needs from infrastructure:
// a transactional store, a balance cache, a job lock and a feature gate.
package port

import (
	"context"
	"time"

	"github.com/alem-hub/points-ledger/internal/domain/achievement"
	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/sprint"
	"github.com/alem-hub/points-ledger/internal/domain/student"
)

// Repositories groups the repositories bound to one connection or transaction.
type Repositories struct {
	Students     student.Repository
	Ledger       ledger.Repository
	Sprints      sprint.Repository
	Achievements achievement.Repository
}

// TxFunc runs inside a transaction. Returning an error rolls it back.
type TxFunc func(ctx context.Context, repos Repositories) error

// Store is the relational store behind the engine.
type Store interface {
	// Repositories returns repositories that run outside any transaction.
	Repositories() Repositories

	// WithinTx runs fn in one transaction and commits if fn returns nil.
	WithinTx(ctx context.Context, fn TxFunc) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// BalanceCache caches balance reads. Implementations must treat every
// failure as a miss; the store is the source of truth.
type BalanceCache interface {
	Get(ctx context.Context, studentID string) (*ledger.Balances, bool, error)
	Set(ctx context.Context, studentID string, b ledger.Balances) error
	Invalidate(ctx context.Context, studentID string) error
}

// Locker hands out best-effort distributed locks for batch jobs.
type Locker interface {
	// TryLock returns a release func when the lock was taken, or ok=false
	// when somebody else holds it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// FeatureGate answers feature-flag questions.
type FeatureGate interface {
	IsEnabled(feature string) bool
}

// Feature names checked by the application layer.
const (
	FeaturePenaltiesAutoCharge     = "penalties.auto_charge"
	FeatureAchievementsAutoAward   = "achievements.auto_award"
	FeatureBadgesRetroactiveAdjust = "badges.retroactive_adjust"
	FeatureHTTPRateLimit           = "http.rate_limit"
)

// AllowAll is a FeatureGate with every feature on.
type AllowAll struct{}

// IsEnabled implements FeatureGate.
func (AllowAll) IsEnabled(string) bool { return true }
