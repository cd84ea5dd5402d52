package config

import (
	"fmt"
	"hash/fnv"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
)

// FeatureFlags manages runtime toggles for the engine's automatic and
// destructive operations. It implements port.FeatureGate.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
	now      func() time.Time
}

var _ port.FeatureGate = (*FeatureFlags)(nil)

// Feature represents a single feature flag.
type Feature struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`

	// RolloutPercent (0-100) applies to per-subject checks. Subjects are
	// bucketed by a hash of their id, so a subject keeps its bucket.
	RolloutPercent int `json:"rollout_percent"`

	// Time-based activation.
	EnabledFrom  *time.Time `json:"enabled_from,omitempty"`
	EnabledUntil *time.Time `json:"enabled_until,omitempty"`
}

// LoadFeatureFlags builds the flag set from defaults, then the [features]
// table of the config file, then FEATURE_* environment variables.
//
// A file value is true, false, a rollout percent, or a table with
// "rollout", "from" and "until" keys for a time-boxed feature:
//
//	[features]
//	"penalties.auto_charge" = false
//	"http.rate_limit" = { rollout = 50, from = 2024-09-01T00:00:00Z }
func LoadFeatureFlags(file map[string]any) (*FeatureFlags, error) {
	ff := NewFeatureFlags()
	for name, raw := range file {
		f, ok := ff.features[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFeatureNotFound, name)
		}
		if err := f.apply(raw); err != nil {
			return nil, fmt.Errorf("features.%s: %w", name, err)
		}
	}
	ff.loadFromEnvironment()
	return ff, nil
}

func (f *Feature) apply(raw any) error {
	switch v := raw.(type) {
	case bool:
		f.setPercent(boolPercent(v))
	case int64:
		if v < 0 || v > 100 {
			return ErrInvalidRolloutPercent
		}
		f.setPercent(int(v))
	case map[string]any:
		for key, val := range v {
			var err error
			switch key {
			case "rollout":
				err = f.apply(val)
			case "from":
				f.EnabledFrom, err = asTime(key, val)
			case "until":
				f.EnabledUntil, err = asTime(key, val)
			default:
				err = fmt.Errorf("unknown key %q", key)
			}
			if err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("expected bool, percent or table, got %T", raw)
	}
	return nil
}

func asTime(key string, v any) (*time.Time, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("%s: expected a datetime, got %T", key, v)
	}
	return &t, nil
}

// NewFeatureFlags returns the default flag set.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features: make(map[string]*Feature),
		now:      time.Now,
	}
	ff.initializeDefaults()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	for _, f := range []Feature{
		{
			Name:        port.FeaturePenaltiesAutoCharge,
			Description: "Scheduled penalty charging for overdue skill sprints",
			Enabled:     true,
		},
		{
			Name:        port.FeatureAchievementsAutoAward,
			Description: "Scheduled achievement passes",
			Enabled:     true,
		},
		{
			Name:        port.FeatureBadgesRetroactiveAdjust,
			Description: "Confirmed retroactive badge point adjustments",
			Enabled:     true,
		},
		{
			Name:        port.FeatureHTTPRateLimit,
			Description: "Per-client HTTP rate limiting",
			Enabled:     true,
		},
	} {
		f.RolloutPercent = boolPercent(f.Enabled)
		ff.features[f.Name] = &f
	}
}

// loadFromEnvironment applies FEATURE_<NAME>=true|false|<percent>.
// Example: FEATURE_PENALTIES_AUTO_CHARGE=false
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.setPercent(boolPercent(b))
			continue
		}
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.setPercent(p)
		}
	}
}

// featureNameToEnvKey converts a feature name to its environment key.
// "penalties.auto_charge" -> "FEATURE_PENALTIES_AUTO_CHARGE"
func featureNameToEnvKey(name string) string {
	return "FEATURE_" + strings.ReplaceAll(strings.ToUpper(name), ".", "_")
}

func boolPercent(b bool) int {
	if b {
		return 100
	}
	return 0
}

func (f *Feature) setPercent(p int) {
	f.RolloutPercent = p
	f.Enabled = p > 0
}

// IsEnabled reports whether a feature is on. It implements port.FeatureGate.
// Unknown features are off.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	f, ok := ff.active(name)
	return ok && f.RolloutPercent > 0
}

// IsEnabledFor reports whether a feature is on for one subject (an actor or
// a client address), honouring partial rollouts.
func (ff *FeatureFlags) IsEnabledFor(name, subject string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	f, ok := ff.active(name)
	if !ok {
		return false
	}
	if f.RolloutPercent >= 100 || subject == "" {
		return f.RolloutPercent > 0
	}
	return inRollout(name, subject, f.RolloutPercent)
}

// active returns the feature if it is enabled and inside its time window.
// Callers hold ff.mu.
func (ff *FeatureFlags) active(name string) (*Feature, bool) {
	f, ok := ff.features[name]
	if !ok || !f.Enabled {
		return nil, false
	}
	now := ff.now()
	if f.EnabledFrom != nil && now.Before(*f.EnabledFrom) {
		return nil, false
	}
	if f.EnabledUntil != nil && now.After(*f.EnabledUntil) {
		return nil, false
	}
	return f, true
}

// inRollout buckets subject into 0-99 with a hash stable per feature.
func inRollout(name, subject string, percent int) bool {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte(subject))
	return int(h.Sum32()%100) < percent
}

// SetRolloutPercent changes a feature live. Zero turns it off.
func (ff *FeatureFlags) SetRolloutPercent(name string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[name]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}
	f.setPercent(percent)
	return nil
}

// SetWindow limits a feature to [from, until]. Nil bounds are open.
func (ff *FeatureFlags) SetWindow(name string, from, until *time.Time) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[name]
	if !ok {
		return ErrFeatureNotFound
	}
	f.EnabledFrom = from
	f.EnabledUntil = until
	return nil
}

// GetAllFeatures returns copies of all features, sorted by name.
func (ff *FeatureFlags) GetAllFeatures() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]Feature, 0, len(ff.features))
	for _, name := range slices.Sorted(maps.Keys(ff.features)) {
		out = append(out, *ff.features[name])
	}
	return out
}

// Both errors carry shared kinds, so the HTTP layer maps them to 404 and 400.
var (
	ErrFeatureNotFound       = shared.NewDomainError("features", "Lookup", shared.ErrNotFound, "feature not found")
	ErrInvalidRolloutPercent = shared.NewDomainError("features", "Set", shared.ErrValueOutOfRange, "rollout percent must be 0-100")
)
