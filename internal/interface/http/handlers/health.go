// Package handlers holds the /health aggregation served by the HTTP server.
package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// CheckTimeout bounds every individual check.
const CheckTimeout = 5 * time.Second

// HealthChecker is what the /health route depends on.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
	AddCheck(name string, check HealthCheckFunc)
}

// HealthCheckFunc returns nil when the dependency is usable.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the /health response body.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is one dependency's outcome.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type namedCheck struct {
	name string
	fn   HealthCheckFunc
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE
// ══════════════════════════════════════════════════════════════════════════════

// CompositeHealthChecker runs its checks in parallel. The service is healthy
// only when every check passes; failures are listed in registration order.
type CompositeHealthChecker struct {
	version string
	started time.Time

	mu     sync.Mutex
	checks []namedCheck
}

// NewCompositeHealthChecker reports version alongside the checks.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{version: version, started: time.Now()}
}

// AddCheck registers a check. Re-using a name replaces the earlier check.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks[i].fn = check
			return
		}
	}
	c.checks = append(c.checks, namedCheck{name: name, fn: check})
}

// Check runs every registered check.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.Lock()
	checks := append([]namedCheck(nil), c.checks...)
	c.mu.Unlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, nc := range checks {
		g.Go(func() error {
			results[i] = run(ctx, nc.fn)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Healthy:   true,
		Message:   "all checks passed",
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	var failed []string
	for i, nc := range checks {
		status.Checks[nc.name] = results[i]
		if !results[i].Healthy {
			failed = append(failed, nc.name)
		}
	}
	if len(failed) > 0 {
		status.Healthy = false
		status.Message = "failing checks: " + strings.Join(failed, ", ")
	}
	return status
}

func run(ctx context.Context, fn HealthCheckFunc) (res CheckResult) {
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = CheckResult{Message: fmt.Sprintf("panic: %v", p)}
		}
		res.Duration = time.Since(start).Round(time.Millisecond).String()
	}()

	if err := fn(ctx); err != nil {
		return CheckResult{Message: err.Error()}
	}
	return CheckResult{Healthy: true, Message: "OK"}
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// Pinger covers the store and the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck adapts a Pinger.
func NewPingCheck(p Pinger) HealthCheckFunc { return p.Ping }

// RunningChecker covers the scheduler.
type RunningChecker interface {
	IsRunning() bool
}

// NewRunningCheck fails once the component has stopped.
func NewRunningCheck(name string, rc RunningChecker) HealthCheckFunc {
	return func(context.Context) error {
		if rc.IsRunning() {
			return nil
		}
		return fmt.Errorf("%s is not running", name)
	}
}
