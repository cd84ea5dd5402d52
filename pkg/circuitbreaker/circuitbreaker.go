// Package circuitbreaker stops calling an optional dependency once it keeps
// failing, and lets a single probe through after a cooldown. The balance
// cache uses it so a dead Redis costs one database read per request instead
// of a dial timeout.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned without calling fn while the breaker is open or
// while a half-open probe is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configure a Breaker. Zero values take the defaults noted below.
type Settings struct {
	Name string

	// Trip is the number of consecutive failures that opens the breaker (5).
	Trip int

	// Cooldown is how long the breaker stays open before probing (30s).
	Cooldown time.Duration

	// Probes is the number of successful probes that close it again (1).
	Probes int

	// IsFailure decides which errors count. By default every error except a
	// cancelled caller context does.
	IsFailure func(error) bool

	// OnStateChange runs under the breaker's lock; keep it short.
	OnStateChange func(name string, from, to State)

	// Now is the clock, for tests.
	Now func() time.Time
}

// Breaker is safe for concurrent use.
type Breaker struct {
	s Settings

	mu        sync.Mutex
	state     State
	failures  int // consecutive, while closed
	successes int // consecutive probes, while half-open
	openedAt  time.Time
	probing   bool
}

// New creates a closed Breaker.
func New(s Settings) *Breaker {
	if s.Trip <= 0 {
		s.Trip = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.Probes <= 0 {
		s.Probes = 1
	}
	if s.IsFailure == nil {
		s.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Breaker{s: s}
}

// RedisBreaker trips after three failures and probes again after ten
// seconds. Being wrong about Redis is cheap: a miss is one database read.
func RedisBreaker(name string, onStateChange func(name string, from, to State)) *Breaker {
	return New(Settings{
		Name:          name,
		Trip:          3,
		Cooldown:      10 * time.Second,
		OnStateChange: onStateChange,
	})
}

// Execute calls fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// Call is Execute for functions that return a value.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var v T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var err error
		v, err = fn(ctx)
		return err
	})
	return v, err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.s.Now().Sub(b.openedAt) < b.s.Cooldown {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil && b.s.IsFailure(err)

	switch b.state {
	case StateClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.s.Trip {
			b.open()
		}
	case StateHalfOpen:
		b.probing = false
		if failed {
			b.open()
			return
		}
		b.successes++
		if b.successes >= b.s.Probes {
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) open() {
	b.openedAt = b.s.Now()
	b.transition(StateOpen)
}

// transition resets the counters. Callers hold b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	b.probing = false
	if from != to && b.s.OnStateChange != nil {
		b.s.OnStateChange(b.s.Name, from, to)
	}
}

// State reports the current state. An open breaker whose cooldown has passed
// still reports open until the next call probes.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns Settings.Name.
func (b *Breaker) Name() string { return b.s.Name }
