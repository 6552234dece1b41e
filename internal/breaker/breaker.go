// Package breaker provides named three-state circuit breakers for flaky
// outbound calls. Breakers are owned by a Registry wired at startup, never
// package globals.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
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
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
	DefaultMonitoringPeriod = 300 * time.Second
)

// Config holds breaker thresholds. Zero fields take the defaults.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	MonitoringPeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.MonitoringPeriod <= 0 {
		c.MonitoringPeriod = DefaultMonitoringPeriod
	}
	return c
}

// Snapshot is a consistent view of one breaker's state.
type Snapshot struct {
	Name            string
	State           State
	FailureCount    int
	LastFailureTime time.Time
}

// Breaker isolates failures of one named dependency. Closed executes calls
// and counts failures; at FailureThreshold it opens and fails fast until
// RecoveryTimeout has passed, then admits a single half-open probe. A probe
// success closes the breaker and clears its counters; a probe failure
// reopens it and the probe's own error propagates unchanged.
type Breaker struct {
	name string
	cfg  Config

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	probing         bool

	now func() time.Time
}

func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name: name,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
	}
}

func (b *Breaker) Name() string { return b.name }

// Do runs fn under the breaker. Open-state fast fails return a
// CIRCUIT_BREAKER error; every other failure is fn's own, counted but
// unchanged.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(probe, err)
	return err
}

// Call runs a value-returning fn under b.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (b *Breaker) acquire() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) > b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			b.probing = true
			return true, nil
		}
		return false, b.fastFail()
	default: // StateHalfOpen
		if b.probing {
			return false, b.fastFail()
		}
		b.probing = true
		return true, nil
	}
}

func (b *Breaker) fastFail() error {
	return domain.NewCircuitBreakerError(
		"CIRCUIT_OPEN",
		fmt.Sprintf("breaker %q is open", b.name),
		nil,
	)
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if err == nil {
		if probe {
			b.state = StateClosed
			b.failureCount = 0
			b.lastFailureTime = time.Time{}
			b.probing = false
		} else if b.state == StateClosed && b.failureCount > 0 &&
			now.Sub(b.lastFailureTime) > b.cfg.MonitoringPeriod {
			b.failureCount = 0
		}
		return
	}

	b.failureCount++
	b.lastFailureTime = now
	if probe {
		b.state = StateOpen
		b.probing = false
		return
	}
	if b.state == StateClosed && b.failureCount >= b.cfg.FailureThreshold {
		b.state = StateOpen
	}
}

// Snapshot returns a consistent view of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:            b.name,
		State:           b.state,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
	}
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
	b.probing = false
}
