// Package circuitbreaker shields the upstream proxy from cascade failure.
// A breaker opens after a run of consecutive failures, rejects requests
// while open, and admits a bounded number of probes after a recovery
// timeout. It short-circuits requests to a known-bad upstream, reducing
// failure latency from seconds (timeout + network) to nanoseconds.
package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all requests through.
	StateClosed State = iota
	// StateOpen rejects all requests.
	StateOpen
	// StateHalfOpen allows a bounded number of probe requests.
	StateHalfOpen
)

// String returns a human-readable state name.
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

// Config holds circuit breaker parameters.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	RecoveryTimeout  time.Duration // time in OPEN before admitting probes
	HalfOpenMaxCalls int           // probes admitted per half-open period

	// TransitionHook, when set, observes every state change. It runs
	// under the breaker mutex and must not call back into the breaker.
	TransitionHook func(name string, from, to State)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Breaker is a named circuit breaker state machine.
type Breaker struct {
	mu            sync.Mutex
	name          string
	cfg           Config
	state         State
	failures      int       // consecutive failures
	lastFailure   time.Time // monotonic reading; zero until first failure
	halfOpenCalls int       // probes admitted this half-open period
	now           func() time.Time
}

// NewBreaker creates a closed breaker with the given name and config.
func NewBreaker(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	s := b.state
	b.mu.Unlock()
	return s
}

// CanExecute reports whether a request may proceed. Consulting an open
// breaker past the recovery timeout transitions it to half-open; the
// consulting request is then admitted as a probe. Recovery timing relies
// on time.Time's monotonic reading, so wall clock adjustments cannot
// shorten the open window.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.cfg.RecoveryTimeout {
		slog.Info("circuit half-open, admitting probes", "name", b.name)
		b.transition(StateHalfOpen)
		b.halfOpenCalls = 0
	}

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.halfOpenCalls < b.cfg.HalfOpenMaxCalls {
			b.halfOpenCalls++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful request. A success while half-open
// closes the breaker; any success resets the consecutive failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		slog.Info("circuit closed after successful probe", "name", b.name)
		b.transition(StateClosed)
	}
	b.failures = 0
}

// RecordFailure records a failed request. The failure count only grows
// between successes; crossing the threshold while closed opens the
// breaker, and a failed probe reopens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateHalfOpen:
		slog.Warn("circuit reopened, probe failed", "name", b.name)
		b.transition(StateOpen)
		b.halfOpenCalls = 0
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			slog.Warn("circuit opened",
				"name", b.name,
				"consecutive_failures", b.failures,
			)
			b.transition(StateOpen)
		}
	}
}

// Reset forces the breaker closed and zeros all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transition(StateClosed)
	b.failures = 0
	b.lastFailure = time.Time{}
	b.halfOpenCalls = 0
}

// transition moves to a new state and fires the hook. Callers hold b.mu.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.cfg.TransitionHook != nil {
		b.cfg.TransitionHook(b.name, from, to)
	}
}

// Stats is a snapshot of one breaker for introspection endpoints.
type Stats struct {
	Name            string      `json:"name"`
	State           string      `json:"state"`
	FailureCount    int         `json:"failure_count"`
	LastFailureTime *time.Time  `json:"last_failure_time,omitempty"`
	Config          StatsConfig `json:"config"`
}

// StatsConfig is the configured thresholds section of Stats.
type StatsConfig struct {
	FailureThreshold int     `json:"failure_threshold"`
	RecoveryTimeout  float64 `json:"recovery_timeout"`
}

// Stats snapshots the breaker state.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Name:         b.name,
		State:        b.state.String(),
		FailureCount: b.failures,
		Config: StatsConfig{
			FailureThreshold: b.cfg.FailureThreshold,
			RecoveryTimeout:  b.cfg.RecoveryTimeout.Seconds(),
		},
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailureTime = &t
	}
	return s
}
