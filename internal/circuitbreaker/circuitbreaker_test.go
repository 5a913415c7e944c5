package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

// fakeClock drives a breaker's time source in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	b := NewBreaker("test", cfg)
	clk := newFakeClock()
	b.now = clk.Now
	return b, clk
}

func TestBreaker_ClosedAllows(t *testing.T) {
	t.Parallel()

	b := NewBreaker("upstream", DefaultConfig())
	if !b.CanExecute() {
		t.Fatal("closed breaker should allow")
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensOnThreshold(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	// One short of the threshold keeps the breaker closed.
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed before threshold", b.State())
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open at threshold", b.State())
	}
	if b.CanExecute() {
		t.Error("open breaker should reject")
	}
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	// The run restarts: two more failures must not open the breaker.
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after interleaved success", b.State())
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: 30 * time.Second})

	b.RecordFailure()
	if b.CanExecute() {
		t.Fatal("open breaker should reject before timeout")
	}

	clk.Advance(29 * time.Second)
	if b.CanExecute() {
		t.Fatal("open breaker should reject just before timeout")
	}

	clk.Advance(time.Second)
	if !b.CanExecute() {
		t.Fatal("breaker should admit a probe after recovery timeout")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half_open", b.State())
	}
}

func TestBreaker_HalfOpenProbeBudget(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: time.Second, HalfOpenMaxCalls: 2})

	b.RecordFailure()
	clk.Advance(time.Second)

	if !b.CanExecute() {
		t.Fatal("first probe should be admitted")
	}
	if !b.CanExecute() {
		t.Fatal("second probe should be admitted")
	}
	if b.CanExecute() {
		t.Error("third probe should be rejected, budget exhausted")
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(Config{FailureThreshold: 2, RecoveryTimeout: time.Second})

	b.RecordFailure()
	b.RecordFailure()
	clk.Advance(time.Second)

	if !b.CanExecute() {
		t.Fatal("probe should be admitted")
	}
	b.RecordSuccess()

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probe", b.State())
	}
	if !b.CanExecute() {
		t.Error("closed breaker should allow")
	}

	// The failure run starts over after closing.
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after one failure", b.State())
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Second})

	b.RecordFailure()
	clk.Advance(10 * time.Second)

	if !b.CanExecute() {
		t.Fatal("probe should be admitted")
	}
	b.RecordFailure()

	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", b.State())
	}
	if b.CanExecute() {
		t.Error("reopened breaker should reject")
	}

	// The failed probe restarts the recovery window.
	clk.Advance(10 * time.Second)
	if !b.CanExecute() {
		t.Error("breaker should admit a probe after the second timeout")
	}
}

func TestBreaker_FailureWhileOpenExtendsWindow(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Second})

	b.RecordFailure()
	clk.Advance(9 * time.Second)

	// A straggler failure lands while open.
	b.RecordFailure()
	clk.Advance(9 * time.Second)

	if b.CanExecute() {
		t.Error("recovery window should restart from the latest failure")
	}

	clk.Advance(time.Second)
	if !b.CanExecute() {
		t.Error("probe should be admitted once the extended window elapses")
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", b.State())
	}
	if !b.CanExecute() {
		t.Error("reset breaker should allow")
	}

	s := b.Stats()
	if s.FailureCount != 0 {
		t.Errorf("FailureCount = %d, want 0 after reset", s.FailureCount)
	}
	if s.LastFailureTime != nil {
		t.Errorf("LastFailureTime = %v, want nil after reset", s.LastFailureTime)
	}
}

func TestBreaker_TransitionHook(t *testing.T) {
	t.Parallel()

	type change struct {
		name     string
		from, to State
	}
	var (
		mu      sync.Mutex
		changes []change
	)
	cfg := Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		TransitionHook: func(name string, from, to State) {
			mu.Lock()
			changes = append(changes, change{name, from, to})
			mu.Unlock()
		},
	}
	b, clk := newTestBreaker(cfg)

	b.RecordFailure()    // closed -> open
	clk.Advance(time.Second)
	b.CanExecute()       // open -> half_open
	b.RecordSuccess()    // half_open -> closed

	want := []change{
		{"test", StateClosed, StateOpen},
		{"test", StateOpen, StateHalfOpen},
		{"test", StateHalfOpen, StateClosed},
	}
	mu.Lock()
	defer mu.Unlock()
	if len(changes) != len(want) {
		t.Fatalf("transitions = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, changes[i], want[i])
		}
	}
}

func TestBreaker_Stats(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(Config{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second})

	s := b.Stats()
	if s.Name != "test" || s.State != "closed" {
		t.Errorf("Stats = %+v, want name=test state=closed", s)
	}
	if s.Config.FailureThreshold != 5 || s.Config.RecoveryTimeout != 30 {
		t.Errorf("Config = %+v, want threshold=5 recovery=30", s.Config)
	}
	if s.LastFailureTime != nil {
		t.Error("LastFailureTime should be nil before any failure")
	}

	b.RecordFailure()
	s = b.Stats()
	if s.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", s.FailureCount)
	}
	if s.LastFailureTime == nil {
		t.Error("LastFailureTime should be set after a failure")
	}
}

func TestBreaker_ConcurrentConsults(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: time.Second, HalfOpenMaxCalls: 1})

	b.RecordFailure()
	clk.Advance(time.Second)

	// Many goroutines race to probe; exactly one may pass.
	var (
		mu      sync.Mutex
		admitted int
		wg      sync.WaitGroup
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.CanExecute() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Errorf("admitted = %d, want exactly 1 probe", admitted)
	}
}
