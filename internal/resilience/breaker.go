package resilience

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
	StateForcedOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateForcedOpen:
		return "FORCED_OPEN"
	}
	return "UNKNOWN"
}

// BreakerSettings parameterize one breaker instance.
type BreakerSettings struct {
	FailureRateThreshold  float64       // Percent of recorded calls, 0-100
	SlowCallDuration      time.Duration // Calls at or above this count as slow
	SlowCallRateThreshold float64       // Percent of recorded calls, 0-100
	OpenStateWait         time.Duration // Hold in Open before probing
	HalfOpenCalls         int           // Probe budget in HalfOpen
	MinCalls              int           // Calls recorded before thresholds apply
	WindowSize            int           // Count-based sliding window
}

type outcome struct {
	failure bool
	slow    bool
}

// Breaker is a count-based sliding-window circuit breaker. One instance
// guards the broker upstream; all endpoint classes share it.
type Breaker struct {
	name string
	cfg  BreakerSettings
	now  func() time.Time

	mu       sync.Mutex
	state    State
	openedAt time.Time

	// Closed-state window. next is the slot the next outcome lands in.
	window   []outcome
	next     int
	count    int
	failures int
	slow     int

	// HalfOpen probe bookkeeping.
	probesStarted  int
	probesDone     int
	probeFailures  int
	probeSlowCalls int

	rejected    uint64
	transitions uint64
}

// NewBreaker builds a breaker named name. now defaults to time.Now.
func NewBreaker(name string, cfg BreakerSettings, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	if cfg.WindowSize < 1 {
		cfg.WindowSize = 1
	}
	if cfg.MinCalls < 1 {
		cfg.MinCalls = 1
	}
	if cfg.HalfOpenCalls < 1 {
		cfg.HalfOpenCalls = 1
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		now:    now,
		window: make([]outcome, cfg.WindowSize),
	}
}

// Allow asks for permission to place one call. On success it returns a done
// callback that must be invoked exactly once with the call's error and
// elapsed time. On rejection it returns a *BreakerError.
func (b *Breaker) Allow() (done func(err error, elapsed time.Duration), rejectErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateForcedOpen:
		b.rejected++
		return nil, &BreakerError{Name: b.name, State: StateForcedOpen}
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenStateWait {
			b.rejected++
			return nil, &BreakerError{Name: b.name, State: StateOpen}
		}
		b.toHalfOpenLocked()
	}

	if b.state == StateHalfOpen {
		if b.probesStarted >= b.cfg.HalfOpenCalls {
			b.rejected++
			return nil, &BreakerError{Name: b.name, State: StateHalfOpen}
		}
		b.probesStarted++
		return b.doneFunc(true), nil
	}

	return b.doneFunc(false), nil
}

func (b *Breaker) doneFunc(probe bool) func(error, time.Duration) {
	var once sync.Once
	return func(err error, elapsed time.Duration) {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.record(err != nil, elapsed >= b.cfg.SlowCallDuration, probe)
		})
	}
}

// record ingests one completed call. Outcomes from a state the breaker has
// since left are discarded.
func (b *Breaker) record(failure, slow, probe bool) {
	if probe {
		if b.state != StateHalfOpen {
			return
		}
		b.probesDone++
		if failure {
			b.probeFailures++
		}
		if slow {
			b.probeSlowCalls++
		}
		if b.probesDone < b.cfg.HalfOpenCalls {
			return
		}
		failRate := percent(b.probeFailures, b.probesDone)
		slowRate := percent(b.probeSlowCalls, b.probesDone)
		if failRate >= b.cfg.FailureRateThreshold || slowRate >= b.cfg.SlowCallRateThreshold {
			b.toOpenLocked()
		} else {
			b.toClosedLocked()
		}
		return
	}

	if b.state != StateClosed {
		return
	}
	if b.count == len(b.window) {
		evicted := b.window[b.next]
		if evicted.failure {
			b.failures--
		}
		if evicted.slow {
			b.slow--
		}
	} else {
		b.count++
	}
	b.window[b.next] = outcome{failure: failure, slow: slow}
	b.next = (b.next + 1) % len(b.window)
	if failure {
		b.failures++
	}
	if slow {
		b.slow++
	}

	if b.count < b.cfg.MinCalls {
		return
	}
	if percent(b.failures, b.count) >= b.cfg.FailureRateThreshold ||
		percent(b.slow, b.count) >= b.cfg.SlowCallRateThreshold {
		b.toOpenLocked()
	}
}

func (b *Breaker) toOpenLocked() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.transitions++
}

func (b *Breaker) toHalfOpenLocked() {
	b.state = StateHalfOpen
	b.probesStarted = 0
	b.probesDone = 0
	b.probeFailures = 0
	b.probeSlowCalls = 0
	b.transitions++
}

func (b *Breaker) toClosedLocked() {
	b.state = StateClosed
	b.next = 0
	b.count = 0
	b.failures = 0
	b.slow = 0
	b.transitions++
}

// ForceOpen pins the breaker open until ClearForced. Operator control only.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateForcedOpen {
		b.state = StateForcedOpen
		b.transitions++
	}
}

// ClearForced returns a forced-open breaker to Closed with a fresh window.
func (b *Breaker) ClearForced() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateForcedOpen {
		b.toClosedLocked()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerStats is a point-in-time observability snapshot.
type BreakerStats struct {
	Name        string
	State       string
	Calls       int
	Failures    int
	SlowCalls   int
	FailureRate float64
	SlowRate    float64
	Rejected    uint64
	Transitions uint64
}

// Snapshot returns current counters. Rates are zero below MinCalls.
func (b *Breaker) Snapshot() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := BreakerStats{
		Name:        b.name,
		State:       b.state.String(),
		Calls:       b.count,
		Failures:    b.failures,
		SlowCalls:   b.slow,
		Rejected:    b.rejected,
		Transitions: b.transitions,
	}
	if b.count >= b.cfg.MinCalls {
		s.FailureRate = percent(b.failures, b.count)
		s.SlowRate = percent(b.slow, b.count)
	}
	return s
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) * 100 / float64(total)
}
