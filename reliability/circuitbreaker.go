package reliability

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/synnergy/redisx/event"
)

// CBState is one of the three circuit-breaker states (spec.md §4.6).
type CBState int

const (
	Closed CBState = iota
	Open
	HalfOpen
)

func (s CBState) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// ErrCircuitOpen is returned by Allow/Execute while the breaker is Open
// or once a HalfOpen probe budget is exhausted.
var ErrCircuitOpen = fmt.Errorf("reliability: circuit open")

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold  int           // consecutive failures to trip Closed -> Open
	SuccessThreshold  int           // consecutive successes to trip HalfOpen -> Closed
	Timeout           time.Duration // Open -> HalfOpen after this elapses
	HalfOpenTimeout   time.Duration // bounds time in HalfOpen without a successful probe
	HalfOpenMaxProbes int           // concurrent probes allowed while HalfOpen; 0 means 1
	Clock             clock.Clock   // nil uses the real clock
	Dispatcher        *event.Dispatcher
}

// CircuitBreaker is a three-state breaker guarding calls to a flaky
// dependency, modeled on the rate/streak-based breaker in the pack's
// capture package but generalized to the failure-threshold/half-open
// probe contract spec.md §4.6 requires. All timestamps are drawn from an
// injected clock so state transitions are deterministic under test.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	cl  clock.Clock

	mu                   sync.Mutex
	state                CBState
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	halfOpenEnteredAt    time.Time
	probesInFlight       int
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cl := cfg.Clock
	if cl == nil {
		cl = clock.New()
	}
	if cfg.HalfOpenMaxProbes < 1 {
		cfg.HalfOpenMaxProbes = 1
	}
	return &CircuitBreaker{cfg: cfg, cl: cl}
}

// Allow reports whether a call may proceed right now, transitioning
// Open -> HalfOpen when cfg.Timeout has elapsed. Every Allow that
// returns nil must be paired with exactly one RecordSuccess or
// RecordFailure call.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return nil
	case Open:
		if cb.cl.Now().Sub(cb.openedAt) >= cb.cfg.Timeout {
			cb.transition(HalfOpen)
			cb.probesInFlight = 1
			return nil
		}
		return ErrCircuitOpen
	case HalfOpen:
		if cb.cfg.HalfOpenTimeout > 0 && cb.cl.Now().Sub(cb.halfOpenEnteredAt) >= cb.cfg.HalfOpenTimeout {
			cb.transition(Open)
			return ErrCircuitOpen
		}
		if cb.probesInFlight >= cb.cfg.HalfOpenMaxProbes {
			return ErrCircuitOpen
		}
		cb.probesInFlight++
		return nil
	}
	return nil
}

// RecordSuccess reports a successful call admitted by Allow.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.consecutiveFailures = 0
	case HalfOpen:
		cb.probesInFlight--
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.transition(Closed)
		}
	}
}

// RecordFailure reports a failed call admitted by Allow.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transition(Open)
		}
	case HalfOpen:
		cb.probesInFlight--
		cb.transition(Open)
	}
}

// State reports the current state.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition moves to s and resets the counters that belong to the
// state being entered. Caller must hold cb.mu.
func (cb *CircuitBreaker) transition(s CBState) {
	from := cb.state
	cb.state = s
	switch s {
	case Open:
		cb.openedAt = cb.cl.Now()
		cb.consecutiveSuccesses = 0
	case HalfOpen:
		cb.halfOpenEnteredAt = cb.cl.Now()
		cb.consecutiveSuccesses = 0
	case Closed:
		cb.consecutiveFailures = 0
		cb.consecutiveSuccesses = 0
		cb.probesInFlight = 0
	}
	if from == s {
		return
	}
	if cb.cfg.Dispatcher != nil {
		cb.cfg.Dispatcher.Publish(event.New(event.CircuitStateChanged, map[string]any{
			"from": from.String(),
			"to":   s.String(),
		}))
	}
}

// Execute runs fn if Allow admits the call, recording the outcome.
// Fallback, when non-nil, is invoked in place of fn whenever Allow
// rejects the call, per spec.md §4.6.
func (cb *CircuitBreaker) Execute(fn func() error, fallback func(error) error) error {
	if err := cb.Allow(); err != nil {
		if fallback != nil {
			return fallback(err)
		}
		return err
	}
	err := fn()
	if err != nil {
		cb.RecordFailure()
		if fallback != nil {
			return fallback(err)
		}
		return err
	}
	cb.RecordSuccess()
	return nil
}
