// Package circuit stops calling the process engine while it is failing.
// After enough consecutive failures, or a high failure rate, the breaker
// opens and calls fail fast with engine.ErrUnavailable until a probe
// succeeds.
package circuit

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents circuit breaker state.
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
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration.
type Config struct {
	FailureThreshold    int           // Consecutive failures before opening
	SuccessThreshold    int           // Successes needed in half-open to close
	HalfOpenRequests    int           // Max probes in half-open state
	OpenTimeout         time.Duration // Time to wait before half-open
	FailureRateWindow   time.Duration // Window for calculating failure rate
	MinRequestsInWindow int           // Min requests before the rate counts

	// OnStateChange, if set, is called after every transition while the
	// breaker lock is held; it must not call back into the breaker.
	OnStateChange func(from, to State)
}

// DefaultConfig returns default circuit breaker config.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    3,
		HalfOpenRequests:    3,
		OpenTimeout:         30 * time.Second,
		FailureRateWindow:   60 * time.Second,
		MinRequestsInWindow: 10,
	}
}

// Breaker is a circuit breaker implementation.
type Breaker struct {
	name   string
	config Config

	state           State
	failures        int
	successes       int
	requests        int
	lastFailure     time.Time
	lastStateChange time.Time

	// Sliding window for failure rate
	requestTimes []time.Time
	failureTimes []time.Time

	now func() time.Time
	mu  sync.Mutex
}

// NewBreaker creates a new circuit breaker.
func NewBreaker(name string, config Config) *Breaker {
	return newBreaker(name, config, time.Now)
}

func newBreaker(name string, config Config, now func() time.Time) *Breaker {
	return &Breaker{
		name:            name,
		config:          config,
		state:           StateClosed,
		lastStateChange: now(),
		now:             now,
	}
}

func (b *Breaker) Name() string {
	return b.name
}

// Allow checks if a request is allowed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Sub(b.lastStateChange) < b.config.OpenTimeout {
			return false
		}
		b.transitionTo(StateHalfOpen)
		b.requests++
		return true

	case StateHalfOpen:
		if b.requests < b.config.HalfOpenRequests {
			b.requests++
			return true
		}
		return false
	}

	return false
}

// Execute runs fn under the breaker. isFailure decides which errors count
// against the engine; errors it rejects are returned without being recorded
// as failures. A nil isFailure counts every error.
func (b *Breaker) Execute(fn func() error, isFailure func(error) bool) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil && (isFailure == nil || isFailure(err)) {
		b.RecordFailure()
		return err
	}

	b.RecordSuccess()
	return err
}

// RecordSuccess records a successful request.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requestTimes = append(b.requestTimes, b.now())
	b.cleanupWindows()

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure records a failed request.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.requestTimes = append(b.requestTimes, now)
	b.failureTimes = append(b.failureTimes, now)
	b.lastFailure = now
	b.cleanupWindows()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold || b.shouldOpenByRate() {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name            string
	State           State
	Failures        int
	TotalRequests   int
	FailureRate     float64
	LastFailure     time.Time
	LastStateChange time.Time
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cleanupWindows()

	return Snapshot{
		Name:            b.name,
		State:           b.state,
		Failures:        b.failures,
		TotalRequests:   len(b.requestTimes),
		FailureRate:     b.failureRate(),
		LastFailure:     b.lastFailure,
		LastStateChange: b.lastStateChange,
	}
}

func (b *Breaker) transitionTo(state State) {
	from := b.state
	b.state = state
	b.lastStateChange = b.now()
	b.failures = 0
	b.successes = 0
	b.requests = 0
	if state == StateClosed {
		b.requestTimes = b.requestTimes[:0]
		b.failureTimes = b.failureTimes[:0]
	}
	if b.config.OnStateChange != nil && from != state {
		b.config.OnStateChange(from, state)
	}
}

func (b *Breaker) cleanupWindows() {
	cutoff := b.now().Add(-b.config.FailureRateWindow)
	b.requestTimes = trimBefore(b.requestTimes, cutoff)
	b.failureTimes = trimBefore(b.failureTimes, cutoff)
}

// trimBefore drops the leading times not after cutoff. times is in
// ascending order.
func trimBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}

func (b *Breaker) shouldOpenByRate() bool {
	if len(b.requestTimes) < b.config.MinRequestsInWindow {
		return false
	}
	return b.failureRate() > 0.5
}

func (b *Breaker) failureRate() float64 {
	if len(b.requestTimes) == 0 {
		return 0
	}
	return float64(len(b.failureTimes)) / float64(len(b.requestTimes))
}
