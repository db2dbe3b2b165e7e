// Package breaker implements a consecutive-failure circuit breaker shared by
// the Redis stores and the HTTP market-data sources.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // Normal operation, requests pass through
	StateOpen     State = 1 // Circuit tripped, requests rejected immediately
	StateHalfOpen State = 2 // Testing, one trial request allowed through
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

// ErrOpen is returned when the circuit breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker implements a simple circuit breaker pattern.
// After maxFailures consecutive failures, the breaker opens and rejects all
// calls for resetTimeout. After the timeout, it enters half-open state and
// allows one trial call through. If the trial succeeds, the breaker closes;
// if it fails, it reopens.
type Breaker struct {
	name         string
	mu           sync.Mutex
	state        State
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
	probing      bool

	// Now is the clock; defaults to time.Now.
	Now func() time.Time

	// IsFailure decides whether an error counts toward tripping. By default
	// every error except context cancellation counts.
	IsFailure func(err error) bool

	// Callbacks (optional)
	OnStateChange func(name string, from, to State) // called on state transitions
}

// New creates a circuit breaker.
// maxFailures: consecutive failures before opening (e.g., 5)
// resetTimeout: time to wait before half-open trial (e.g., 30s)
func New(name string, maxFailures int, resetTimeout time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &Breaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		Now:          time.Now,
		IsFailure:    defaultIsFailure,
	}
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Name returns the breaker name used in logs and metrics.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn through the circuit breaker.
// Returns ErrOpen if the breaker is open and the timeout hasn't elapsed,
// or while another half-open trial is in flight.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.Now().Sub(b.lastFailure) > b.resetTimeout {
			b.transition(StateHalfOpen)
		} else {
			b.mu.Unlock()
			return ErrOpen
		}
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	halfOpen := b.state == StateHalfOpen
	if halfOpen {
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if halfOpen {
		b.probing = false
	}

	if err != nil && b.IsFailure(err) {
		b.failures++
		b.lastFailure = b.Now()

		if b.state == StateHalfOpen {
			// Trial failed: reopen
			b.transition(StateOpen)
		} else if b.failures >= b.maxFailures {
			b.transition(StateOpen)
		}
		return err
	}

	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
	b.failures = 0
	return err
}

// CurrentState returns the current circuit breaker state.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(b.name, from, to)
	}
}
