package breaker

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// ErrOpen is returned by Execute while the circuit is open and no fallback
// was supplied. Callers should treat it as "upstream temporarily skipped",
// not as an upstream failure.
var ErrOpen = errors.New("circuit open")

// Options configures a Breaker. Zero values fall back to the defaults:
// 5 consecutive failures to open, 60s open period, 1 half-open trial.
type Options struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenRequests int
}

// Status is a point-in-time view of a breaker for observability.
// NextRetryAt is only non-nil while the breaker is open.
type Status struct {
	Name          string     `json:"name"`
	State         State      `json:"state"`
	Failures      int        `json:"failures"`
	LastFailureAt *time.Time `json:"lastFailureAt"`
	NextRetryAt   *time.Time `json:"nextRetryAt"`
}

// Breaker wraps calls to one unreliable external dependency with
// CLOSED/OPEN/HALF_OPEN failure isolation. State is in-memory only and
// resets on process restart. Safe for concurrent use.
type Breaker struct {
	name string
	opts Options

	mu               sync.Mutex
	state            State
	failures         int
	lastFailureAt    *time.Time
	openedAt         time.Time
	halfOpenAttempts int
}

// New creates a breaker named after the dependency it guards.
func New(name string, opts Options) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = 60 * time.Second
	}
	if opts.HalfOpenRequests <= 0 {
		opts.HalfOpenRequests = 1
	}
	return &Breaker{
		name:  name,
		opts:  opts,
		state: StateClosed,
	}
}

// shouldAttempt decides whether a call may proceed, applying the
// OPEN → HALF_OPEN transition once the reset timeout has elapsed.
// Must be called under the mutex.
func (b *Breaker) shouldAttempt(now time.Time) bool {
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) >= b.opts.ResetTimeout {
			b.state = StateHalfOpen
			b.halfOpenAttempts = 0
			log.Printf("[breaker] %s: OPEN -> HALF_OPEN", b.name)
			return true
		}
		return false
	default: // HALF_OPEN
		return b.halfOpenAttempts < b.opts.HalfOpenRequests
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
		b.halfOpenAttempts = 0
		log.Printf("[breaker] %s: HALF_OPEN -> CLOSED", b.name)
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) onFailure(err error, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureAt = &now

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = now
		log.Printf("[breaker] %s: HALF_OPEN -> OPEN (trial failed: %v)", b.name, err)
		return
	}

	if b.state == StateClosed && b.failures >= b.opts.FailureThreshold {
		b.state = StateOpen
		b.openedAt = now
		log.Printf("[breaker] %s: CLOSED -> OPEN (%d consecutive failures: %v)", b.name, b.failures, err)
	}
}

// Execute runs fn under the breaker. While open it returns ErrOpen without
// calling fn. A failed fn counts toward the threshold and its error is
// returned as-is.
func (b *Breaker) Execute(fn func() error) error {
	now := time.Now()

	b.mu.Lock()
	if !b.shouldAttempt(now) {
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	}
	if b.state == StateHalfOpen {
		b.halfOpenAttempts++
	}
	b.mu.Unlock()

	if err := fn(); err != nil {
		b.onFailure(err, time.Now())
		return err
	}
	b.onSuccess()
	return nil
}

// Do runs fn under the breaker and returns its value. If fallback is
// non-nil it is returned instead of an error, both when the circuit is
// open and when fn itself fails.
func Do[T any](b *Breaker, fn func() (T, error), fallback *T) (T, error) {
	var result T
	err := b.Execute(func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	if err != nil {
		if fallback != nil {
			return *fallback, nil
		}
		var zero T
		return zero, err
	}
	return result, nil
}

// Status reports the current breaker state.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	var nextRetryAt *time.Time
	if b.state == StateOpen {
		t := b.openedAt.Add(b.opts.ResetTimeout)
		nextRetryAt = &t
	}
	return Status{
		Name:          b.name,
		State:         b.state,
		Failures:      b.failures,
		LastFailureAt: b.lastFailureAt,
		NextRetryAt:   nextRetryAt,
	}
}

// Reset forces the breaker closed with a zeroed failure count. Operational
// override only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.lastFailureAt = nil
	b.openedAt = time.Time{}
	b.halfOpenAttempts = 0
}
