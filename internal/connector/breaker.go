package connector

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by Query while the circuit is open.
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerState is the circuit's current position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker is a per-connector circuit breaker. Consecutive failures past the
// threshold open the circuit; after the cooldown a single probe is let
// through half-open, and its outcome closes or re-opens the circuit.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	onOpen    func()
	onReset   func()
	now       func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
}

// NewBreaker creates a closed breaker. onOpen and onReset may be nil; they
// fire outside the lock.
func NewBreaker(threshold int, cooldown time.Duration, onOpen, onReset func()) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		onOpen:    onOpen,
		onReset:   onReset,
		now:       time.Now,
		state:     BreakerClosed,
	}
}

// Allow reports whether a call may proceed, moving open to half-open once
// the cooldown has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	default:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	}
}

// Success records a successful call, closing the circuit.
func (b *Breaker) Success() {
	b.mu.Lock()
	wasOpen := b.state != BreakerClosed
	b.state = BreakerClosed
	b.failures = 0
	b.mu.Unlock()
	if wasOpen && b.onReset != nil {
		b.onReset()
	}
}

// Failure records a failed call. A half-open probe failure re-opens
// immediately; closed accumulates toward the threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	var opened bool
	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = b.now()
		opened = true
	case BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
			opened = true
		}
	}
	b.mu.Unlock()
	if opened && b.onOpen != nil {
		b.onOpen()
	}
}

// Reset forces the circuit closed and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	wasOpen := b.state != BreakerClosed
	b.state = BreakerClosed
	b.failures = 0
	b.mu.Unlock()
	if wasOpen && b.onReset != nil {
		b.onReset()
	}
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
