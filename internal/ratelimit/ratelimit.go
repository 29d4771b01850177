// Package ratelimit provides interchangeable request-rate limiting
// primitives: token bucket, sliding window, and fixed window, plus a
// composite that stacks several under one decision.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Limiter is the shared contract for all algorithms. Allow consumes one
// permit when available. Wait estimates how long until a request would be
// allowed; zero means a request would pass right now. Status returns a
// point-in-time snapshot.
type Limiter interface {
	Allow() bool
	Wait() time.Duration
	Status() Status
}

// Status is a snapshot of a limiter's state.
type Status struct {
	Name      string        `json:"name,omitempty"`
	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"reset_in"`
}

// TokenBucket allows bursts up to capacity and refills at a steady rate.
// Refill is computed lazily from elapsed time on each check.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refill     float64 // tokens added per period
	period     time.Duration
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a bucket holding up to capacity tokens, refilled at
// refill tokens per period. The bucket starts full.
func NewTokenBucket(capacity, refill int, period time.Duration) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refill <= 0 {
		refill = capacity
	}
	if period <= 0 {
		period = time.Second
	}
	b := &TokenBucket{
		capacity: float64(capacity),
		tokens:   float64(capacity),
		refill:   float64(refill),
		period:   period,
		now:      time.Now,
	}
	b.lastRefill = b.now()
	return b
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed.Seconds() / b.period.Seconds() * b.refill
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// Allow consumes one token if available.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Wait estimates the time until one token becomes available.
func (b *TokenBucket) Wait() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= 1 {
		return 0
	}
	deficit := 1 - b.tokens
	secs := deficit / b.refill * b.period.Seconds()
	return time.Duration(secs * float64(time.Second))
}

// Status reports remaining tokens and the time until the next whole token
// is refilled. A full bucket resets in zero.
func (b *TokenBucket) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	st := Status{
		Limit:     int(b.capacity),
		Remaining: int(b.tokens),
	}
	if b.tokens < b.capacity {
		deficit := math.Floor(b.tokens) + 1 - b.tokens
		secs := deficit / b.refill * b.period.Seconds()
		st.ResetIn = time.Duration(secs * float64(time.Second))
	}
	return st
}

// SlidingWindow allows at most limit requests within any trailing window.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

// NewSlidingWindow creates a sliding-window limiter.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &SlidingWindow{limit: limit, window: window, now: time.Now}
}

func (s *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.stamps) && !s.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.stamps = append(s.stamps[:0], s.stamps[i:]...)
	}
}

// Allow records the request timestamp if under the limit.
func (s *SlidingWindow) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.pruneLocked(now)
	if len(s.stamps) < s.limit {
		s.stamps = append(s.stamps, now)
		return true
	}
	return false
}

// Wait estimates when the oldest in-window timestamp falls out.
func (s *SlidingWindow) Wait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.pruneLocked(now)
	if len(s.stamps) < s.limit {
		return 0
	}
	return s.stamps[0].Add(s.window).Sub(now)
}

// Status reports remaining capacity in the current trailing window.
func (s *SlidingWindow) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.pruneLocked(now)
	st := Status{Limit: s.limit, Remaining: s.limit - len(s.stamps)}
	if len(s.stamps) > 0 {
		st.ResetIn = s.stamps[0].Add(s.window).Sub(now)
	}
	return st
}

// FixedWindow allows at most limit requests per aligned window. The counter
// resets when the integer window index advances.
type FixedWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	index  int64
	count  int
	now    func() time.Time
}

// NewFixedWindow creates a fixed-window limiter.
func NewFixedWindow(limit int, window time.Duration) *FixedWindow {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &FixedWindow{limit: limit, window: window, now: time.Now}
}

func (f *FixedWindow) rollLocked(now time.Time) {
	idx := now.UnixNano() / int64(f.window)
	if idx != f.index {
		f.index = idx
		f.count = 0
	}
}

// Allow increments the current window counter if under the limit.
func (f *FixedWindow) Allow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	f.rollLocked(now)
	if f.count < f.limit {
		f.count++
		return true
	}
	return false
}

// Wait estimates the time until the current window rolls over.
func (f *FixedWindow) Wait() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	f.rollLocked(now)
	if f.count < f.limit {
		return 0
	}
	next := (f.index + 1) * int64(f.window)
	return time.Duration(next - now.UnixNano())
}

// Status reports remaining capacity and time to the next window.
func (f *FixedWindow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	f.rollLocked(now)
	next := (f.index + 1) * int64(f.window)
	return Status{
		Limit:     f.limit,
		Remaining: f.limit - f.count,
		ResetIn:   time.Duration(next - now.UnixNano()),
	}
}
