package ratelimit

import (
	"sync"
	"time"
)

// Composite stacks several named limiters. A request passes only when every
// constituent would allow it; permits are consumed from all of them together
// so a denial by one never drains the others.
type Composite struct {
	mu       sync.Mutex
	names    []string
	limiters map[string]Limiter
}

// NewComposite creates an empty composite limiter.
func NewComposite() *Composite {
	return &Composite{limiters: make(map[string]Limiter)}
}

// Add registers a named constituent. Re-adding a name replaces it.
func (c *Composite) Add(name string, l Limiter) *Composite {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.limiters[name]; !ok {
		c.names = append(c.names, name)
	}
	c.limiters[name] = l
	return c
}

// Allow consumes one permit from every constituent when all of them would
// allow the request, and none otherwise.
func (c *Composite) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, name := range c.names {
		if c.limiters[name].Wait() > 0 {
			return false
		}
	}
	for _, name := range c.names {
		c.limiters[name].Allow()
	}
	return true
}

// Wait reports the maximum wait among denying constituents.
func (c *Composite) Wait() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	var max time.Duration
	for _, name := range c.names {
		if w := c.limiters[name].Wait(); w > max {
			max = w
		}
	}
	return max
}

// Status returns the snapshot of the most constrained constituent, with
// per-constituent detail available via Statuses.
func (c *Composite) Status() Status {
	sts := c.Statuses()
	var out Status
	first := true
	for _, st := range sts {
		if first || st.Remaining < out.Remaining {
			out = st
			first = false
		}
	}
	return out
}

// Statuses returns a snapshot per named constituent.
func (c *Composite) Statuses() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Status, 0, len(c.names))
	for _, name := range c.names {
		st := c.limiters[name].Status()
		st.Name = name
		out = append(out, st)
	}
	return out
}
