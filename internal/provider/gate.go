package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate serializes requests to a backend and enforces a minimum interval
// between consecutive admissions. Waiters are admitted in the order
// they arrived. A nil *Gate admits everything immediately, so callers
// can hold one unconditionally.
//
// Azure OpenAI embedding deployments on low-rate tiers reject bursts
// even inside the nominal quota, and Gemini's embedding endpoint
// requires spacing between batch calls; both are paced through a Gate.
type Gate struct {
	mu     sync.Mutex
	held   bool
	queue  []chan struct{}
	limit  *rate.Limiter
	closed bool
}

// NewGate builds a gate with the given minimum spacing between
// admissions. A zero or negative interval disables pacing but keeps the
// single-holder serialization.
func NewGate(interval time.Duration) *Gate {
	var lim *rate.Limiter
	if interval > 0 {
		lim = rate.NewLimiter(rate.Every(interval), 1)
	} else {
		lim = rate.NewLimiter(rate.Inf, 1)
	}
	return &Gate{limit: lim}
}

// Acquire blocks until the caller holds the gate and the minimum
// interval since the previous admission has elapsed. The caller must
// Release exactly once afterwards.
func (g *Gate) Acquire(ctx context.Context) error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	if g.held || len(g.queue) > 0 {
		ch := make(chan struct{})
		g.queue = append(g.queue, ch)
		g.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			g.abandon(ch)
			return ctx.Err()
		}
	} else {
		g.held = true
		g.mu.Unlock()
	}

	if err := g.limit.Wait(ctx); err != nil {
		g.Release()
		return err
	}
	return nil
}

// Release hands the gate to the oldest waiter, or marks it free.
func (g *Gate) Release() {
	if g == nil {
		return
	}
	g.mu.Lock()
	if len(g.queue) > 0 {
		ch := g.queue[0]
		g.queue = g.queue[1:]
		close(ch)
	} else {
		g.held = false
	}
	g.mu.Unlock()
}

// abandon removes a cancelled waiter from the queue. If the token was
// already handed over the waiter forwards it instead.
func (g *Gate) abandon(ch chan struct{}) {
	g.mu.Lock()
	for i, c := range g.queue {
		if c == ch {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			g.mu.Unlock()
			return
		}
	}
	g.mu.Unlock()

	// Not in the queue means Release already closed our channel.
	g.Release()
}
