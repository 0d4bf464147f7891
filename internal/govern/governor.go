// Package govern paces requests to quota-bound upstreams. One Governor per
// credential: it spaces request starts by a jittered delay and owns the 429
// backoff schedule for that credential.
package govern

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Backoff schedule for 429s without a Retry-After header.
const (
	DefaultBackoffStart = 120 * time.Second
	DefaultBackoffMax   = 900 * time.Second
	backoffMultiplier   = 2
)

// Governor enforces a jittered minimum spacing between request starts and an
// escalating backoff after rate-limit responses. Safe for use from a single
// consumer goroutine; the mutex guards the shared clock state for the
// stats-reading side.
type Governor struct {
	delayMin time.Duration
	delayMax time.Duration

	mu          sync.Mutex
	lastRequest time.Time
	backoff     time.Duration
	hits429     int

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	rng   *rand.Rand
}

// New creates a governor with the given inter-request delay bounds in
// seconds.
func New(delayMinSec, delayMaxSec float64) *Governor {
	return &Governor{
		delayMin: time.Duration(delayMinSec * float64(time.Second)),
		delayMax: time.Duration(delayMaxSec * float64(time.Second)),
		now:      time.Now,
		sleep:    sleepCtx,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait blocks until the next request may start: a uniform random delay in
// [min,max] measured from the previous request start, so slow upstream
// responses do not stretch the schedule further.
func (g *Governor) Wait(ctx context.Context) error {
	g.mu.Lock()
	target := g.delayMin + time.Duration(g.rng.Float64()*float64(g.delayMax-g.delayMin))
	elapsed := time.Duration(0)
	if !g.lastRequest.IsZero() {
		elapsed = g.now().Sub(g.lastRequest)
	} else {
		elapsed = target // first request goes out immediately
	}
	wait := target - elapsed
	g.mu.Unlock()

	if wait > 0 {
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}

	g.mu.Lock()
	g.lastRequest = g.now()
	g.mu.Unlock()
	return nil
}

// RateLimited sleeps out a 429. When the upstream sent Retry-After, that
// wins, padded with 5-30s of jitter so parallel credentials do not retry in
// lockstep. Otherwise the escalating schedule applies: start at 120s, double
// per consecutive 429, add up to 30% jitter, cap at 900s.
func (g *Governor) RateLimited(ctx context.Context, retryAfter time.Duration) error {
	g.mu.Lock()
	g.hits429++
	var wait time.Duration
	if retryAfter > 0 {
		wait = retryAfter + time.Duration((5+g.rng.Float64()*25)*float64(time.Second))
	} else {
		if g.backoff == 0 {
			g.backoff = DefaultBackoffStart
		}
		wait = g.backoff + time.Duration(g.rng.Float64()*0.3*float64(g.backoff))
		g.backoff *= backoffMultiplier
		if g.backoff > DefaultBackoffMax {
			g.backoff = DefaultBackoffMax
		}
	}
	g.mu.Unlock()

	return g.sleep(ctx, wait)
}

// Success resets the backoff schedule after a non-429 response.
func (g *Governor) Success() {
	g.mu.Lock()
	g.backoff = 0
	g.mu.Unlock()
}

// Hits429 reports how many rate-limit responses this governor has absorbed.
func (g *Governor) Hits429() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hits429
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
