package govern

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness replaces the wall clock and the sleeper so the schedule can be
// asserted without real waiting.
type harness struct {
	now    time.Time
	sleeps []time.Duration
}

func newHarness(g *Governor) *harness {
	h := &harness{now: time.Unix(1_700_000_000, 0)}
	g.now = func() time.Time { return h.now }
	g.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		h.now = h.now.Add(d)
		return nil
	}
	g.rng = rand.New(rand.NewSource(42))
	return h
}

func TestWaitSpacesRequests(t *testing.T) {
	g := New(30, 55)
	h := newHarness(g)

	// first request is immediate
	require.NoError(t, g.Wait(context.Background()))
	assert.Empty(t, h.sleeps)

	// second request waits the remainder of a 30-55s jittered target
	require.NoError(t, g.Wait(context.Background()))
	require.Len(t, h.sleeps, 1)
	assert.GreaterOrEqual(t, h.sleeps[0], 30*time.Second)
	assert.LessOrEqual(t, h.sleeps[0], 55*time.Second)
}

func TestWaitCountsFromRequestStart(t *testing.T) {
	g := New(30, 55)
	h := newHarness(g)

	require.NoError(t, g.Wait(context.Background()))
	// the request itself took 40s; most of the delay is already burned
	h.now = h.now.Add(40 * time.Second)

	require.NoError(t, g.Wait(context.Background()))
	for _, d := range h.sleeps {
		assert.LessOrEqual(t, d, 15*time.Second)
	}
}

func TestRateLimitedHonorsRetryAfter(t *testing.T) {
	g := New(1, 2)
	h := newHarness(g)

	require.NoError(t, g.RateLimited(context.Background(), 60*time.Second))
	require.Len(t, h.sleeps, 1)
	assert.GreaterOrEqual(t, h.sleeps[0], 65*time.Second)
	assert.LessOrEqual(t, h.sleeps[0], 90*time.Second)
	assert.Equal(t, 1, g.Hits429())
}

func TestRateLimitedEscalates(t *testing.T) {
	g := New(1, 2)
	h := newHarness(g)
	ctx := context.Background()

	require.NoError(t, g.RateLimited(ctx, 0))
	require.NoError(t, g.RateLimited(ctx, 0))
	require.NoError(t, g.RateLimited(ctx, 0))
	require.NoError(t, g.RateLimited(ctx, 0))

	require.Len(t, h.sleeps, 4)
	bases := []time.Duration{120 * time.Second, 240 * time.Second, 480 * time.Second, 900 * time.Second}
	for i, base := range bases {
		assert.GreaterOrEqual(t, h.sleeps[i], base, "sleep %d", i)
		assert.LessOrEqual(t, h.sleeps[i], base+time.Duration(0.3*float64(base)), "sleep %d", i)
	}

	// a fifth consecutive 429 stays at the cap
	require.NoError(t, g.RateLimited(ctx, 0))
	assert.GreaterOrEqual(t, h.sleeps[4], 900*time.Second)
}

func TestSuccessResetsBackoff(t *testing.T) {
	g := New(1, 2)
	h := newHarness(g)
	ctx := context.Background()

	require.NoError(t, g.RateLimited(ctx, 0))
	require.NoError(t, g.RateLimited(ctx, 0))
	g.Success()
	require.NoError(t, g.RateLimited(ctx, 0))

	// after the reset the schedule starts over at 120s
	last := h.sleeps[len(h.sleeps)-1]
	assert.GreaterOrEqual(t, last, 120*time.Second)
	assert.Less(t, last, 240*time.Second)
}

func TestWaitAbortsOnCancel(t *testing.T) {
	g := New(30, 55)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, g.Wait(ctx)) // first request needs no sleep
	err := g.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
