package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stacParams struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Years []int   `json:"years"`
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewWithClient(rdb)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	params := stacParams{Lat: 35.2271, Lng: -80.8431, Years: []int{2022, 2020}}
	c.Set(ctx, "naip_stac", params, map[string]any{"items": 3}, TTLSTAC)

	var out map[string]any
	require.True(t, c.Get(ctx, "naip_stac", params, &out))
	assert.EqualValues(t, 3, out["items"])
}

func TestKeyIsParameterSensitive(t *testing.T) {
	a := Key("naip_stac", stacParams{Lat: 35.2271, Lng: -80.8431})
	b := Key("naip_stac", stacParams{Lat: 35.2272, Lng: -80.8431})
	c := Key("fema", stacParams{Lat: 35.2271, Lng: -80.8431})
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, Key("naip_stac", stacParams{Lat: 35.2271, Lng: -80.8431}))
}

func TestMissAndExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	var out string
	assert.False(t, c.Get(ctx, "fema", "nope", &out))

	c.Set(ctx, "fema", "p", "cached", TTLNegative)
	require.True(t, c.Get(ctx, "fema", "p", &out))
	assert.Equal(t, "cached", out)

	mr.FastForward(601 * time.Second)
	assert.False(t, c.Get(ctx, "fema", "p", &out))
}

func TestNilCacheAlwaysMisses(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	var out string
	assert.False(t, c.Get(ctx, "s", "p", &out))
	c.Set(ctx, "s", "p", "v", time.Minute) // must not panic
	assert.NoError(t, c.Close())
}
