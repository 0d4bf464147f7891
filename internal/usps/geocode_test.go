package usps

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-reo/distress-scanner/internal/cache"
	"github.com/keystone-reo/distress-scanner/internal/config"
)

func newTestResolver(t *testing.T, handler http.HandlerFunc) (*Resolver, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	c := cache.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	r := NewResolver(config.NominatimConfig{
		URL:       srv.URL,
		UserAgent: "distress-scanner-test/1.0",
	}, c)
	r.sleep = func(time.Duration) {}
	return r, &calls
}

func TestResolveCityZip(t *testing.T) {
	r, calls := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "718 NORTON DR", req.URL.Query().Get("street"))
		assert.Equal(t, "Gaston County", req.URL.Query().Get("county"))
		assert.Equal(t, "distress-scanner-test/1.0", req.Header.Get("User-Agent"))

		fmt.Fprint(w, `[{"lat": "35.25", "lon": "-81.16",
			"address": {"town": "Dallas", "postcode": "28034-1234"}}]`)
	})

	got := r.ResolveCityZip(context.Background(), "718 NORTON DR", "Gaston", "NC", nil, nil)
	assert.Equal(t, GeoResult{City: "Dallas", Zip: "28034", Confidence: "exact", Source: "nominatim"}, got)

	// Second lookup is served from cache.
	got = r.ResolveCityZip(context.Background(), "718 norton dr ", "gaston", "nc", nil, nil)
	assert.Equal(t, "cache", got.Source)
	assert.Equal(t, "Dallas", got.City)
	assert.Equal(t, 1, *calls)
}

func TestResolveCityZipPicksClosest(t *testing.T) {
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `[
			{"lat": "35.90", "lon": "-80.90", "address": {"city": "Farville", "postcode": "11111"}},
			{"lat": "35.25", "lon": "-81.16", "address": {"city": "Dallas", "postcode": "28034"}}
		]`)
	})

	lat, lng := 35.26, -81.17
	got := r.ResolveCityZip(context.Background(), "718 NORTON DR", "Gaston", "NC", &lat, &lng)
	assert.Equal(t, "Dallas", got.City)
	assert.Equal(t, "28034", got.Zip)
	assert.Equal(t, "ambiguous", got.Confidence)
}

func TestResolveCityZipNoResults(t *testing.T) {
	r, calls := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	got := r.ResolveCityZip(context.Background(), "1 NOWHERE LN", "Gaston", "NC", nil, nil)
	assert.Equal(t, "none", got.Confidence)
	assert.Empty(t, got.City)

	// Negative results cache too, just with a short TTL.
	got = r.ResolveCityZip(context.Background(), "1 NOWHERE LN", "Gaston", "NC", nil, nil)
	assert.Equal(t, "cache", got.Source)
	assert.Equal(t, 1, *calls)
}

func TestResolveCityZipPositiveScopedToProcess(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		fmt.Fprint(w, `[{"lat": "35.25", "lon": "-81.16",
			"address": {"town": "Dallas", "postcode": "28034"}}]`)
	}))
	defer srv.Close()

	mr := miniredis.RunT(t)
	c := cache.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	cfg := config.NominatimConfig{URL: srv.URL, UserAgent: "distress-scanner-test/1.0"}

	r1 := NewResolver(cfg, c)
	r1.sleep = func(time.Duration) {}
	got := r1.ResolveCityZip(context.Background(), "718 NORTON DR", "Gaston", "NC", nil, nil)
	assert.Equal(t, "Dallas", got.City)
	assert.Equal(t, 1, calls)

	// The positive result never lands in redis; it lives with the resolver.
	assert.Empty(t, mr.Keys())
	got = r1.ResolveCityZip(context.Background(), "718 NORTON DR", "Gaston", "NC", nil, nil)
	assert.Equal(t, "cache", got.Source)
	assert.Equal(t, 1, calls)

	// A new process asks again.
	r2 := NewResolver(cfg, c)
	r2.sleep = func(time.Duration) {}
	r2.ResolveCityZip(context.Background(), "718 NORTON DR", "Gaston", "NC", nil, nil)
	assert.Equal(t, 2, calls)
}

func TestResolveCityZipUpstreamError(t *testing.T) {
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	got := r.ResolveCityZip(context.Background(), "718 NORTON DR", "Gaston", "NC", nil, nil)
	assert.Equal(t, "none", got.Confidence)
}

func TestResolverThrottle(t *testing.T) {
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	var slept time.Duration
	r.sleep = func(d time.Duration) { slept += d }
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	r.ResolveCityZip(context.Background(), "1 A ST", "Gaston", "NC", nil, nil)
	require.Zero(t, slept)

	// 400ms after the first request, the second one must wait out the rest
	// of the one second interval.
	r.now = func() time.Time { return base.Add(400 * time.Millisecond) }
	r.ResolveCityZip(context.Background(), "2 B ST", "Gaston", "NC", nil, nil)
	assert.Equal(t, 600*time.Millisecond, slept)
}
