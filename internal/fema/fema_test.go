package fema

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-reo/distress-scanner/internal/cache"
	"github.com/keystone-reo/distress-scanner/internal/config"
)

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		zone, subtype string
		sfha          bool
		want          string
	}{
		{"AE", "", true, "high"},
		{"VE", "", true, "high"},
		{"A99", "", false, "high"},
		{"D", "", true, "high"}, // SFHA flag wins regardless of zone
		{"X", "0.2 PCT ANNUAL CHANCE FLOOD HAZARD (500-year)", false, "moderate"},
		{"B", "", false, "moderate"},
		{"X", "AREA OF MINIMAL FLOOD HAZARD", false, "low"},
		{"X", "", false, "low"},
		{"D", "", false, "low"},
		{"", "", false, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.zone+"/"+tt.subtype, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyRisk(tt.zone, tt.subtype, tt.sfha))
		})
	}
}

func TestQueryFloodZone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("outFields"), "FLD_ZONE")
		fmt.Fprint(w, `{"features": [{"attributes":
			{"FLD_ZONE": "AE", "SFHA_TF": "T", "ZONE_SUBTY": "FLOODWAY"}}]}`)
	}))
	defer srv.Close()

	c := NewClient(config.FEMAConfig{QueryURL: srv.URL}, nil)
	got := c.QueryFloodZone(context.Background(), 35.19, -114.05)

	assert.Equal(t, "AE", got.Zone)
	assert.True(t, got.SFHA)
	assert.Equal(t, "high", got.Risk)
	assert.Empty(t, got.Err)
}

func TestQueryFloodZoneNoCoverage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"features": []}`)
	}))
	defer srv.Close()

	c := NewClient(config.FEMAConfig{QueryURL: srv.URL}, nil)
	got := c.QueryFloodZone(context.Background(), 44.0, -100.0)

	assert.Empty(t, got.Zone)
	assert.Equal(t, "unknown", got.Risk)
	assert.Equal(t, "no_fema_coverage", got.Note)
}

func TestMapTile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "4326", q.Get("bboxSR"))
		assert.Equal(t, "256,256", q.Get("size"))
		assert.Equal(t, "true", q.Get("transparent"))
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG"))
	}))
	defer srv.Close()

	c := NewClient(config.FEMAConfig{MapURL: srv.URL}, nil)
	png, err := c.MapTile(context.Background(), -114.06, 35.18, -114.04, 35.20, 256, 256)

	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png)
}

func TestMapTileNonImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"error": {"code": 400}}`)
	}))
	defer srv.Close()

	c := NewClient(config.FEMAConfig{MapURL: srv.URL}, nil)
	_, err := c.MapTile(context.Background(), -114.06, 35.18, -114.04, 35.20, 256, 256)

	assert.ErrorContains(t, err, "non-image")
}

func TestQueryFloodZoneCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ca := cache.NewWithClient(rdb)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"features": [{"attributes":
			{"FLD_ZONE": "X", "SFHA_TF": "F", "ZONE_SUBTY": "AREA OF MINIMAL FLOOD HAZARD"}}]}`)
	}))
	defer srv.Close()

	c := NewClient(config.FEMAConfig{QueryURL: srv.URL}, ca)
	first := c.QueryFloodZone(context.Background(), 35.19, -114.05)
	second := c.QueryFloodZone(context.Background(), 35.19, -114.05)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, "low", first.Risk)
}
