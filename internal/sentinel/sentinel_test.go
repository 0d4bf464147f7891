package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-reo/distress-scanner/internal/config"
	"github.com/keystone-reo/distress-scanner/internal/domain"
)

func TestClientDisabledWithoutCredentials(t *testing.T) {
	c := NewClient(config.SentinelConfig{StatsURL: "https://example.com", Months: 12})
	assert.False(t, c.Enabled())

	_, err := c.MonthlyNDVI(context.Background(), 35.19, -114.05)
	require.Error(t, err)
}

func TestMonthlyNDVI(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token": "test-token", "token_type": "Bearer", "expires_in": 600}`)
	})
	mux.HandleFunc("/statistics", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		agg := body["aggregation"].(map[string]any)
		assert.Equal(t, "P1M", agg["aggregationInterval"].(map[string]any)["of"])

		fmt.Fprint(w, `{"data": [
			{"interval": {"from": "2025-06-01T00:00:00Z"},
			 "outputs": {"ndvi": {"bands": {"B0": {"stats":
				{"mean": 0.42, "stDev": 0.05, "sampleCount": 2500, "noDataCount": 100}}}}}},
			{"interval": {"from": "2025-07-01T00:00:00Z"},
			 "outputs": {"ndvi": {"bands": {"B0": {"stats":
				{"mean": 0.0, "stDev": 0.0, "sampleCount": 2500, "noDataCount": 2500}}}}}},
			{"interval": {"from": "2025-08-01T00:00:00Z"},
			 "outputs": {"ndvi": {"bands": {"B0": {"stats":
				{"mean": 0.47, "stDev": 0.04, "sampleCount": 2500, "noDataCount": 0}}}}}}
		]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(config.SentinelConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     srv.URL + "/token",
		StatsURL:     srv.URL + "/statistics",
		Months:       12,
	})
	c.now = func() time.Time { return time.Date(2025, 8, 26, 0, 0, 0, 0, time.UTC) }
	require.True(t, c.Enabled())

	months, err := c.MonthlyNDVI(context.Background(), 35.19, -114.05)
	require.NoError(t, err)

	// The fully-masked July interval is dropped.
	require.Len(t, months, 2)
	assert.Equal(t, domain.MonthlyNDVI{Month: "2025-06", Mean: 0.42, Std: 0.05}, months[0])
	assert.Equal(t, domain.MonthlyNDVI{Month: "2025-08", Mean: 0.47, Std: 0.04}, months[1])
}

func TestRenderTrendChart(t *testing.T) {
	slope := 0.01
	monthly := []domain.MonthlyNDVI{
		{Month: "2025-01", Mean: 0.30, Std: 0.04},
		{Month: "2025-02", Mean: 0.33, Std: 0.03},
		{Month: "2025-03", Mean: 0.35, Std: 0.05},
		{Month: "2025-04", Mean: 0.38, Std: 0.02},
	}

	data, err := RenderTrendChart(monthly, &slope)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, chartWidth, img.Bounds().Dx())
	assert.Equal(t, chartHeight, img.Bounds().Dy())
}

func TestRenderTrendChartEmpty(t *testing.T) {
	_, err := RenderTrendChart(nil, nil)
	require.Error(t, err)
}
