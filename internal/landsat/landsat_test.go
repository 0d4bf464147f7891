package landsat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBands(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		ndvi    *float64
		wantErr string
	}{
		{"healthy pixel", "500 600 700 800 2400", f(0.5), ""},
		{"no data", "NoData", nil, "no_data_at_point"},
		{"empty", "", nil, "no_data_at_point"},
		{"too few bands", "100 200 300", nil, "unexpected_band_count: 3"},
		{"zero denominator", "0 0 0 0 0", nil, "zero_denominator"},
		{"garbage", "100 200 x 300 400", nil, `band_parse_failure: "x"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ndvi, errStr := parseBands(tc.value)
			assert.Equal(t, tc.wantErr, errStr)
			if tc.ndvi == nil {
				assert.Nil(t, ndvi)
			} else {
				require.NotNil(t, ndvi)
				assert.InDelta(t, *tc.ndvi, *ndvi, 1e-9)
			}
		})
	}
}

func TestMonthlyNDVI(t *testing.T) {
	var timeParams []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timeParams = append(timeParams, r.URL.Query().Get("time"))

		var mosaic map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("mosaicRule")), &mosaic))
		assert.Equal(t, "AcquisitionDate", mosaic["sortField"])
		assert.Equal(t, false, mosaic["ascending"])

		// Third month back has no scene.
		if len(timeParams) == 3 {
			fmt.Fprint(w, `{"value": "NoData", "catalogItems": {"features": []}}`)
			return
		}
		fmt.Fprintf(w, `{"value": "500 600 700 800 2400", "catalogItems": {"features": [
			{"attributes": {"AcquisitionDate": 1748736000000, "SensorName": "Landsat 9"}}
		]}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	c.now = func() time.Time { return time.Date(2025, 8, 26, 0, 0, 0, 0, time.UTC) }

	monthly := c.MonthlyNDVI(context.Background(), 35.19, -114.05, 4)
	require.Len(t, timeParams, 4)
	require.Len(t, monthly, 3)

	// Oldest first, with the empty month missing.
	assert.Equal(t, "2025-04", monthly[0].Month)
	assert.Equal(t, "2025-06", monthly[1].Month)
	assert.Equal(t, "2025-07", monthly[2].Month)
	assert.InDelta(t, 0.5, monthly[0].Mean, 1e-9)
}

func TestNDVIAtPointMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value": "100 200 300 400 1200", "catalogItems": {"features": [
			{"attributes": {"AcquisitionDate": 1748736000000, "SensorName": "Landsat 8"}}
		]}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	obs := c.NDVIAtPoint(context.Background(), 35.19, -114.05,
		time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	require.NotNil(t, obs.NDVI)
	assert.InDelta(t, 0.5, *obs.NDVI, 1e-9)
	assert.Equal(t, "2025-06-01", obs.Date)
	assert.Equal(t, "Landsat 8", obs.Sensor)
	assert.Empty(t, obs.Err)
}

func f(v float64) *float64 { return &v }
