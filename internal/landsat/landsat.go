// Package landsat is the zero-credential fallback for the trend pass. The
// Esri Landsat multispectral ImageServer serves worldwide Landsat 8/9
// scenes; one identify call per month gives a coarse NDVI series where
// Sentinel credentials are not configured.
package landsat

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/keystone-reo/distress-scanner/internal/cache"
	"github.com/keystone-reo/distress-scanner/internal/domain"
	"github.com/keystone-reo/distress-scanner/internal/pkg/httpretry"
)

// Client reads NDVI from the Esri Landsat ImageServer.
type Client struct {
	identifyURL string
	http        *httpretry.RetryClient
	cache       *cache.Cache
	now         func() time.Time
}

func NewClient(identifyURL string, c *cache.Cache) *Client {
	return &Client{
		identifyURL: identifyURL,
		http:        httpretry.NewRetryClient(nil, 3),
		cache:       c,
		now:         time.Now,
	}
}

// Observation is one identify reading.
type Observation struct {
	NDVI   *float64 `json:"ndvi"`
	Date   string   `json:"date"`
	Sensor string   `json:"sensor,omitempty"`
	Err    string   `json:"error,omitempty"`
}

type identifyResponse struct {
	Value        string `json:"value"`
	CatalogItems struct {
		Features []struct {
			Attributes map[string]any `json:"attributes"`
		} `json:"features"`
	} `json:"catalogItems"`
}

// NDVIAtPoint identifies the newest scene at the point within [start, end)
// and computes NDVI from its band values.
func (c *Client) NDVIAtPoint(ctx context.Context, lat, lng float64, start, end time.Time) Observation {
	resp, err := c.identify(ctx, lat, lng, start, end)
	if err != nil {
		return Observation{Err: fmt.Sprintf("identify_failed: %v", err)}
	}

	obs := Observation{Date: acquisitionDate(resp), Sensor: sensorName(resp)}
	obs.NDVI, obs.Err = parseBands(resp.Value)
	return obs
}

func (c *Client) identify(ctx context.Context, lat, lng float64, start, end time.Time) (*identifyResponse, error) {
	geom, _ := json.Marshal(map[string]any{
		"x": lng, "y": lat,
		"spatialReference": map[string]int{"wkid": 4326},
	})
	// Newest acquisition first within the time window.
	mosaic, _ := json.Marshal(map[string]any{
		"mosaicMethod": "esriMosaicAttribute",
		"sortField":    "AcquisitionDate",
		"sortValue":    "2099-01-01",
		"ascending":    false,
	})
	q := url.Values{
		"geometry":           {string(geom)},
		"geometryType":       {"esriGeometryPoint"},
		"mosaicRule":         {string(mosaic)},
		"time":               {fmt.Sprintf("%d,%d", start.UnixMilli(), end.UnixMilli())},
		"returnCatalogItems": {"true"},
		"returnGeometry":     {"false"},
		"f":                  {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.identifyURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identify returned %d", resp.StatusCode)
	}

	var out identifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding identify response: %w", err)
	}
	return &out, nil
}

// parseBands computes NDVI from the multispectral value string. The MS
// service orders bands coastal, blue, green, red, NIR, so red is index 3
// and NIR index 4.
func parseBands(value string) (*float64, string) {
	if value == "" || value == "NoData" || value == "Pixel value is NoData" {
		return nil, "no_data_at_point"
	}

	fields := strings.Fields(value)
	bands := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Sprintf("band_parse_failure: %q", f)
		}
		bands = append(bands, v)
	}
	if len(bands) < 5 {
		return nil, fmt.Sprintf("unexpected_band_count: %d", len(bands))
	}

	red, nir := bands[3], bands[4]
	if nir+red == 0 {
		return nil, "zero_denominator"
	}
	ndvi := math.Round((nir-red)/(nir+red)*10000) / 10000
	return &ndvi, ""
}

func acquisitionDate(resp *identifyResponse) string {
	for _, feat := range resp.CatalogItems.Features {
		if acq, ok := feat.Attributes["AcquisitionDate"].(float64); ok && acq > 1e10 {
			return time.UnixMilli(int64(acq)).UTC().Format("2006-01-02")
		}
	}
	return ""
}

func sensorName(resp *identifyResponse) string {
	for _, feat := range resp.CatalogItems.Features {
		if name, ok := feat.Attributes["SensorName"].(string); ok && name != "" {
			return name
		}
	}
	return ""
}

// MonthlyNDVI samples one scene per calendar month working back monthsBack
// months, returned oldest first. Months with no usable scene are dropped;
// the identify result per month is cached so re-runs only pay for the
// newest month.
func (c *Client) MonthlyNDVI(ctx context.Context, lat, lng float64, monthsBack int) []domain.MonthlyNDVI {
	end := c.now().UTC()
	var out []domain.MonthlyNDVI

	for i := 0; i < monthsBack; i++ {
		monthEnd := end.AddDate(0, -i, 0)
		monthStart := monthEnd.AddDate(0, -1, 0)
		month := monthStart.Format("2006-01")

		params := map[string]any{"lat": lat, "lng": lng, "month": month}
		var obs Observation
		if !c.cache.Get(ctx, "landsat_identify", params, &obs) {
			obs = c.NDVIAtPoint(ctx, lat, lng, monthStart, monthEnd)
			c.cache.Set(ctx, "landsat_identify", params, obs, cache.TTLSTAC)
		}
		if obs.NDVI == nil {
			continue
		}
		out = append(out, domain.MonthlyNDVI{Month: month, Mean: *obs.NDVI})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}
