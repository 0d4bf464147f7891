// Package sentinel pulls monthly NDVI statistics from the Copernicus Data
// Space Ecosystem statistical API. Requires OAuth client credentials; when
// they are absent the trend pass falls back to Landsat.
package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/keystone-reo/distress-scanner/internal/config"
	"github.com/keystone-reo/distress-scanner/internal/domain"
	"github.com/keystone-reo/distress-scanner/internal/geo"
)

// ndviEvalscript computes per-pixel NDVI from Sentinel-2 B04/B08 with the
// data mask passed through so cloud-masked pixels count as noData.
const ndviEvalscript = `//VERSION=3
function setup() {
  return {
    input: [{bands: ["B04", "B08", "dataMask"]}],
    output: [
      {id: "ndvi", bands: 1, sampleType: "FLOAT32"},
      {id: "dataMask", bands: 1}
    ]
  };
}
function evaluatePixel(sample) {
  if (sample.dataMask === 0) {
    return { ndvi: [0], dataMask: [0] };
  }
  let ndvi = (sample.B08 - sample.B04) / (sample.B08 + sample.B04);
  return { ndvi: [ndvi], dataMask: [1] };
}`

// Client talks to the CDSE statistical API.
type Client struct {
	statsURL string
	months   int
	http     *http.Client
	enabled  bool
	now      func() time.Time
}

func NewClient(cfg config.SentinelConfig) *Client {
	c := &Client{
		statsURL: cfg.StatsURL,
		months:   cfg.Months,
		enabled:  cfg.HasCredentials(),
		now:      time.Now,
	}
	if c.enabled {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		c.http = cc.Client(context.Background())
		c.http.Timeout = 60 * time.Second
	}
	return c
}

// Enabled reports whether credentials are configured.
func (c *Client) Enabled() bool { return c.enabled }

// Months is the configured lookback window.
func (c *Client) Months() int { return c.months }

type statsResponse struct {
	Data []struct {
		Interval struct {
			From string `json:"from"`
		} `json:"interval"`
		Outputs struct {
			NDVI struct {
				Bands struct {
					B0 struct {
						Stats struct {
							Mean        *float64 `json:"mean"`
							StDev       float64  `json:"stDev"`
							SampleCount int      `json:"sampleCount"`
							NoDataCount int      `json:"noDataCount"`
						} `json:"stats"`
					} `json:"B0"`
				} `json:"bands"`
			} `json:"ndvi"`
		} `json:"outputs"`
	} `json:"data"`
}

// MonthlyNDVI aggregates NDVI per calendar month over the configured
// window in a 50 m box around the point. Months where every pixel was
// masked are dropped.
func (c *Client) MonthlyNDVI(ctx context.Context, lat, lng float64) ([]domain.MonthlyNDVI, error) {
	if !c.enabled {
		return nil, fmt.Errorf("sentinel credentials not configured")
	}

	minLng, minLat, maxLng, maxLat := geo.BBox(lat, lng, 50)
	end := c.now()
	start := end.AddDate(0, 0, -c.months*30)

	payload, _ := json.Marshal(map[string]any{
		"input": map[string]any{
			"bounds": map[string]any{
				"bbox": []float64{minLng, minLat, maxLng, maxLat},
				"properties": map[string]string{
					"crs": "http://www.opengis.net/def/crs/EPSG/0/4326",
				},
			},
			"data": []map[string]any{{
				"type":       "sentinel-2-l2a",
				"dataFilter": map[string]any{"maxCloudCoverage": 50},
			}},
		},
		"aggregation": map[string]any{
			"timeRange": map[string]string{
				"from": start.Format("2006-01-02") + "T00:00:00Z",
				"to":   end.Format("2006-01-02") + "T23:59:59Z",
			},
			"aggregationInterval": map[string]string{"of": "P1M"},
			"width":               50,
			"height":              50,
			"evalscript":          ndviEvalscript,
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.statsURL,
		bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sentinel stats request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sentinel stats returned %d", resp.StatusCode)
	}

	var body statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding sentinel stats: %w", err)
	}

	var out []domain.MonthlyNDVI
	for _, interval := range body.Data {
		stats := interval.Outputs.NDVI.Bands.B0.Stats
		valid := stats.SampleCount - stats.NoDataCount
		if valid <= 0 || stats.Mean == nil {
			continue
		}
		month := interval.Interval.From
		if len(month) > 7 {
			month = month[:7]
		}
		out = append(out, domain.MonthlyNDVI{
			Month: month,
			Mean:  *stats.Mean,
			Std:   stats.StDev,
		})
	}
	return out, nil
}
