// Package naip reads aerial NDVI from the USGS NAIP archive. The current
// vintage comes from the ImageServer identify endpoint (one GET per
// parcel); multi-year history comes from the Planetary Computer STAC
// catalog with direct COG window reads, because the ImageServer only hosts
// the most recent vintage per state.
package naip

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/keystone-reo/distress-scanner/internal/cache"
	"github.com/keystone-reo/distress-scanner/internal/config"
	"github.com/keystone-reo/distress-scanner/internal/pkg/httpretry"
)

// Client is the NAIP imagery source.
type Client struct {
	identifyURL string
	stacURL     string
	years       []int
	http        *httpretry.RetryClient
	rangeClient *http.Client
	cache       *cache.Cache
}

func NewClient(cfg config.NAIPConfig, c *cache.Cache) *Client {
	return &Client{
		identifyURL: cfg.IdentifyURL,
		stacURL:     cfg.STACURL,
		years:       cfg.Years,
		http:        httpretry.NewRetryClient(nil, 3),
		rangeClient: &http.Client{Timeout: 60 * time.Second},
		cache:       c,
	}
}

// PointNDVI is the fast-path result for one parcel.
type PointNDVI struct {
	NDVI     *float64 `json:"ndvi"`
	Date     string   `json:"date"`
	Category string   `json:"category"`
	Err      string   `json:"error,omitempty"`
}

// YearNDVI is one historical observation.
type YearNDVI struct {
	Year int      `json:"year"`
	NDVI *float64 `json:"ndvi"`
	Date string   `json:"date"`
	Err  string   `json:"error,omitempty"`
}

// Category buckets an NDVI reading for the report columns.
func Category(ndvi *float64) string {
	switch {
	case ndvi == nil:
		return "no_data"
	case *ndvi < 0.10:
		return "bare"
	case *ndvi < 0.30:
		return "minimal"
	case *ndvi < 0.50:
		return "sparse"
	case *ndvi < 0.65:
		return "moderate"
	default:
		return "dense"
	}
}

type identifyResponse struct {
	Value        string `json:"value"`
	CatalogItems struct {
		Features []struct {
			Attributes map[string]any `json:"attributes"`
		} `json:"features"`
	} `json:"catalogItems"`
}

// FastNDVI is the single-call pass-1 lookup: current-vintage band values at
// the point, no history, no image export.
func (c *Client) FastNDVI(ctx context.Context, lat, lng float64) PointNDVI {
	params := map[string]any{"lat": lat, "lng": lng}
	var out PointNDVI
	if c.cache.Get(ctx, "naip_identify", params, &out) {
		return out
	}

	resp, err := c.identify(ctx, lat, lng)
	if err != nil {
		return PointNDVI{Category: "error", Err: fmt.Sprintf("identify_failed: %v", err)}
	}

	ndvi, parseErr := parseBands(resp.Value)
	out = PointNDVI{
		NDVI:     ndvi,
		Date:     acquisitionDate(resp),
		Category: Category(ndvi),
		Err:      parseErr,
	}
	c.cache.Set(ctx, "naip_identify", params, out, cache.TTLSTAC)
	return out
}

func (c *Client) identify(ctx context.Context, lat, lng float64) (*identifyResponse, error) {
	geom, _ := json.Marshal(map[string]any{
		"x": lng, "y": lat,
		"spatialReference": map[string]int{"wkid": 4326},
	})
	q := url.Values{
		"geometry":           {string(geom)},
		"geometryType":       {"esriGeometryPoint"},
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

// parseBands computes NDVI from the identify value string. NAIP band order
// is Red, Green, Blue, NIR.
func parseBands(value string) (*float64, string) {
	if value == "" || value == "NoData" || value == "Pixel value is NoData" {
		return nil, "no_imagery_at_location"
	}

	fields := strings.Fields(strings.ReplaceAll(value, ",", " "))
	bands := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Sprintf("band_parse_failure: %q", f)
		}
		bands = append(bands, v)
	}

	switch {
	case len(bands) >= 4:
		red, nir := bands[0], bands[3]
		var ndvi float64
		if nir+red != 0 {
			ndvi = round4((nir - red) / (nir + red))
		}
		return &ndvi, ""
	case len(bands) == 3:
		return nil, "no_nir_band"
	default:
		return nil, fmt.Sprintf("unexpected_band_count: %d", len(bands))
	}
}

// acquisitionDate pulls the capture date from the catalog items: primary
// resolution tiles (Category 1) carry acquisition_date as epoch millis,
// with a Year attribute fallback on older vintages.
func acquisitionDate(resp *identifyResponse) string {
	for _, feat := range resp.CatalogItems.Features {
		if num, ok := feat.Attributes["Category"].(float64); !ok || num != 1 {
			continue
		}
		if acq, ok := feat.Attributes["acquisition_date"].(float64); ok && acq > 1e10 {
			return time.UnixMilli(int64(acq)).UTC().Format("2006-01-02")
		}
	}
	for _, feat := range resp.CatalogItems.Features {
		if year, ok := feat.Attributes["Year"].(float64); ok && year > 0 {
			return fmt.Sprintf("%d-01-01", int(year))
		}
	}
	return ""
}

// HistoricalNDVI reads NDVI for the configured NAIP vintages at a point.
// Misses are cached alongside hits so a bad pixel is not re-read on every
// run.
func (c *Client) HistoricalNDVI(ctx context.Context, lat, lng float64) []YearNDVI {
	years := c.years
	items, err := c.searchItems(ctx, lat, lng)
	if err != nil || len(items) == 0 {
		return nil
	}

	var out []YearNDVI
	for _, item := range items {
		if !containsYear(years, item.Year) {
			continue
		}

		params := map[string]any{"lat": lat, "lng": lng, "year": item.Year}
		var cached YearNDVI
		if c.cache.Get(ctx, "naip_cog", params, &cached) {
			if cached.NDVI != nil {
				out = append(out, cached)
			}
			continue
		}

		entry := YearNDVI{Year: item.Year, Date: item.Date}
		reader, err := openCOG(ctx, c.rangeClient, item.COGURL)
		if err != nil {
			entry.Err = err.Error()
		} else {
			px := reader.windowNDVI(ctx, lat, lng, 3)
			entry.NDVI = px.NDVI
			entry.Err = px.Err
		}
		c.cache.Set(ctx, "naip_cog", params, entry, cache.TTLSTAC)
		if entry.NDVI != nil {
			out = append(out, entry)
		}
	}
	return out
}

func containsYear(years []int, year int) bool {
	if len(years) == 0 {
		return true
	}
	for _, y := range years {
		if y == year {
			return true
		}
	}
	return false
}

// MeanHistorical averages the historical readings, rounded to 4 places.
func MeanHistorical(history []YearNDVI) *float64 {
	sum, n := 0.0, 0
	for _, h := range history {
		if h.NDVI != nil {
			sum += *h.NDVI
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := math.Round(sum/float64(n)*10000) / 10000
	return &mean
}
