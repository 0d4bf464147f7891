// Package fema queries the National Flood Hazard Layer. Free, no API key;
// zone polygons change rarely, so results are cached for 30 days.
package fema

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/keystone-reo/distress-scanner/internal/cache"
	"github.com/keystone-reo/distress-scanner/internal/config"
	"github.com/keystone-reo/distress-scanner/internal/pkg/httpretry"
)

// Zones with a 1% annual flood chance (the SFHA designations).
var highRiskZones = map[string]bool{
	"A": true, "AE": true, "AH": true, "AO": true,
	"AR": true, "A99": true, "V": true, "VE": true,
}

// FloodZone is the classification at one point.
type FloodZone struct {
	Zone     string `json:"flood_zone"`
	Subtype  string `json:"zone_subtype"`
	SFHA     bool   `json:"is_sfha"`
	Risk     string `json:"risk_level"` // high, moderate, low, unknown
	Note     string `json:"note,omitempty"`
	Err      string `json:"error,omitempty"`
	Floodway string `json:"floodway,omitempty"`
}

// Client queries the NFHL flood hazard layer.
type Client struct {
	queryURL string
	mapURL   string
	http     *httpretry.RetryClient
	cache    *cache.Cache
}

func NewClient(cfg config.FEMAConfig, c *cache.Cache) *Client {
	return &Client{
		queryURL: cfg.QueryURL,
		mapURL:   cfg.MapURL,
		http:     httpretry.NewRetryClient(nil, 3),
		cache:    c,
	}
}

// QueryFloodZone classifies the flood risk at a point. Request failures
// come back as risk "unknown" with the error recorded, never as an error
// return: a parcel without flood data still gets scanned.
func (c *Client) QueryFloodZone(ctx context.Context, lat, lng float64) FloodZone {
	params := map[string]any{"lat": lat, "lng": lng}
	var out FloodZone
	if c.cache.Get(ctx, "fema_zone", params, &out) {
		return out
	}

	geom, _ := json.Marshal(map[string]any{
		"x": lng, "y": lat,
		"spatialReference": map[string]int{"wkid": 4326},
	})
	q := url.Values{
		"geometry":       {string(geom)},
		"geometryType":   {"esriGeometryPoint"},
		"spatialRel":     {"esriSpatialRelIntersects"},
		"outFields":      {"FLD_ZONE,SFHA_TF,ZONE_SUBTY,FLD_AR_ID,STATIC_BFE"},
		"returnGeometry": {"false"},
		"f":              {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.queryURL+"?"+q.Encode(), nil)
	if err != nil {
		return FloodZone{Risk: "unknown", Err: err.Error()}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return FloodZone{Risk: "unknown", Err: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return FloodZone{Risk: "unknown", Err: fmt.Sprintf("nfhl query returned %d", resp.StatusCode)}
	}

	var body struct {
		Features []struct {
			Attributes struct {
				Zone     string `json:"FLD_ZONE"`
				SFHA     string `json:"SFHA_TF"`
				Subtype  string `json:"ZONE_SUBTY"`
				Floodway string `json:"FLOODWAY"`
			} `json:"attributes"`
		} `json:"features"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return FloodZone{Risk: "unknown", Err: fmt.Sprintf("decoding nfhl response: %v", err)}
	}

	if len(body.Features) == 0 {
		out = FloodZone{Risk: "unknown", Note: "no_fema_coverage"}
		c.cache.Set(ctx, "fema_zone", params, out, cache.TTLFlood)
		return out
	}

	attrs := body.Features[0].Attributes
	out = FloodZone{
		Zone:     attrs.Zone,
		Subtype:  attrs.Subtype,
		SFHA:     attrs.SFHA == "T",
		Floodway: attrs.Floodway,
	}
	out.Risk = classifyRisk(out.Zone, out.Subtype, out.SFHA)

	c.cache.Set(ctx, "fema_zone", params, out, cache.TTLFlood)
	return out
}

// classifyRisk maps a zone designation to the report's risk levels. Zone X
// is ambiguous on its own: shaded X (the 500-year plain) is moderate,
// unshaded X is low, and ZONE_SUBTY is the only way to tell them apart.
func classifyRisk(zone, subtype string, sfha bool) string {
	sub := strings.ToUpper(subtype)
	switch {
	case highRiskZones[zone] || sfha:
		return "high"
	case zone == "X" && strings.Contains(sub, "500"):
		return "moderate"
	case zone == "B":
		return "moderate"
	case zone == "X" && strings.Contains(sub, "SHADED") && !strings.Contains(sub, "MINIMAL"):
		return "moderate"
	case zone != "":
		return "low"
	default:
		return "unknown"
	}
}

// MapTile exports a transparent flood overlay PNG for a bounding box.
func (c *Client) MapTile(ctx context.Context, minLng, minLat, maxLng, maxLat float64, width, height int) ([]byte, error) {
	q := url.Values{
		"bbox":        {fmt.Sprintf("%f,%f,%f,%f", minLng, minLat, maxLng, maxLat)},
		"bboxSR":      {"4326"},
		"imageSR":     {"4326"},
		"size":        {fmt.Sprintf("%d,%d", width, height)},
		"format":      {"png"},
		"transparent": {"true"},
		"layers":      {"show:28"},
		"f":           {"image"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.mapURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exporting flood map: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("flood map export returned %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "image") {
		return nil, fmt.Errorf("flood map export returned non-image content")
	}
	return io.ReadAll(resp.Body)
}
