package naip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/keystone-reo/distress-scanner/internal/cache"
)

// StacItem is one NAIP acquisition at a point.
type StacItem struct {
	Year   int    `json:"year"`
	Date   string `json:"date"`
	COGURL string `json:"cog_url"`
}

type stacFeature struct {
	Properties map[string]json.RawMessage `json:"properties"`
	Assets     map[string]struct {
		Href string `json:"href"`
	} `json:"assets"`
}

// searchItems queries the STAC catalog for NAIP coverage at a point, newest
// first, one item per vintage year. Points on tile boundaries intersect two
// quads of the same vintage; the first (most recent datetime) wins.
func (c *Client) searchItems(ctx context.Context, lat, lng float64) ([]StacItem, error) {
	params := map[string]any{"lat": lat, "lng": lng}
	var cached []StacItem
	if c.cache.Get(ctx, "naip_stac", params, &cached) {
		return cached, nil
	}

	payload, _ := json.Marshal(map[string]any{
		"collections": []string{"naip"},
		"intersects": map[string]any{
			"type":        "Point",
			"coordinates": []float64{lng, lat},
		},
		"limit":  20,
		"sortby": []map[string]string{{"field": "datetime", "direction": "desc"}},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.stacURL,
		bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stac search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stac search returned %d", resp.StatusCode)
	}

	var body struct {
		Features []stacFeature `json:"features"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding stac response: %w", err)
	}

	var items []StacItem
	seen := map[int]bool{}
	for _, feat := range body.Features {
		year := stacYear(feat.Properties["naip:year"])
		href := feat.Assets["image"].Href
		if year == 0 || href == "" || seen[year] {
			continue
		}
		seen[year] = true

		var dt string
		json.Unmarshal(feat.Properties["datetime"], &dt)
		if len(dt) > 10 {
			dt = dt[:10]
		}
		items = append(items, StacItem{Year: year, Date: dt, COGURL: href})
	}

	c.cache.Set(ctx, "naip_stac", params, items, cache.TTLSTAC)
	return items, nil
}

// stacYear tolerates the catalog serving naip:year as either a string or a
// number.
func stacYear(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		y, _ := strconv.Atoi(s)
		return y
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}
