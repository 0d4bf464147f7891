// Package planet pulls PSScene pairs from the Planet Data API for the
// change-detection pass: one recent scene and one six-to-twelve months
// older, compared by thumbnail brightness.
package planet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"net/http"
	"sort"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/keystone-reo/distress-scanner/internal/config"
	"github.com/keystone-reo/distress-scanner/internal/domain"
	"github.com/keystone-reo/distress-scanner/internal/pkg/httpretry"
	"github.com/keystone-reo/distress-scanner/internal/storage"
)

// Pair windows: the earliest scene must sit 6 to 12 months behind the
// latest one so the comparison spans at least two seasons.
const (
	minSpanDays = 180
	maxSpanDays = 365

	recentCloudMax     = 0.30
	historicalCloudMax = 0.20
	searchLimit        = 5
)

// Client talks to the Planet Data API.
type Client struct {
	apiKey    string
	searchURL string
	tilesURL  string
	http      *httpretry.RetryClient
	uploader  storage.Uploader
	now       func() time.Time
}

func NewClient(cfg config.PlanetConfig, up storage.Uploader) *Client {
	return &Client{
		apiKey:    cfg.APIKey,
		searchURL: cfg.SearchURL,
		tilesURL:  cfg.TilesURL,
		http:      httpretry.NewRetryClient(nil, 3),
		uploader:  up,
		now:       time.Now,
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool { return c.apiKey != "" }

// Scene is one PSScene hit from quick-search.
type Scene struct {
	ID       string
	Acquired time.Time
	Cloud    float64
}

type searchResponse struct {
	Features []struct {
		ID         string `json:"id"`
		Properties struct {
			Acquired   string  `json:"acquired"`
			CloudCover float64 `json:"cloud_cover"`
		} `json:"properties"`
	} `json:"features"`
}

func (c *Client) searchScenes(ctx context.Context, lat, lng float64, start, end time.Time, maxCloud float64) ([]Scene, error) {
	payload, _ := json.Marshal(map[string]any{
		"item_types": []string{"PSScene"},
		"filter": map[string]any{
			"type": "AndFilter",
			"config": []map[string]any{
				{
					"type":       "GeometryFilter",
					"field_name": "geometry",
					"config": map[string]any{
						"type":        "Point",
						"coordinates": []float64{lng, lat},
					},
				},
				{
					"type":       "DateRangeFilter",
					"field_name": "acquired",
					"config": map[string]string{
						"gte": start.UTC().Format(time.RFC3339),
						"lte": end.UTC().Format(time.RFC3339),
					},
				},
				{
					"type":       "RangeFilter",
					"field_name": "cloud_cover",
					"config":     map[string]float64{"lte": maxCloud},
				},
			},
		},
	})

	url := fmt.Sprintf("%s?_page_size=%d", c.searchURL, searchLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "api-key "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("planet search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("planet search returned %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding planet search: %w", err)
	}

	scenes := make([]Scene, 0, len(body.Features))
	for _, f := range body.Features {
		acquired, err := time.Parse(time.RFC3339, f.Properties.Acquired)
		if err != nil {
			continue
		}
		scenes = append(scenes, Scene{ID: f.ID, Acquired: acquired, Cloud: f.Properties.CloudCover})
	}
	return scenes, nil
}

// ScenePair finds the latest low-cloud scene at the point plus a
// counterpart 6-12 months older, scores their brightness delta, and
// uploads both thumbnails. Fewer than two usable scenes leaves ChangeScore
// nil; the caller records the row as skipped.
func (c *Client) ScenePair(ctx context.Context, parcelID, county string, lat, lng float64) (domain.SceneResult, error) {
	result := domain.SceneResult{ParcelID: parcelID, County: county}

	end := c.now().UTC()
	recent, err := c.searchScenes(ctx, lat, lng, end.AddDate(0, -1, 0), end, recentCloudMax)
	if err != nil {
		return result, err
	}
	if len(recent) == 0 {
		return result, nil
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i].Acquired.After(recent[j].Acquired) })
	latest := recent[0]
	result.SceneCount = 1
	result.LatestDate = latest.Acquired.Format("2006-01-02")

	histStart := latest.Acquired.AddDate(0, 0, -maxSpanDays)
	histEnd := latest.Acquired.AddDate(0, 0, -minSpanDays)
	historical, err := c.searchScenes(ctx, lat, lng, histStart, histEnd, historicalCloudMax)
	if err != nil {
		return result, err
	}
	sort.Slice(historical, func(i, j int) bool {
		return historical[i].Acquired.Before(historical[j].Acquired)
	})

	var earliest *Scene
	for i, s := range historical {
		span := int(latest.Acquired.Sub(s.Acquired).Hours() / 24)
		if span >= minSpanDays && span <= maxSpanDays {
			earliest = &historical[i]
			break
		}
	}
	if earliest == nil {
		return result, nil
	}
	result.SceneCount = 2
	result.EarliestDate = earliest.Acquired.Format("2006-01-02")
	span := int(latest.Acquired.Sub(earliest.Acquired).Hours() / 24)
	result.TemporalSpanDays = &span

	latestThumb, err := c.thumbnail(ctx, latest.ID)
	if err != nil {
		return result, nil
	}
	earliestThumb, err := c.thumbnail(ctx, earliest.ID)
	if err != nil {
		return result, nil
	}

	bLatest, err1 := meanBrightness(latestThumb)
	bEarliest, err2 := meanBrightness(earliestThumb)
	if err1 != nil || err2 != nil {
		return result, nil
	}

	score := math.Round(math.Min(math.Abs(bLatest-bEarliest)/20, 1.0)*1000) / 1000
	result.ChangeScore = &score

	scanDate := end.Format("2006-01-02")
	result.ThumbLatestURL = c.uploadThumb(ctx, lat, lng, scanDate,
		fmt.Sprintf("planet_latest_%s.png", result.LatestDate), latestThumb)
	result.ThumbEarliestURL = c.uploadThumb(ctx, lat, lng, scanDate,
		fmt.Sprintf("planet_earliest_%s.png", result.EarliestDate), earliestThumb)
	return result, nil
}

func (c *Client) thumbnail(ctx context.Context, itemID string) ([]byte, error) {
	url := fmt.Sprintf("%s/item-types/PSScene/items/%s/thumb", c.tilesURL, itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "api-key "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("planet thumbnail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("planet thumbnail returned %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Client) uploadThumb(ctx context.Context, lat, lng float64, scanDate, filename string, data []byte) *string {
	if c.uploader == nil {
		return nil
	}
	key := storage.PointKey(lat, lng, scanDate, filename)
	url, err := c.uploader.Upload(ctx, key, data, "image/png")
	if err != nil {
		log.Printf("[Planet] thumbnail upload failed for %s: %v", key, err)
		return nil
	}
	return &url
}

// meanBrightness decodes a thumbnail and averages its grayscale values,
// 0 (black) to 255 (white).
func meanBrightness(data []byte) (float64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decoding thumbnail: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return 0, fmt.Errorf("empty thumbnail")
	}

	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			sum += float64(g.Y)
		}
	}
	return sum / float64(bounds.Dx()*bounds.Dy()), nil
}
