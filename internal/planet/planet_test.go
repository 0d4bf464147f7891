package planet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-reo/distress-scanner/internal/config"
)

type memUploader struct {
	keys []string
}

func (m *memUploader) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	m.keys = append(m.keys, key)
	return "https://cdn.test/" + key, nil
}

func (m *memUploader) Exists(context.Context, string) (bool, error) { return false, nil }

func grayPNG(t *testing.T, level uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestClient(t *testing.T, recent, historical string, thumbs map[string][]byte) (*Client, *memUploader) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "api-key test-key", r.Header.Get("Authorization"))

		var body struct {
			ItemTypes []string `json:"item_types"`
			Filter    struct {
				Config []map[string]any `json:"config"`
			} `json:"filter"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"PSScene"}, body.ItemTypes)

		// The cloud ceiling tells recent and historical searches apart.
		cloud := body.Filter.Config[2]["config"].(map[string]any)["lte"].(float64)
		if cloud > 0.25 {
			fmt.Fprint(w, recent)
		} else {
			fmt.Fprint(w, historical)
		}
	})
	mux.HandleFunc("/item-types/PSScene/items/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		id := parts[len(parts)-2]
		data, ok := thumbs[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	up := &memUploader{}
	c := NewClient(config.PlanetConfig{
		APIKey:    "test-key",
		SearchURL: srv.URL + "/search",
		TilesURL:  srv.URL,
	}, up)
	c.now = func() time.Time { return time.Date(2025, 8, 26, 0, 0, 0, 0, time.UTC) }
	return c, up
}

func scene(id, acquired string, cloud float64) string {
	return fmt.Sprintf(`{"id": %q, "properties": {"acquired": %q, "cloud_cover": %v}}`,
		id, acquired, cloud)
}

func TestScenePair(t *testing.T) {
	recent := `{"features": [` +
		scene("s-old", "2025-08-10T18:00:00Z", 0.1) + "," +
		scene("s-latest", "2025-08-20T18:00:00Z", 0.05) + `]}`
	historical := `{"features": [` +
		scene("s-jan", "2025-01-10T18:00:00Z", 0.1) + "," +
		scene("s-sep", "2024-09-15T18:00:00Z", 0.15) + `]}`
	thumbs := map[string][]byte{
		"s-latest": grayPNG(t, 150),
		"s-sep":    grayPNG(t, 140),
	}

	c, up := newTestClient(t, recent, historical, thumbs)
	result, err := c.ScenePair(context.Background(), "P1", "Mohave", 35.19, -114.05)
	require.NoError(t, err)

	assert.Equal(t, 2, result.SceneCount)
	assert.Equal(t, "2025-08-20", result.LatestDate)
	// Oldest in-window historical scene wins.
	assert.Equal(t, "2024-09-15", result.EarliestDate)
	require.NotNil(t, result.TemporalSpanDays)
	assert.Equal(t, 339, *result.TemporalSpanDays)

	// |150-140| / 20 = 0.5.
	require.NotNil(t, result.ChangeScore)
	assert.InDelta(t, 0.5, *result.ChangeScore, 1e-9)

	require.NotNil(t, result.ThumbLatestURL)
	require.NotNil(t, result.ThumbEarliestURL)
	assert.Contains(t, *result.ThumbLatestURL, "planet_latest_2025-08-20.png")
	assert.Contains(t, *result.ThumbEarliestURL, "planet_earliest_2024-09-15.png")
	assert.Len(t, up.keys, 2)
	assert.True(t, strings.HasPrefix(up.keys[0], "points/35.1900_-114.0500/"))
}

func TestScenePairChangeScoreCaps(t *testing.T) {
	recent := `{"features": [` + scene("s-latest", "2025-08-20T18:00:00Z", 0.05) + `]}`
	historical := `{"features": [` + scene("s-sep", "2024-09-15T18:00:00Z", 0.15) + `]}`
	thumbs := map[string][]byte{
		"s-latest": grayPNG(t, 240),
		"s-sep":    grayPNG(t, 40),
	}

	c, _ := newTestClient(t, recent, historical, thumbs)
	result, err := c.ScenePair(context.Background(), "P1", "Mohave", 35.19, -114.05)
	require.NoError(t, err)
	require.NotNil(t, result.ChangeScore)
	assert.InDelta(t, 1.0, *result.ChangeScore, 1e-9)
}

func TestScenePairNoHistoricalCounterpart(t *testing.T) {
	recent := `{"features": [` + scene("s-latest", "2025-08-20T18:00:00Z", 0.05) + `]}`
	c, up := newTestClient(t, recent, `{"features": []}`, nil)

	result, err := c.ScenePair(context.Background(), "P1", "Mohave", 35.19, -114.05)
	require.NoError(t, err)

	assert.Equal(t, 1, result.SceneCount)
	assert.Equal(t, "2025-08-20", result.LatestDate)
	assert.Nil(t, result.ChangeScore)
	assert.Nil(t, result.TemporalSpanDays)
	assert.Empty(t, up.keys)
}

func TestScenePairNoRecentScenes(t *testing.T) {
	c, _ := newTestClient(t, `{"features": []}`, `{"features": []}`, nil)

	result, err := c.ScenePair(context.Background(), "P1", "Mohave", 35.19, -114.05)
	require.NoError(t, err)
	assert.Equal(t, 0, result.SceneCount)
	assert.Nil(t, result.ChangeScore)
}

func TestMeanBrightness(t *testing.T) {
	b, err := meanBrightness(grayPNG(t, 77))
	require.NoError(t, err)
	assert.InDelta(t, 77, b, 1e-9)

	_, err = meanBrightness([]byte("not an image"))
	assert.Error(t, err)
}

func TestMeanBrightnessColor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	b, err := meanBrightness(buf.Bytes())
	require.NoError(t, err)
	assert.InDelta(t, 255, b, 1e-9)
}
