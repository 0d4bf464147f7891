package naip

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-reo/distress-scanner/internal/config"
)

func TestParseBands(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    float64
		wantErr string
	}{
		{"four bands", "50, 60, 70, 150", 0.5, ""},
		{"space separated", "50 60 70 150", 0.5, ""},
		{"zero denominator", "0, 10, 10, 0", 0.0, ""},
		{"nodata", "NoData", 0, "no_imagery_at_location"},
		{"nodata long form", "Pixel value is NoData", 0, "no_imagery_at_location"},
		{"empty", "", 0, "no_imagery_at_location"},
		{"three bands", "50, 60, 70", 0, "no_nir_band"},
		{"two bands", "50, 60", 0, "unexpected_band_count: 2"},
		{"garbage", "50, abc, 70, 150", 0, `band_parse_failure: "abc"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ndvi, errStr := parseBands(tt.value)
			assert.Equal(t, tt.wantErr, errStr)
			if tt.wantErr == "" {
				require.NotNil(t, ndvi)
				assert.InDelta(t, tt.want, *ndvi, 1e-9)
			} else {
				assert.Nil(t, ndvi)
			}
		})
	}
}

func TestCategory(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	assert.Equal(t, "no_data", Category(nil))
	assert.Equal(t, "bare", Category(f(0.05)))
	assert.Equal(t, "minimal", Category(f(0.10)))
	assert.Equal(t, "minimal", Category(f(0.29)))
	assert.Equal(t, "sparse", Category(f(0.30)))
	assert.Equal(t, "moderate", Category(f(0.50)))
	assert.Equal(t, "dense", Category(f(0.65)))
}

func TestFastNDVI(t *testing.T) {
	// acquisition_date only counts on Category 1 tiles.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "esriGeometryPoint", r.URL.Query().Get("geometryType"))
		fmt.Fprint(w, `{
			"value": "50, 60, 70, 150",
			"catalogItems": {"features": [
				{"attributes": {"Category": 2, "acquisition_date": 1500000000000}},
				{"attributes": {"Category": 1, "acquisition_date": 1686700800000}}
			]}
		}`)
	}))
	defer srv.Close()

	c := NewClient(config.NAIPConfig{IdentifyURL: srv.URL}, nil)
	got := c.FastNDVI(context.Background(), 35.19, -114.05)

	require.Empty(t, got.Err)
	require.NotNil(t, got.NDVI)
	assert.InDelta(t, 0.5, *got.NDVI, 1e-9)
	assert.Equal(t, "dense", got.Category)
	assert.Equal(t, "2023-06-14", got.Date)
}

func TestFastNDVIYearFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"value": "100, 100, 100, 100",
			"catalogItems": {"features": [{"attributes": {"Year": 2020}}]}
		}`)
	}))
	defer srv.Close()

	c := NewClient(config.NAIPConfig{IdentifyURL: srv.URL}, nil)
	got := c.FastNDVI(context.Background(), 35.19, -114.05)
	assert.Equal(t, "2020-01-01", got.Date)
}

func TestSearchItemsDedupesYears(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		fmt.Fprint(w, `{"features": [
			{"properties": {"naip:year": "2022", "datetime": "2022-06-11T16:00:00Z"},
			 "assets": {"image": {"href": "https://example.com/a.tif"}}},
			{"properties": {"naip:year": "2022", "datetime": "2022-06-10T16:00:00Z"},
			 "assets": {"image": {"href": "https://example.com/b.tif"}}},
			{"properties": {"naip:year": 2020, "datetime": "2020-05-01T16:00:00Z"},
			 "assets": {"image": {"href": "https://example.com/c.tif"}}}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(config.NAIPConfig{STACURL: srv.URL}, nil)
	items, err := c.searchItems(context.Background(), 35.19, -114.05)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, StacItem{Year: 2022, Date: "2022-06-11", COGURL: "https://example.com/a.tif"}, items[0])
	assert.Equal(t, StacItem{Year: 2020, Date: "2020-05-01", COGURL: "https://example.com/c.tif"}, items[1])
}

func TestMeanHistorical(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	assert.Nil(t, MeanHistorical(nil))
	got := MeanHistorical([]YearNDVI{
		{Year: 2020, NDVI: f(0.30)},
		{Year: 2022, NDVI: f(0.50)},
		{Year: 2018, NDVI: nil},
	})
	require.NotNil(t, got)
	assert.InDelta(t, 0.40, *got, 1e-9)
}

func TestProjectorForwardCentralMeridian(t *testing.T) {
	p, err := projectorFor(26912) // NAD83 / UTM 12N
	require.NoError(t, err)

	x, y := p.forward(-111.0, 34.0)
	assert.InDelta(t, 500000.0, x, 0.01)
	assert.InDelta(t, 3762155.98, y, 0.1)

	x, y = p.forward(-114.05, 35.19)
	assert.InDelta(t, 222282.93, x, 0.5)
	assert.InDelta(t, 3898375.86, y, 0.5)
}

func TestProjectorForUnsupportedCRS(t *testing.T) {
	_, err := projectorFor(4326)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EPSG:4326")
}

// synthTIFF builds a minimal tiled 4-band GeoTIFF: one 16x16 tile,
// uncompressed, uint8, georeferenced so that (lat, lng) lands in the middle
// of the tile.
func synthTIFF(t *testing.T, lat, lng float64, red, nir byte) []byte {
	t.Helper()

	p, err := projectorFor(26912)
	require.NoError(t, err)
	px, py := p.forward(lng, lat)

	const (
		size  = 16
		spp   = 4
		scale = 0.6
	)
	originX := px - 8*scale
	originY := py + 8*scale

	tile := make([]byte, size*size*spp)
	for i := 0; i < len(tile); i += spp {
		tile[i] = red
		tile[i+1] = 90
		tile[i+2] = 80
		tile[i+3] = nir
	}

	type entry struct {
		tag, typ uint16
		count    uint32
		value    uint32
	}

	// Layout: header(8) + count(2) + 13 entries(156) + next(4) = 170,
	// then out-of-line data, then tile data.
	geoKeys := []uint16{1, 1, 0, 1, 3072, 0, 1, 26912}
	geoOff := uint32(170)
	scaleOff := geoOff + uint32(len(geoKeys)*2)
	tieOff := scaleOff + 3*8
	tileOff := tieOff + 6*8

	entries := []entry{
		{256, 3, 1, size},
		{257, 3, 1, size},
		{258, 3, 1, 8},
		{259, 3, 1, 1},
		{277, 3, 1, spp},
		{284, 3, 1, 1},
		{322, 3, 1, size},
		{323, 3, 1, size},
		{324, 4, 1, tileOff},
		{325, 4, 1, uint32(len(tile))},
		{33550, 12, 3, scaleOff},
		{33922, 12, 6, tieOff},
		{34735, 3, uint32(len(geoKeys)), geoOff},
	}

	var buf bytes.Buffer
	le := binary.LittleEndian
	buf.WriteString("II")
	binary.Write(&buf, le, uint16(42))
	binary.Write(&buf, le, uint32(8)) // IFD offset
	binary.Write(&buf, le, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, le, e.tag)
		binary.Write(&buf, le, e.typ)
		binary.Write(&buf, le, e.count)
		binary.Write(&buf, le, e.value)
	}
	binary.Write(&buf, le, uint32(0)) // no next IFD

	require.Equal(t, int(geoOff), buf.Len())
	binary.Write(&buf, le, geoKeys)
	binary.Write(&buf, le, []float64{scale, scale, 0})
	binary.Write(&buf, le, []float64{0, 0, 0, originX, originY, 0})
	require.Equal(t, int(tileOff), buf.Len())
	buf.Write(tile)

	return buf.Bytes()
}

func serveTIFF(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "img.tif", time.Now(), bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCOGWindowNDVI(t *testing.T) {
	const lat, lng = 35.19, -114.05
	srv := serveTIFF(t, synthTIFF(t, lat, lng, 50, 150))

	reader, err := openCOG(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 26912, reader.epsg)
	assert.Equal(t, 16, reader.width)

	px := reader.windowNDVI(context.Background(), lat, lng, 3)
	require.Empty(t, px.Err)
	require.NotNil(t, px.NDVI)
	assert.InDelta(t, 0.5, *px.NDVI, 1e-9)
}

func TestCOGWindowOutOfBounds(t *testing.T) {
	srv := serveTIFF(t, synthTIFF(t, 35.19, -114.05, 50, 150))

	reader, err := openCOG(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)

	// A point hundreds of km away projects far outside the 16px image.
	px := reader.windowNDVI(context.Background(), 33.0, -112.0, 3)
	assert.Equal(t, "pixel_out_of_bounds", px.Err)
	assert.Nil(t, px.NDVI)
}

func TestCOGRejectsNonTIFF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	defer srv.Close()

	_, err := openCOG(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a TIFF")
}
