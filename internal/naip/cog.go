package naip

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net/http"
)

// cogReader reads pixel windows out of a Cloud-Optimized GeoTIFF without
// downloading it. COGs put the header and tile index at the front of the
// file, so one range request for the prefix plus one per touched tile is
// the whole cost (around two seconds per read on the Planetary Computer
// blobs).
type cogReader struct {
	url    string
	client *http.Client

	order binary.ByteOrder
	big   bool // BigTIFF

	width, height         int
	tileWidth, tileHeight int
	samplesPerPixel       int
	bitsPerSample         int
	compression           int
	predictor             int
	planar                int
	tileOffsets           []uint64
	tileByteCounts        []uint64

	originX, originY float64
	scaleX, scaleY   float64
	epsg             int

	prefix []byte
}

const cogPrefixBytes = 64 * 1024

// TIFF tags the reader cares about.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagSamplesPerPixel = 277
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
)

const (
	compressionNone       = 1
	compressionDeflate    = 8
	compressionDeflateOld = 32946
)

func openCOG(ctx context.Context, client *http.Client, url string) (*cogReader, error) {
	r := &cogReader{url: url, client: client}

	prefix, err := r.fetchRange(ctx, 0, cogPrefixBytes)
	if err != nil {
		return nil, fmt.Errorf("fetching COG header: %w", err)
	}
	r.prefix = prefix

	if len(prefix) < 16 {
		return nil, fmt.Errorf("truncated COG header")
	}
	switch string(prefix[:2]) {
	case "II":
		r.order = binary.LittleEndian
	case "MM":
		r.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a TIFF: %q", prefix[:2])
	}

	var ifdOffset uint64
	switch r.order.Uint16(prefix[2:4]) {
	case 42:
		ifdOffset = uint64(r.order.Uint32(prefix[4:8]))
	case 43:
		r.big = true
		ifdOffset = r.order.Uint64(prefix[8:16])
	default:
		return nil, fmt.Errorf("bad TIFF magic")
	}

	if err := r.parseIFD(ctx, ifdOffset); err != nil {
		return nil, err
	}
	if r.tileWidth == 0 || r.tileHeight == 0 {
		return nil, fmt.Errorf("image is not tiled")
	}
	if r.planar > 1 {
		return nil, fmt.Errorf("planar band layout unsupported")
	}
	if r.bitsPerSample != 8 {
		return nil, fmt.Errorf("unsupported sample depth %d", r.bitsPerSample)
	}
	if r.scaleX == 0 || r.scaleY == 0 {
		return nil, fmt.Errorf("missing geo transform")
	}
	return r, nil
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint64
	value []byte // inline value field, big enough for small counts
}

func (r *cogReader) parseIFD(ctx context.Context, offset uint64) error {
	entrySize := 12
	countSize := 2
	if r.big {
		entrySize = 20
		countSize = 8
	}

	head, err := r.readAt(ctx, offset, uint64(countSize))
	if err != nil {
		return fmt.Errorf("reading IFD count: %w", err)
	}
	var n uint64
	if r.big {
		n = r.order.Uint64(head)
	} else {
		n = uint64(r.order.Uint16(head))
	}

	raw, err := r.readAt(ctx, offset+uint64(countSize), n*uint64(entrySize))
	if err != nil {
		return fmt.Errorf("reading IFD entries: %w", err)
	}

	for i := uint64(0); i < n; i++ {
		e := raw[i*uint64(entrySize) : (i+1)*uint64(entrySize)]
		entry := ifdEntry{
			tag: r.order.Uint16(e[0:2]),
			typ: r.order.Uint16(e[2:4]),
		}
		if r.big {
			entry.count = r.order.Uint64(e[4:12])
			entry.value = e[12:20]
		} else {
			entry.count = uint64(r.order.Uint32(e[4:8]))
			entry.value = e[8:12]
		}
		if err := r.applyEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func typeSize(typ uint16) uint64 {
	switch typ {
	case 1, 2, 6, 7: // BYTE, ASCII, SBYTE, UNDEFINED
		return 1
	case 3, 8: // SHORT, SSHORT
		return 2
	case 4, 9, 11: // LONG, SLONG, FLOAT
		return 4
	case 5, 10, 12, 16, 17: // RATIONAL, SRATIONAL, DOUBLE, LONG8, SLONG8
		return 8
	}
	return 0
}

// entryData returns the value bytes, following the offset indirection when
// the value does not fit the inline field.
func (r *cogReader) entryData(ctx context.Context, e ifdEntry) ([]byte, error) {
	size := typeSize(e.typ) * e.count
	if size == 0 {
		return nil, fmt.Errorf("tag %d: unsupported type %d", e.tag, e.typ)
	}
	inline := uint64(len(e.value))
	if size <= inline {
		return e.value[:size], nil
	}
	var off uint64
	if r.big {
		off = r.order.Uint64(e.value)
	} else {
		off = uint64(r.order.Uint32(e.value))
	}
	return r.readAt(ctx, off, size)
}

func (r *cogReader) entryInts(ctx context.Context, e ifdEntry) ([]uint64, error) {
	data, err := r.entryData(ctx, e)
	if err != nil {
		return nil, err
	}
	size := typeSize(e.typ)
	out := make([]uint64, e.count)
	for i := range out {
		chunk := data[uint64(i)*size:]
		switch size {
		case 1:
			out[i] = uint64(chunk[0])
		case 2:
			out[i] = uint64(r.order.Uint16(chunk))
		case 4:
			out[i] = uint64(r.order.Uint32(chunk))
		case 8:
			out[i] = r.order.Uint64(chunk)
		}
	}
	return out, nil
}

func (r *cogReader) entryDoubles(ctx context.Context, e ifdEntry) ([]float64, error) {
	data, err := r.entryData(ctx, e)
	if err != nil {
		return nil, err
	}
	out := make([]float64, e.count)
	for i := range out {
		bits := r.order.Uint64(data[i*8:])
		out[i] = math.Float64frombits(bits)
	}
	return out, nil
}

func firstInt(vals []uint64) int {
	if len(vals) == 0 {
		return 0
	}
	return int(vals[0])
}

func (r *cogReader) applyEntry(ctx context.Context, e ifdEntry) error {
	switch e.tag {
	case tagImageWidth, tagImageLength, tagBitsPerSample, tagCompression,
		tagSamplesPerPixel, tagPlanarConfig, tagPredictor,
		tagTileWidth, tagTileLength, tagTileOffsets, tagTileByteCounts,
		tagGeoKeyDirectory:
		vals, err := r.entryInts(ctx, e)
		if err != nil {
			return err
		}
		switch e.tag {
		case tagImageWidth:
			r.width = firstInt(vals)
		case tagImageLength:
			r.height = firstInt(vals)
		case tagBitsPerSample:
			r.bitsPerSample = firstInt(vals)
		case tagCompression:
			r.compression = firstInt(vals)
		case tagSamplesPerPixel:
			r.samplesPerPixel = firstInt(vals)
		case tagPlanarConfig:
			r.planar = firstInt(vals)
		case tagPredictor:
			r.predictor = firstInt(vals)
		case tagTileWidth:
			r.tileWidth = firstInt(vals)
		case tagTileLength:
			r.tileHeight = firstInt(vals)
		case tagTileOffsets:
			r.tileOffsets = vals
		case tagTileByteCounts:
			r.tileByteCounts = vals
		case tagGeoKeyDirectory:
			r.epsg = parseGeoKeys(vals)
		}
	case tagModelPixelScale:
		vals, err := r.entryDoubles(ctx, e)
		if err != nil {
			return err
		}
		if len(vals) >= 2 {
			r.scaleX, r.scaleY = vals[0], vals[1]
		}
	case tagModelTiepoint:
		vals, err := r.entryDoubles(ctx, e)
		if err != nil {
			return err
		}
		if len(vals) >= 6 {
			r.originX, r.originY = vals[3], vals[4]
		}
	}
	return nil
}

// parseGeoKeys pulls the projected CRS code (GeoKey 3072) out of the
// GeoTIFF key directory: groups of four shorts, value inline when the
// location field is zero.
func parseGeoKeys(keys []uint64) int {
	for i := 4; i+3 < len(keys); i += 4 {
		if keys[i] == 3072 && keys[i+1] == 0 {
			return int(keys[i+3])
		}
	}
	return 0
}

func (r *cogReader) readAt(ctx context.Context, off, n uint64) ([]byte, error) {
	if off+n <= uint64(len(r.prefix)) {
		return r.prefix[off : off+n], nil
	}
	return r.fetchRange(ctx, off, n)
}

func (r *cogReader) fetchRange(ctx context.Context, off, n uint64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+n-1))

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("range request returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(n)))
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) < n && resp.StatusCode == http.StatusPartialContent {
		// Short tail range at end of file is fine for the header prefetch.
		return data, nil
	}
	return data, nil
}

func (r *cogReader) decodeTile(ctx context.Context, tile int) ([]byte, error) {
	if tile < 0 || tile >= len(r.tileOffsets) || tile >= len(r.tileByteCounts) {
		return nil, fmt.Errorf("tile %d out of range", tile)
	}
	raw, err := r.readAt(ctx, r.tileOffsets[tile], r.tileByteCounts[tile])
	if err != nil {
		return nil, fmt.Errorf("fetching tile %d: %w", tile, err)
	}

	var data []byte
	switch r.compression {
	case compressionNone, 0:
		data = raw
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("inflating tile %d: %w", tile, err)
		}
		data, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("inflating tile %d: %w", tile, err)
		}
	default:
		return nil, fmt.Errorf("unsupported compression %d", r.compression)
	}

	if r.predictor == 2 {
		rowBytes := r.tileWidth * r.samplesPerPixel
		for row := 0; row+rowBytes <= len(data); row += rowBytes {
			for i := r.samplesPerPixel; i < rowBytes; i++ {
				data[row+i] += data[row+i-r.samplesPerPixel]
			}
		}
	}
	return data, nil
}

// pixelNDVI is one COG window read.
type pixelNDVI struct {
	NDVI *float64
	Err  string
}

// windowNDVI averages per-pixel NDVI over a small window centered on the
// point. The window (3x3 at NAIP's 0.6 m GSD is about 2 m) smooths out
// single-pixel alignment landing on a driveway or roof shadow.
func (r *cogReader) windowNDVI(ctx context.Context, lat, lng float64, windowSize int) pixelNDVI {
	if r.samplesPerPixel < 4 {
		return pixelNDVI{Err: fmt.Sprintf("insufficient_bands: %d", r.samplesPerPixel)}
	}

	proj, err := projectorFor(r.epsg)
	if err != nil {
		return pixelNDVI{Err: err.Error()}
	}
	x, y := proj.forward(lng, lat)
	col := int(math.Floor((x - r.originX) / r.scaleX))
	row := int(math.Floor((r.originY - y) / r.scaleY))

	half := windowSize / 2
	rStart, cStart := max(0, row-half), max(0, col-half)
	rEnd, cEnd := min(r.height, row+half+1), min(r.width, col+half+1)
	if rStart >= rEnd || cStart >= cEnd {
		return pixelNDVI{Err: "pixel_out_of_bounds"}
	}

	tilesAcross := (r.width + r.tileWidth - 1) / r.tileWidth
	tiles := map[int][]byte{}

	var sum float64
	valid := 0
	for pr := rStart; pr < rEnd; pr++ {
		for pc := cStart; pc < cEnd; pc++ {
			ti := (pr/r.tileHeight)*tilesAcross + pc/r.tileWidth
			data, ok := tiles[ti]
			if !ok {
				data, err = r.decodeTile(ctx, ti)
				if err != nil {
					return pixelNDVI{Err: err.Error()}
				}
				tiles[ti] = data
			}
			idx := ((pr%r.tileHeight)*r.tileWidth + pc%r.tileWidth) * r.samplesPerPixel
			if idx+3 >= len(data) {
				return pixelNDVI{Err: "tile data truncated"}
			}
			red := float64(data[idx])
			nir := float64(data[idx+3])
			if nir+red > 0 {
				sum += (nir - red) / (nir + red)
				valid++
			}
		}
	}

	var ndvi float64
	if valid > 0 {
		ndvi = round4(sum / float64(valid))
	}
	return pixelNDVI{NDVI: &ndvi}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
