package sentinel

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"golang.org/x/image/vector"

	"github.com/keystone-reo/distress-scanner/internal/domain"
)

// Chart geometry. The dashboard renders these at half size, so 800x400 at
// 2 px strokes reads cleanly.
const (
	chartWidth  = 800
	chartHeight = 400
	chartMargin = 40
)

var (
	chartBG    = color.RGBA{255, 255, 255, 255}
	chartGrid  = color.RGBA{224, 224, 224, 255}
	chartLine  = color.RGBA{0x2e, 0x7d, 0x32, 255} // series green
	chartBand  = color.RGBA{0x66, 0xbb, 0x6a, 60}  // +-1 std fill
	chartTrend = color.RGBA{0xd3, 0x2f, 0x2f, 255} // trend red
)

// RenderTrendChart draws the monthly NDVI series with its +-1 std band and
// the fitted trend line, returning PNG bytes. NDVI axis is fixed at
// [-0.1, 1.0] so charts are comparable across parcels.
func RenderTrendChart(monthly []domain.MonthlyNDVI, slope *float64) ([]byte, error) {
	if len(monthly) == 0 {
		return nil, fmt.Errorf("no monthly data to chart")
	}

	img := image.NewRGBA(image.Rect(0, 0, chartWidth, chartHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{chartBG}, image.Point{}, draw.Src)

	// Horizontal gridlines every 0.25 NDVI.
	for v := 0.0; v <= 1.0; v += 0.25 {
		y := int(chartY(v))
		draw.Draw(img, image.Rect(chartMargin, y, chartWidth-chartMargin, y+1),
			&image.Uniform{chartGrid}, image.Point{}, draw.Src)
	}

	xs := make([]float32, len(monthly))
	ys := make([]float32, len(monthly))
	for i, m := range monthly {
		xs[i] = chartX(i, len(monthly))
		ys[i] = chartY(m.Mean)
	}

	// Std band behind the series.
	if len(monthly) > 1 {
		r := vector.NewRasterizer(chartWidth, chartHeight)
		r.MoveTo(xs[0], chartY(monthly[0].Mean-monthly[0].Std))
		for i := 1; i < len(monthly); i++ {
			r.LineTo(xs[i], chartY(monthly[i].Mean-monthly[i].Std))
		}
		for i := len(monthly) - 1; i >= 0; i-- {
			r.LineTo(xs[i], chartY(monthly[i].Mean+monthly[i].Std))
		}
		r.ClosePath()
		r.Draw(img, img.Bounds(), &image.Uniform{chartBand}, image.Point{})
	}

	// Series polyline with point markers.
	for i := 1; i < len(monthly); i++ {
		strokeLine(img, xs[i-1], ys[i-1], xs[i], ys[i], 2, chartLine)
	}
	for i := range monthly {
		marker := image.Rect(int(xs[i])-3, int(ys[i])-3, int(xs[i])+3, int(ys[i])+3)
		draw.Draw(img, marker, &image.Uniform{chartLine}, image.Point{}, draw.Src)
	}

	// Least-squares trend overlay.
	if slope != nil && len(monthly) >= 3 {
		intercept := meanOf(monthly) - *slope*float64(len(monthly)-1)/2
		y0 := chartY(intercept)
		y1 := chartY(intercept + *slope*float64(len(monthly)-1))
		strokeLine(img, xs[0], y0, xs[len(xs)-1], y1, 1.5, chartTrend)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding trend chart: %w", err)
	}
	return buf.Bytes(), nil
}

func chartX(i, n int) float32 {
	if n == 1 {
		return chartWidth / 2
	}
	span := float32(chartWidth - 2*chartMargin)
	return chartMargin + span*float32(i)/float32(n-1)
}

// chartY maps NDVI in [-0.1, 1.0] to pixel rows, clamped to the plot area.
func chartY(v float64) float32 {
	if v < -0.1 {
		v = -0.1
	}
	if v > 1.0 {
		v = 1.0
	}
	span := float64(chartHeight - 2*chartMargin)
	return float32(chartHeight-chartMargin) - float32((v+0.1)/1.1*span)
}

func meanOf(monthly []domain.MonthlyNDVI) float64 {
	sum := 0.0
	for _, m := range monthly {
		sum += m.Mean
	}
	return sum / float64(len(monthly))
}

// strokeLine rasterizes one line segment as a filled quad; the vector
// rasterizer only fills paths, it does not stroke them.
func strokeLine(img draw.Image, x1, y1, x2, y2, width float32, c color.Color) {
	dx, dy := x2-x1, y2-y1
	length := float32(math.Sqrt(float64(dx*dx + dy*dy)))
	if length == 0 {
		return
	}
	// Unit normal scaled to half width.
	nx := -dy / length * width / 2
	ny := dx / length * width / 2

	r := vector.NewRasterizer(chartWidth, chartHeight)
	r.MoveTo(x1+nx, y1+ny)
	r.LineTo(x2+nx, y2+ny)
	r.LineTo(x2-nx, y2-ny)
	r.LineTo(x1-nx, y1-ny)
	r.ClosePath()
	r.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{})
}
