package pipeline

import (
	"context"
	"log"
	"math"

	"github.com/keystone-reo/distress-scanner/internal/domain"
	"github.com/keystone-reo/distress-scanner/internal/evaluate"
	"github.com/keystone-reo/distress-scanner/internal/govern"
	"github.com/keystone-reo/distress-scanner/internal/schedule"
	"github.com/keystone-reo/distress-scanner/internal/scoring"
	"github.com/keystone-reo/distress-scanner/internal/sentinel"
	"github.com/keystone-reo/distress-scanner/internal/storage"
)

// Data source labels stored on the row.
const (
	sourceSentinel = "Sentinel-2"
	sourceLandsat  = "Landsat"
)

// TrendOptions are the pass-1.75 knobs. RateSec spaces upstream requests;
// MaxRequests caps how many this run may spend (0 = unlimited). The Landsat
// path costs one request per month of history, Sentinel one per parcel.
type TrendOptions struct {
	RateSec     float64
	MaxRequests int
}

// PassTrend is pass 1.75: monthly NDVI trend for the sentinel_worthy
// parcels, Sentinel-2 when credentials exist, Landsat otherwise, with the
// pass-1 flags re-scored against the trend.
func PassTrend(ctx context.Context, deps *Deps, opts Options, topts TrendOptions) (schedule.Summary, error) {
	parcels, err := deps.Store.SelectSentinelWorthy(ctx, opts.Filter)
	if err != nil {
		return schedule.Summary{}, err
	}
	if topts.MaxRequests > 0 {
		if budget := trendBudget(deps, topts.MaxRequests); len(parcels) > budget {
			log.Printf("[Trend] request budget %d covers %d of %d parcels",
				topts.MaxRequests, budget, len(parcels))
			parcels = parcels[:budget]
		}
	}
	log.Printf("[Trend] %d sentinel-worthy parcels pending in %s (source=%s)",
		len(parcels), opts.Filter.County, deps.trendSource())
	if len(parcels) == 0 {
		return schedule.Summary{}, nil
	}

	var pacer *govern.Governor
	if topts.RateSec > 0 {
		pacer = govern.New(topts.RateSec, topts.RateSec)
	}

	cp := schedule.NewCheckpoint(deps.Config.Scan.CheckpointDir, "sentinel_enrich")
	progress := schedule.NewProgress(len(parcels), opts.FlushEvery)

	summary := schedule.RunPool(ctx, opts.pool(cp, progress), parcels,
		func(ctx context.Context, p domain.Parcel) (domain.TrendResult, bool) {
			if pacer != nil {
				if err := pacer.Wait(ctx); err != nil {
					return domain.TrendResult{}, false
				}
			}
			return deps.trendParcel(ctx, p), true
		},
		func(batch []domain.TrendResult) error {
			if opts.DryRun {
				for _, r := range batch {
					log.Printf("[Trend] DRY %s direction=%s months=%d score=%.2f",
						r.ParcelID, r.Direction, r.MonthsWithData, r.DistressScore)
				}
				return nil
			}
			_, err := deps.Store.UpdateTrendResults(ctx, batch)
			return err
		})

	cp.MarkComplete(map[string]int{
		"processed": summary.Processed,
		"flushed":   summary.Flushed,
	}, summary.Total, summary.Elapsed)
	return summary, nil
}

// trendBudget converts an upstream request budget into a parcel count.
func trendBudget(deps *Deps, maxRequests int) int {
	perParcel := 1
	if !(deps.Sentinel != nil && deps.Sentinel.Enabled()) {
		perParcel = deps.Config.Sentinel.Months
	}
	if perParcel < 1 {
		perParcel = 1
	}
	return maxRequests / perParcel
}

func (d *Deps) trendSource() string {
	if d.Sentinel != nil && d.Sentinel.Enabled() {
		return sourceSentinel
	}
	return sourceLandsat
}

func (d *Deps) trendParcel(ctx context.Context, p domain.Parcel) domain.TrendResult {
	result := domain.TrendResult{
		ParcelID:   p.ParcelID,
		County:     p.County,
		Direction:  "insufficient_data",
		DataSource: d.trendSource(),
		ScanPass:   2,
		ScanDate:   d.now(),
	}

	var monthly []domain.MonthlyNDVI
	if d.Sentinel != nil && d.Sentinel.Enabled() {
		var err error
		monthly, err = d.Sentinel.MonthlyNDVI(ctx, p.Lat, p.Lng)
		if err != nil {
			log.Printf("[Trend] sentinel failed for %s, falling back to landsat: %v", p.ParcelID, err)
			result.DataSource = sourceLandsat
			monthly = d.Landsat.MonthlyNDVI(ctx, p.Lat, p.Lng, d.Config.Sentinel.Months)
		}
	} else {
		monthly = d.Landsat.MonthlyNDVI(ctx, p.Lat, p.Lng, d.Config.Sentinel.Months)
	}

	result.MonthsWithData = len(monthly)

	values := make([]float64, len(monthly))
	for i, m := range monthly {
		values[i] = m.Mean
	}
	var earliest *float64
	if len(values) > 0 {
		latest := values[len(values)-1]
		result.LatestNDVI = &latest
		earliest = &values[0]
		mean := math.Round(meanOf(values)*10000) / 10000
		result.MeanNDVI = &mean
	}
	result.Slope, result.Direction = scoring.MonthlyTrend(values)

	// Re-score with the trend folded in. The pass-1 readings ride along on
	// the selected parcel row.
	aerial := &evaluate.Aerial{CurrentNDVI: p.NDVIScore}
	var flood *evaluate.Flood
	if p.FEMAZone != "" {
		flood = &evaluate.Flood{Zone: p.FEMAZone, Risk: p.FEMARisk, SFHA: p.FEMASFHA}
	}
	trend := &evaluate.Trend{
		Slope:     result.Slope,
		Direction: result.Direction,
		Latest:    result.LatestNDVI,
		Earliest:  earliest,
	}
	result.Flags = evaluate.AllFlags(aerial, trend, flood, nil)
	result.DistressScore = evaluate.DistressScore(result.Flags)

	if len(monthly) > 0 && d.Uploader != nil {
		result.ChartURL = d.uploadTrendChart(ctx, p, monthly, result.Slope)
	}
	return result
}

func (d *Deps) uploadTrendChart(ctx context.Context, p domain.Parcel,
	monthly []domain.MonthlyNDVI, slope *float64) *string {

	chart, err := sentinel.RenderTrendChart(monthly, slope)
	if err != nil {
		log.Printf("[Trend] chart render failed for %s: %v", p.ParcelID, err)
		return nil
	}
	key := storage.PointKey(p.Lat, p.Lng, d.now().Format("2006-01-02"), "sentinel_ndvi_trend.png")
	url, err := d.Uploader.Upload(ctx, key, chart, "image/png")
	if err != nil {
		log.Printf("[Trend] chart upload failed for %s: %v", p.ParcelID, err)
		return nil
	}
	return &url
}

func meanOf(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
