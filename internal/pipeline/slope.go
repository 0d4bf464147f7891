package pipeline

import (
	"context"
	"log"
	"strconv"
	"strings"

	"github.com/keystone-reo/distress-scanner/internal/domain"
	"github.com/keystone-reo/distress-scanner/internal/schedule"
	"github.com/keystone-reo/distress-scanner/internal/scoring"
	"github.com/keystone-reo/distress-scanner/internal/store"
)

// SlopeOptions are the pass-1.5 knobs. Zero weights mean the store defaults;
// CompositeOnly skips history collection and just recomputes composites, for
// re-weighting a county without re-reading a decade of imagery.
type SlopeOptions struct {
	CompositeOnly bool
	NDVIWeight    float64
	FEMAWeight    float64
}

// PassSlope is pass 1.5: multi-year NAIP history per parcel, a fitted
// NDVI slope, then the county-level composite recompute.
func PassSlope(ctx context.Context, deps *Deps, opts Options, sopts SlopeOptions) (schedule.Summary, error) {
	ndviW, femaW := sopts.NDVIWeight, sopts.FEMAWeight
	if ndviW == 0 && femaW == 0 {
		ndviW, femaW = store.CompositeNDVIWeight, store.CompositeFEMAWeight
	}

	if sopts.CompositeOnly {
		if opts.DryRun {
			log.Printf("[Slope] DRY composite-only for %s (w_ndvi=%.2f w_fema=%.2f)",
				opts.Filter.County, ndviW, femaW)
			return schedule.Summary{}, nil
		}
		updated, err := deps.Store.ComputeComposites(ctx, opts.Filter.County, ndviW, femaW)
		if err != nil {
			return schedule.Summary{}, err
		}
		log.Printf("[Slope] composites recomputed for %d rows", updated)
		return schedule.Summary{}, nil
	}

	parcels, err := deps.Store.SelectNeedingSlope(ctx, opts.Filter)
	if err != nil {
		return schedule.Summary{}, err
	}
	log.Printf("[Slope] %d parcels needing history in %s", len(parcels), opts.Filter.County)
	if len(parcels) == 0 {
		return schedule.Summary{}, nil
	}

	cp := schedule.NewCheckpoint(deps.Config.Scan.CheckpointDir, "historical_slope")
	progress := schedule.NewProgress(len(parcels), opts.FlushEvery)

	summary := schedule.RunPool(ctx, opts.pool(cp, progress), parcels,
		func(ctx context.Context, p domain.Parcel) (domain.SlopeResult, bool) {
			return deps.slopeParcel(ctx, p), true
		},
		func(batch []domain.SlopeResult) error {
			if opts.DryRun {
				for _, r := range batch {
					slope := "--"
					if r.Slope != nil {
						slope = strconv.FormatFloat(*r.Slope, 'f', 6, 64)
					}
					log.Printf("[Slope] DRY %s slope=%s years=%s", r.ParcelID, slope, r.HistoryYears)
				}
				return nil
			}
			_, err := deps.Store.UpdateSlopeResults(ctx, batch)
			return err
		})

	// Percentiles shift as rows gain slopes, so the composite recompute
	// runs once per pass over the whole county.
	if !opts.DryRun && !summary.Interrupted {
		updated, err := deps.Store.ComputeComposites(ctx, opts.Filter.County, ndviW, femaW)
		if err != nil {
			return summary, err
		}
		log.Printf("[Slope] composites recomputed for %d rows", updated)
	}

	cp.MarkComplete(map[string]int{
		"processed": summary.Processed,
		"flushed":   summary.Flushed,
	}, summary.Total, summary.Elapsed)
	return summary, nil
}

func (d *Deps) slopeParcel(ctx context.Context, p domain.Parcel) domain.SlopeResult {
	history := d.NAIP.HistoricalNDVI(ctx, p.Lat, p.Lng)

	obs := make([]scoring.Observation, 0, len(history))
	years := make([]string, 0, len(history))
	for _, h := range history {
		if h.NDVI == nil {
			continue
		}
		obs = append(obs, scoring.Observation{Year: float64(h.Year), NDVI: *h.NDVI})
		years = append(years, strconv.Itoa(h.Year))
	}

	return domain.SlopeResult{
		ParcelID:     p.ParcelID,
		County:       p.County,
		Slope:        scoring.NDVISlope(obs),
		HistoryCount: len(obs),
		HistoryYears: strings.Join(years, ","),
	}
}
