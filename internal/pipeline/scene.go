package pipeline

import (
	"context"
	"log"

	"github.com/keystone-reo/distress-scanner/internal/domain"
	"github.com/keystone-reo/distress-scanner/internal/schedule"
)

// PassScene is pass 2: Planet scene-pair change detection on the
// highest-distress parcels. Parcels without a usable pair still get their
// scan date stamped so the selector does not hand them out again.
func PassScene(ctx context.Context, deps *Deps, opts Options) (schedule.Summary, error) {
	if !deps.Planet.Enabled() {
		log.Printf("[Scene] no Planet API key configured, skipping pass")
		return schedule.Summary{}, nil
	}

	parcels, err := deps.Store.SelectForScenePair(ctx, opts.Filter)
	if err != nil {
		return schedule.Summary{}, err
	}
	log.Printf("[Scene] %d parcels pending scene pairs in %s", len(parcels), opts.Filter.County)
	if len(parcels) == 0 {
		return schedule.Summary{}, nil
	}

	cp := schedule.NewCheckpoint(deps.Config.Scan.CheckpointDir, "planet_refine")
	progress := schedule.NewProgress(len(parcels), opts.FlushEvery)

	summary := schedule.RunPool(ctx, opts.pool(cp, progress), parcels,
		func(ctx context.Context, p domain.Parcel) (domain.SceneResult, bool) {
			result, err := deps.Planet.ScenePair(ctx, p.ParcelID, p.County, p.Lat, p.Lng)
			if err != nil {
				// Search failure: leave the row unstamped so a later run
				// retries it.
				log.Printf("[Scene] search failed for %s: %v", p.ParcelID, err)
				return domain.SceneResult{}, false
			}
			if result.ChangeScore == nil {
				log.Printf("[Scene] %s skipped: insufficient_scenes (%d found)",
					p.ParcelID, result.SceneCount)
			}
			return result, true
		},
		func(batch []domain.SceneResult) error {
			if opts.DryRun {
				for _, r := range batch {
					score := -1.0
					if r.ChangeScore != nil {
						score = *r.ChangeScore
					}
					log.Printf("[Scene] DRY %s scenes=%d change=%.3f", r.ParcelID, r.SceneCount, score)
				}
				return nil
			}
			_, err := deps.Store.UpdateSceneResults(ctx, batch)
			return err
		})

	cp.MarkComplete(map[string]int{
		"processed": summary.Processed,
		"flushed":   summary.Flushed,
	}, summary.Total, summary.Elapsed)
	return summary, nil
}
