package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/keystone-reo/distress-scanner/internal/domain"
	"github.com/keystone-reo/distress-scanner/internal/evaluate"
	"github.com/keystone-reo/distress-scanner/internal/schedule"
	"github.com/keystone-reo/distress-scanner/internal/storage"
)

// Pass1 is the wide fast pass: one NAIP identify call and one FEMA zone
// query per parcel, flags evaluated from those two readings alone.
func Pass1(ctx context.Context, deps *Deps, opts Options) (schedule.Summary, error) {
	parcels, err := deps.Store.SelectUnscanned(ctx, opts.Filter)
	if err != nil {
		return schedule.Summary{}, err
	}
	log.Printf("[Pass1] %d unscanned parcels in %s", len(parcels), opts.Filter.County)
	if len(parcels) == 0 {
		return schedule.Summary{}, nil
	}

	cp := schedule.NewCheckpoint(deps.Config.Scan.CheckpointDir, "ndvi_scan")
	progress := schedule.NewProgress(len(parcels), opts.FlushEvery)

	summary := schedule.RunPool(ctx, opts.pool(cp, progress), parcels,
		func(ctx context.Context, p domain.Parcel) (domain.ScanResult, bool) {
			return deps.scanParcel(ctx, p), true
		},
		func(batch []domain.ScanResult) error {
			if opts.DryRun {
				for _, r := range batch {
					log.Printf("[Pass1] DRY %s score=%.2f flags=%s worthy=%t",
						r.ParcelID, r.DistressScore, domain.FlagsJSON(r.Flags), r.SentinelWorthy)
				}
				return nil
			}
			_, err := deps.Store.UpdateScanResults(ctx, batch)
			return err
		})

	cp.MarkComplete(map[string]int{
		"processed": summary.Processed,
		"flushed":   summary.Flushed,
	}, summary.Total, summary.Elapsed)
	return summary, nil
}

// scanParcel collects the pass-1 readings for one parcel and evaluates
// its flags.
func (d *Deps) scanParcel(ctx context.Context, p domain.Parcel) domain.ScanResult {
	point := d.NAIP.FastNDVI(ctx, p.Lat, p.Lng)
	zone := d.FEMA.QueryFloodZone(ctx, p.Lat, p.Lng)

	aerial := &evaluate.Aerial{CurrentNDVI: point.NDVI, Failed: point.NDVI == nil && point.Err != ""}
	flood := &evaluate.Flood{
		Zone:    zone.Zone,
		Risk:    zone.Risk,
		SFHA:    zone.SFHA,
		Subtype: zone.Subtype,
		Failed:  zone.Err != "",
	}

	flags := evaluate.AllFlags(aerial, nil, flood, nil)

	result := domain.ScanResult{
		ParcelID:       p.ParcelID,
		County:         p.County,
		NDVIScore:      point.NDVI,
		NDVIDate:       point.Date,
		NDVICategory:   point.Category,
		Flags:          flags,
		DistressScore:  evaluate.DistressScore(flags),
		SentinelWorthy: evaluate.SentinelWorthy(aerial, flood, flags),
		ScanPass:       1,
		ScanDate:       d.now(),
	}
	if zone.Err == "" {
		result.FEMAZone = &zone.Zone
		result.FEMARisk = &zone.Risk
		result.FEMASFHA = &zone.SFHA
	}
	if zone.Err == "" && zone.SFHA && d.Uploader != nil {
		d.uploadFloodOverlay(ctx, p)
	}
	return result
}

// uploadFloodOverlay exports the NFHL overlay around an SFHA parcel as a
// browse artifact for lead review. Best effort, not recorded on the row.
func (d *Deps) uploadFloodOverlay(ctx context.Context, p domain.Parcel) {
	key := storage.ParcelKey(p.County, p.State, p.ParcelID,
		d.now().Format("2006-01-02"), "fema_flood_overlay.png")
	if ok, err := d.Uploader.Exists(ctx, key); err == nil && ok {
		return
	}

	const span = 0.002 // ~200m box around the parcel point
	tile, err := d.FEMA.MapTile(ctx, p.Lng-span, p.Lat-span, p.Lng+span, p.Lat+span, 512, 512)
	if err != nil {
		log.Printf("[Pass1] flood overlay export failed for %s: %v", p.ParcelID, err)
		return
	}
	if _, err := d.Uploader.Upload(ctx, key, tile, "image/png"); err != nil {
		log.Printf("[Pass1] flood overlay upload failed for %s: %v", p.ParcelID, err)
	}
}

// PassSummary formats a run summary line for command output.
func PassSummary(name string, s schedule.Summary) string {
	return fmt.Sprintf("%s: %d/%d processed, %d flushed, %d lost in %s",
		name, s.Processed, s.Total, s.Flushed, s.Lost, s.Elapsed.Round(time.Second))
}
