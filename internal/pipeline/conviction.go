package pipeline

import (
	"context"
	"log"
	"strings"

	"github.com/keystone-reo/distress-scanner/internal/domain"
	"github.com/keystone-reo/distress-scanner/internal/scoring"
)

// ConvictionOptions are the pass-2.5 knobs.
type ConvictionOptions struct {
	SkipMotivation bool // score only, leave motivation_scores untouched
}

// PassConviction is pass 2.5: fuse the distress composite, the motivation
// signal aggregate, and the vacancy determination into one conviction score
// per parcel, then rebuild the shared motivation_scores table. Set-based,
// no external calls, so no worker pool.
func PassConviction(ctx context.Context, deps *Deps, opts Options, copts ConvictionOptions) (int, error) {
	county, state := opts.Filter.County, opts.Filter.State

	rows, err := deps.Store.FetchConvictionRows(ctx, county, state)
	if err != nil {
		return 0, err
	}
	log.Printf("[Conviction] %d parcels in %s, %s (model %s)",
		len(rows), county, state, scoring.ConvictionModel)
	if len(rows) == 0 {
		return 0, nil
	}

	results := make([]domain.ConvictionResult, 0, len(rows))
	scored := 0
	for _, r := range rows {
		c := scoring.ComputeConviction(scoring.ConvictionInput{
			Composite:   r.Composite,
			MCRaw:       r.MCRaw,
			MCCount:     r.MCCount,
			FlagVacancy: r.FlagVacancy,
			VacancyConf: r.VacancyConf,
			USPSError:   r.USPSError,
		})
		if c.Score != nil {
			scored++
		}
		results = append(results, domain.ConvictionResult{
			ParcelID:     r.ParcelID,
			County:       county,
			Score:        c.Score,
			Base:         c.Base,
			VacancyBonus: c.VacancyBonus,
			MCRaw:        r.MCRaw,
			MCCount:      r.MCCount,
			MCCodes:      r.MCCodes,
			Components:   strings.Join(c.Components, ","),
		})
	}

	logConvictionDistribution(results)

	if opts.DryRun {
		for _, r := range results {
			if r.Score == nil {
				continue
			}
			log.Printf("[Conviction] DRY %s score=%.2f components=%s", r.ParcelID, *r.Score, r.Components)
		}
		return scored, nil
	}

	if _, err := deps.Store.FlushConviction(ctx, results); err != nil {
		return scored, err
	}
	if copts.SkipMotivation {
		log.Printf("[Conviction] %d scored, motivation backfill skipped", scored)
		return scored, nil
	}
	backfilled, err := deps.Store.BackfillMotivationScores(ctx, county, state, scoring.ConvictionModel, rows)
	if err != nil {
		return scored, err
	}
	log.Printf("[Conviction] %d scored, %d motivation rows backfilled", scored, backfilled)
	return scored, nil
}

func logConvictionDistribution(results []domain.ConvictionResult) {
	var hot, warm, cool, cold, unranked int
	for _, r := range results {
		switch {
		case r.Score == nil:
			unranked++
		case *r.Score >= 8:
			hot++
		case *r.Score >= 6:
			warm++
		case *r.Score >= 4:
			cool++
		default:
			cold++
		}
	}
	log.Printf("[Conviction] distribution: 8+=%d 6-8=%d 4-6=%d <4=%d unranked=%d",
		hot, warm, cool, cold, unranked)
}
