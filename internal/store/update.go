package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/keystone-reo/distress-scanner/internal/domain"
	"github.com/keystone-reo/distress-scanner/internal/evaluate"
)

// flagColumns are the denormalized per-signal columns derived from the flag
// list on every write that rescores a parcel.
type flagColumns struct {
	veg        bool
	flood      bool
	structural bool
	neglect    bool
	vegConf    sql.NullFloat64
	floodConf  sql.NullFloat64
}

func deriveFlagColumns(flags []domain.Flag) flagColumns {
	var fc flagColumns
	vegConf := 0.0
	for _, f := range flags {
		switch f.Code {
		case evaluate.SignalOvergrowth:
			fc.veg = true
			if f.Confidence > vegConf {
				vegConf = f.Confidence
			}
		case evaluate.SignalNeglect:
			fc.neglect = true
			if f.Confidence > vegConf {
				vegConf = f.Confidence
			}
		case evaluate.SignalFlood:
			fc.flood = true
			fc.floodConf = sql.NullFloat64{Float64: f.Confidence, Valid: true}
		case evaluate.SignalStructural:
			fc.structural = true
		}
	}
	if fc.veg || fc.neglect {
		fc.vegConf = sql.NullFloat64{Float64: vegConf, Valid: true}
	}
	return fc
}

// UpdateScanResults writes pass-1 results in 500-row transactional chunks.
// scan_pass only ever goes up, so a re-run of an earlier pass cannot
// downgrade a parcel.
func (s *Store) UpdateScanResults(ctx context.Context, results []domain.ScanResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	const query = `
		UPDATE gis_parcels_core SET
			ndvi_score = $1,
			ndvi_date = $2,
			ndvi_category = $3,
			fema_zone = $4,
			fema_risk = $5,
			fema_sfha = $6,
			distress_score = $7,
			distress_flags = $8,
			flag_veg = $9,
			flag_flood = $10,
			flag_structural = $11,
			flag_neglect = $12,
			veg_confidence = $13,
			flood_confidence = $14,
			scan_date = $15,
			scan_pass = GREATEST(COALESCE(scan_pass, 0), $16),
			sentinel_worthy = $17
		WHERE parcel_id = $18 AND county = $19`

	n, err := chunked(s, results, func(tx *sql.Tx, chunk []domain.ScanResult) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("preparing scan update: %w", err)
		}
		defer stmt.Close()

		for _, r := range chunk {
			fc := deriveFlagColumns(r.Flags)
			_, err := stmt.ExecContext(ctx,
				nullFloat(r.NDVIScore), nullStr(r.NDVIDate), nullStr(r.NDVICategory),
				r.FEMAZone, r.FEMARisk, r.FEMASFHA,
				r.DistressScore, domain.FlagsJSON(r.Flags),
				fc.veg, fc.flood, fc.structural, fc.neglect,
				fc.vegConf, fc.floodConf,
				r.ScanDate, r.ScanPass, r.SentinelWorthy,
				r.ParcelID, r.County,
			)
			if err != nil {
				return fmt.Errorf("updating scan result for %s: %w", r.ParcelID, err)
			}
		}
		return nil
	})
	if err != nil {
		return n, err
	}
	log.Printf("[Store] scan batch update complete, %d rows", n)
	return n, nil
}

// UpdateSlopeResults writes pass-1.5 slope results.
func (s *Store) UpdateSlopeResults(ctx context.Context, results []domain.SlopeResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	const query = `
		UPDATE gis_parcels_core SET
			ndvi_slope_5yr = $1,
			ndvi_history_count = $2,
			ndvi_history_years = $3
		WHERE parcel_id = $4 AND county = $5`

	return chunked(s, results, func(tx *sql.Tx, chunk []domain.SlopeResult) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("preparing slope update: %w", err)
		}
		defer stmt.Close()

		for _, r := range chunk {
			if _, err := stmt.ExecContext(ctx,
				nullFloat(r.Slope), r.HistoryCount, r.HistoryYears,
				r.ParcelID, r.County,
			); err != nil {
				return fmt.Errorf("updating slope for %s: %w", r.ParcelID, err)
			}
		}
		return nil
	})
}

// UpdateTrendResults writes pass-1.75 trend enrichment plus the re-scored
// flags.
func (s *Store) UpdateTrendResults(ctx context.Context, results []domain.TrendResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	const query = `
		UPDATE gis_parcels_core SET
			sentinel_trend_direction = $1,
			sentinel_trend_slope = $2,
			sentinel_latest_ndvi = $3,
			sentinel_months_data = $4,
			sentinel_mean_ndvi = $5,
			sentinel_data_source = $6,
			sentinel_chart_url = $7,
			sentinel_scan_date = $8,
			distress_score = $9,
			distress_flags = $10,
			flag_veg = $11,
			flag_flood = $12,
			flag_structural = $13,
			flag_neglect = $14,
			veg_confidence = $15,
			flood_confidence = $16,
			scan_pass = GREATEST(COALESCE(scan_pass, 0), $17)
		WHERE parcel_id = $18 AND county = $19`

	return chunked(s, results, func(tx *sql.Tx, chunk []domain.TrendResult) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("preparing trend update: %w", err)
		}
		defer stmt.Close()

		for _, r := range chunk {
			fc := deriveFlagColumns(r.Flags)
			if _, err := stmt.ExecContext(ctx,
				r.Direction, nullFloat(r.Slope), nullFloat(r.LatestNDVI),
				r.MonthsWithData, nullFloat(r.MeanNDVI), r.DataSource,
				r.ChartURL, r.ScanDate,
				r.DistressScore, domain.FlagsJSON(r.Flags),
				fc.veg, fc.flood, fc.structural, fc.neglect,
				fc.vegConf, fc.floodConf,
				r.ScanPass,
				r.ParcelID, r.County,
			); err != nil {
				return fmt.Errorf("updating trend for %s: %w", r.ParcelID, err)
			}
		}
		return nil
	})
}

// UpdateSceneResults writes pass-2 Planet refinement results.
func (s *Store) UpdateSceneResults(ctx context.Context, results []domain.SceneResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	const query = `
		UPDATE gis_parcels_core SET
			planet_scan_date = NOW(),
			planet_scene_count = $1,
			planet_change_score = $2,
			planet_temporal_span = $3,
			planet_latest_date = $4,
			planet_earliest_date = $5,
			planet_thumb_latest_url = $6,
			planet_thumb_earliest_url = $7
		WHERE parcel_id = $8 AND county = $9`

	return chunked(s, results, func(tx *sql.Tx, chunk []domain.SceneResult) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("preparing scene update: %w", err)
		}
		defer stmt.Close()

		for _, r := range chunk {
			if _, err := stmt.ExecContext(ctx,
				r.SceneCount, nullFloat(r.ChangeScore), nullInt(r.TemporalSpanDays),
				nullStr(r.LatestDate), nullStr(r.EarliestDate),
				r.ThumbLatestURL, r.ThumbEarliestURL,
				r.ParcelID, r.County,
			); err != nil {
				return fmt.Errorf("updating scene for %s: %w", r.ParcelID, err)
			}
		}
		return nil
	})
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
