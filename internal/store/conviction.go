package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/keystone-reo/distress-scanner/internal/domain"
)

// FetchConvictionRows reads every parcel in a county with its motivation
// signal aggregate. Signals join through the shared curator tables; parcels
// without signals come back with a zero count, which downstream scoring
// treats as missing coverage rather than zero evidence.
func (s *Store) FetchConvictionRows(ctx context.Context, county, state string) ([]domain.ConvictionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			g.parcel_id,
			g.distress_composite,
			g.flag_vacancy,
			g.vacancy_confidence,
			g.usps_error,
			COALESCE(SUM(st.base_weight * LEAST(GREATEST(ps.confidence, 0), 1)), 0) AS mc_raw_score,
			COUNT(ps.id) AS mc_signal_count,
			COALESCE(STRING_AGG(DISTINCT st.code, ',' ORDER BY st.code), '') AS mc_signal_codes
		FROM gis_parcels_core g
		JOIN counties c
			ON lower(c.name) = lower(g.county)
			AND c.state_code = g.state_code
		LEFT JOIN parcels p
			ON p.county_id = c.id
			AND p.parcel_id = g.parcel_id
		LEFT JOIN parcel_signals ps
			ON ps.parcel_id = p.id
			AND ps.is_active = true
			AND (ps.expires_at IS NULL OR ps.expires_at > NOW())
		LEFT JOIN signal_types st
			ON st.id = ps.signal_type_id
			AND st.is_active = true
		WHERE g.county = $1 AND g.state_code = $2
		GROUP BY g.parcel_id, g.distress_composite, g.flag_vacancy,
		         g.vacancy_confidence, g.usps_error`, county, state)
	if err != nil {
		return nil, fmt.Errorf("fetching conviction rows: %w", err)
	}
	defer rows.Close()

	var out []domain.ConvictionRow
	for rows.Next() {
		var r domain.ConvictionRow
		var composite, vacConf sql.NullFloat64
		var flagVac sql.NullBool
		var uspsErr sql.NullString
		if err := rows.Scan(&r.ParcelID, &composite, &flagVac, &vacConf, &uspsErr,
			&r.MCRaw, &r.MCCount, &r.MCCodes); err != nil {
			return nil, fmt.Errorf("scanning conviction row: %w", err)
		}
		if composite.Valid {
			r.Composite = &composite.Float64
		}
		if vacConf.Valid {
			r.VacancyConf = &vacConf.Float64
		}
		r.FlagVacancy = flagVac.Valid && flagVac.Bool
		r.USPSError = uspsErr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// FlushConviction writes conviction results in chunked transactions.
func (s *Store) FlushConviction(ctx context.Context, results []domain.ConvictionResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	const query = `
		UPDATE gis_parcels_core SET
			conviction_score = $1,
			conviction_base_score = $2,
			conviction_vacancy_bonus = $3,
			conviction_mc_score = $4,
			conviction_mc_signals = $5,
			conviction_mc_codes = $6,
			conviction_components = $7,
			conviction_date = NOW()
		WHERE parcel_id = $8 AND county = $9`

	n, err := chunked(s, results, func(tx *sql.Tx, chunk []domain.ConvictionResult) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("preparing conviction update: %w", err)
		}
		defer stmt.Close()

		for _, r := range chunk {
			if _, err := stmt.ExecContext(ctx,
				nullFloat(r.Score), nullFloat(r.Base), r.VacancyBonus,
				r.MCRaw, r.MCCount, r.MCCodes,
				nullStr(r.Components),
				r.ParcelID, r.County,
			); err != nil {
				return fmt.Errorf("updating conviction for %s: %w", r.ParcelID, err)
			}
		}
		return nil
	})
	if err != nil {
		return n, err
	}
	log.Printf("[Store] conviction flush complete, %d rows", n)
	return n, nil
}

// BackfillMotivationScores rebuilds the shared motivation_scores table for
// a county: county-scoped DELETE, then one INSERT per parcel that has
// signals. The table's uniqueness is (parcel_id, computed_at), so upsert is
// not an option.
func (s *Store) BackfillMotivationScores(ctx context.Context, county, state, model string, rows []domain.ConvictionRow) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning motivation backfill: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM motivation_scores WHERE parcel_id IN (
			SELECT p.id FROM parcels p
			JOIN counties c ON p.county_id = c.id
			WHERE lower(c.name) = lower($1) AND c.state_code = $2
		)`, county, state); err != nil {
		return 0, fmt.Errorf("deleting motivation scores: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO motivation_scores (parcel_id, total_score, signal_count, score_breakdown, computed_at)
		SELECT p.id, $1, $2, $3::jsonb, NOW()
		FROM parcels p
		JOIN counties c ON p.county_id = c.id
		WHERE p.parcel_id = $4
		  AND lower(c.name) = lower($5)
		  AND c.state_code = $6`)
	if err != nil {
		return 0, fmt.Errorf("preparing motivation insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range rows {
		if r.MCCount == 0 {
			continue
		}
		breakdown, _ := json.Marshal(map[string]any{
			"signals":   strings.Split(r.MCCodes, ","),
			"raw_score": r.MCRaw,
			"model":     model,
		})
		if _, err := stmt.ExecContext(ctx, r.MCRaw, r.MCCount, breakdown,
			r.ParcelID, county, state); err != nil {
			return 0, fmt.Errorf("inserting motivation score for %s: %w", r.ParcelID, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing motivation backfill: %w", err)
	}
	log.Printf("[Store] motivation backfill for %s: %d rows", county, inserted)
	return inserted, nil
}
