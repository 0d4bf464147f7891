package store

import (
	"context"
	"fmt"
	"log"
)

// Column groups added by successive passes. Types stay loose (REAL/TEXT) on
// purpose: the table predates this scanner and is shared with the GIS
// import.
var scanColumns = [][2]string{
	{"ndvi_score", "REAL"},
	{"ndvi_date", "TEXT"},
	{"ndvi_category", "TEXT"},
	{"fema_zone", "TEXT"},
	{"fema_risk", "TEXT"},
	{"fema_sfha", "BOOLEAN"},
	{"distress_score", "REAL"},
	{"distress_flags", "TEXT"},
	{"flag_veg", "BOOLEAN DEFAULT FALSE"},
	{"flag_flood", "BOOLEAN DEFAULT FALSE"},
	{"flag_structural", "BOOLEAN DEFAULT FALSE"},
	{"flag_neglect", "BOOLEAN DEFAULT FALSE"},
	{"veg_confidence", "REAL"},
	{"flood_confidence", "REAL"},
	{"scan_date", "TIMESTAMP"},
	{"scan_pass", "SMALLINT"},
	{"sentinel_worthy", "BOOLEAN DEFAULT FALSE"},
}

var compositeColumns = [][2]string{
	{"ndvi_slope_5yr", "REAL"},
	{"ndvi_slope_pctile", "REAL"},
	{"ndvi_history_count", "SMALLINT"},
	{"ndvi_history_years", "TEXT"},
	{"distress_composite", "REAL"},
	{"composite_date", "TIMESTAMP"},
}

var sentinelColumns = [][2]string{
	{"sentinel_trend_direction", "TEXT"},
	{"sentinel_trend_slope", "REAL"},
	{"sentinel_latest_ndvi", "REAL"},
	{"sentinel_months_data", "SMALLINT"},
	{"sentinel_mean_ndvi", "REAL"},
	{"sentinel_data_source", "TEXT"},
	{"sentinel_chart_url", "TEXT"},
	{"sentinel_scan_date", "TIMESTAMP"},
}

var planetColumns = [][2]string{
	{"planet_scan_date", "TIMESTAMP"},
	{"planet_scene_count", "SMALLINT"},
	{"planet_change_score", "REAL"},
	{"planet_temporal_span", "SMALLINT"},
	{"planet_latest_date", "TEXT"},
	{"planet_earliest_date", "TEXT"},
	{"planet_thumb_latest_url", "TEXT"},
	{"planet_thumb_earliest_url", "TEXT"},
}

var uspsColumns = [][2]string{
	{"usps_vacant", "BOOLEAN"},
	{"usps_dpv_confirmed", "BOOLEAN"},
	{"usps_address", "TEXT"},
	{"usps_city", "TEXT"},
	{"usps_zip", "TEXT"},
	{"usps_zip4", "TEXT"},
	{"usps_business", "BOOLEAN"},
	{"usps_carrier_route", "TEXT"},
	{"usps_address_mismatch", "BOOLEAN"},
	{"usps_check_date", "TIMESTAMP"},
	{"usps_error", "TEXT"},
	{"flag_vacancy", "BOOLEAN DEFAULT FALSE"},
	{"vacancy_confidence", "REAL"},
}

var convictionColumns = [][2]string{
	{"conviction_score", "REAL"},
	{"conviction_base_score", "REAL"},
	{"conviction_vacancy_bonus", "REAL"},
	{"conviction_mc_score", "REAL"},
	{"conviction_mc_signals", "INTEGER"},
	{"conviction_mc_codes", "TEXT"},
	{"conviction_components", "TEXT"},
	{"conviction_date", "TIMESTAMP"},
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_gpc_ndvi_score ON gis_parcels_core (ndvi_score)`,
	`CREATE INDEX IF NOT EXISTS idx_gpc_distress_score ON gis_parcels_core (distress_score)`,
	`CREATE INDEX IF NOT EXISTS idx_gpc_scan_date ON gis_parcels_core (scan_date)`,
	`CREATE INDEX IF NOT EXISTS idx_gpc_distress_composite ON gis_parcels_core (distress_composite)`,
	`CREATE INDEX IF NOT EXISTS idx_gpc_slope_pending
	 ON gis_parcels_core (parcel_id)
	 WHERE ndvi_score IS NOT NULL AND ndvi_slope_5yr IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_gpc_sentinel_pending
	 ON gis_parcels_core (distress_score DESC NULLS LAST)
	 WHERE sentinel_worthy = TRUE AND sentinel_scan_date IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_gpc_usps_vacant ON gis_parcels_core (usps_vacant)`,
	`CREATE INDEX IF NOT EXISTS idx_gpc_usps_check_date ON gis_parcels_core (usps_check_date)`,
	`CREATE INDEX IF NOT EXISTS idx_gpc_conviction_score
	 ON gis_parcels_core (conviction_score DESC NULLS LAST)`,
}

const auditTableSQL = `
	CREATE TABLE IF NOT EXISTS usps_vacancy_checks (
		id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		parcel_id        TEXT NOT NULL,
		county           TEXT NOT NULL,
		checked_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		input_address    TEXT NOT NULL,
		input_state      TEXT,
		usps_address     TEXT,
		usps_city        TEXT,
		usps_state       TEXT,
		usps_zip         TEXT,
		usps_zip4        TEXT,
		vacant           BOOLEAN,
		dpv_confirmed    BOOLEAN,
		business         BOOLEAN,
		address_mismatch BOOLEAN DEFAULT false,
		carrier_route    TEXT,
		account          SMALLINT,
		error            TEXT,
		raw_response     JSONB
	)`

// Migrate adds every scanner column group idempotently. Existing columns
// are detected through information_schema first so re-runs skip the
// ALTER TABLE lock entirely; the DO-block guard covers the race where two
// processes migrate concurrently.
func (s *Store) Migrate(ctx context.Context) error {
	existing, err := s.existingColumns(ctx)
	if err != nil {
		return err
	}

	groups := [][][2]string{
		scanColumns, compositeColumns, sentinelColumns,
		planetColumns, uspsColumns, convictionColumns,
	}

	added := 0
	for _, group := range groups {
		for _, col := range group {
			if existing[col[0]] {
				continue
			}
			stmt := fmt.Sprintf(`
				DO $$ BEGIN
					ALTER TABLE gis_parcels_core ADD COLUMN %s %s;
				EXCEPTION WHEN duplicate_column THEN NULL;
				END $$`, col[0], col[1])
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("adding column %s: %w", col[0], err)
			}
			added++
		}
	}

	if _, err := s.db.ExecContext(ctx, auditTableSQL); err != nil {
		return fmt.Errorf("creating usps_vacancy_checks: %w", err)
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}

	log.Printf("[Store] migration complete, %d columns added", added)
	return nil
}

func (s *Store) existingColumns(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_name = 'gis_parcels_core'`)
	if err != nil {
		return nil, fmt.Errorf("reading existing columns: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning column name: %w", err)
		}
		existing[name] = true
	}
	return existing, rows.Err()
}
