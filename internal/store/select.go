package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keystone-reo/distress-scanner/internal/domain"
)

// SelectFilter narrows a pass's work set. County is required; the rest are
// optional. Force re-selects rows the pass already stamped, for re-checks
// after an upstream data problem.
type SelectFilter struct {
	County        string
	State         string
	Limit         int
	PropertyClass string
	Force         bool
}

// SelectUnscanned returns parcels with coordinates that pass 1 has not
// touched yet. The md5 ordering is a deterministic shuffle: geographically
// diverse batches without a full-table sort, and stable across runs.
func (s *Store) SelectUnscanned(ctx context.Context, f SelectFilter) ([]domain.Parcel, error) {
	query := `
		SELECT parcel_id, latitude, longitude, county, state_code
		FROM gis_parcels_core
		WHERE county = $1
		  AND latitude IS NOT NULL AND longitude IS NOT NULL
		  AND scan_date IS NULL`
	args := []any{f.County}

	query, args = appendFilter(query, args, f)
	query += " ORDER BY md5(parcel_id)"
	query, args = appendLimit(query, args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting unscanned parcels: %w", err)
	}
	defer rows.Close()

	var parcels []domain.Parcel
	for rows.Next() {
		var p domain.Parcel
		if err := rows.Scan(&p.ParcelID, &p.Lat, &p.Lng, &p.County, &p.State); err != nil {
			return nil, fmt.Errorf("scanning parcel row: %w", err)
		}
		parcels = append(parcels, p)
	}
	return parcels, rows.Err()
}

// SelectNeedingSlope returns parcels scanned in pass 1 that have no
// historical slope yet.
func (s *Store) SelectNeedingSlope(ctx context.Context, f SelectFilter) ([]domain.Parcel, error) {
	query := `
		SELECT parcel_id, latitude, longitude, county, state_code, ndvi_score, ndvi_date
		FROM gis_parcels_core
		WHERE county = $1
		  AND ndvi_score IS NOT NULL
		  AND ndvi_slope_5yr IS NULL
		  AND latitude IS NOT NULL AND longitude IS NOT NULL`
	args := []any{f.County}

	query, args = appendFilter(query, args, f)
	query += " ORDER BY md5(parcel_id)"
	query, args = appendLimit(query, args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting parcels needing slope: %w", err)
	}
	defer rows.Close()

	var parcels []domain.Parcel
	for rows.Next() {
		var p domain.Parcel
		var ndvi sql.NullFloat64
		var date sql.NullString
		if err := rows.Scan(&p.ParcelID, &p.Lat, &p.Lng, &p.County, &p.State, &ndvi, &date); err != nil {
			return nil, fmt.Errorf("scanning parcel row: %w", err)
		}
		if ndvi.Valid {
			p.NDVIScore = &ndvi.Float64
		}
		p.NDVIDate = date.String
		parcels = append(parcels, p)
	}
	return parcels, rows.Err()
}

// SelectSentinelWorthy returns flagged parcels awaiting trend enrichment,
// highest distress first, with the pass-1 readings needed for rescoring.
func (s *Store) SelectSentinelWorthy(ctx context.Context, f SelectFilter) ([]domain.Parcel, error) {
	query := `
		SELECT parcel_id, latitude, longitude, county, state_code,
		       ndvi_score, fema_zone, fema_risk, fema_sfha, distress_score
		FROM gis_parcels_core
		WHERE county = $1
		  AND sentinel_worthy = TRUE
		  AND sentinel_scan_date IS NULL
		  AND latitude IS NOT NULL AND longitude IS NOT NULL`
	args := []any{f.County}

	query, args = appendFilter(query, args, f)
	query += " ORDER BY distress_score DESC NULLS LAST"
	query, args = appendLimit(query, args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting sentinel-worthy parcels: %w", err)
	}
	defer rows.Close()

	var parcels []domain.Parcel
	for rows.Next() {
		var p domain.Parcel
		var ndvi, distress sql.NullFloat64
		var zone, risk sql.NullString
		var sfha sql.NullBool
		if err := rows.Scan(&p.ParcelID, &p.Lat, &p.Lng, &p.County, &p.State,
			&ndvi, &zone, &risk, &sfha, &distress); err != nil {
			return nil, fmt.Errorf("scanning parcel row: %w", err)
		}
		if ndvi.Valid {
			p.NDVIScore = &ndvi.Float64
		}
		if distress.Valid {
			p.DistressScore = &distress.Float64
		}
		p.FEMAZone = zone.String
		p.FEMARisk = risk.String
		p.FEMASFHA = sfha.Valid && sfha.Bool
		parcels = append(parcels, p)
	}
	return parcels, rows.Err()
}

// SelectForScenePair returns the highest-distress parcels whose Planet scan
// is missing or stale. Scene pairs age out after 60 days, so previously
// scanned rows become eligible again; Force ignores recency entirely.
func (s *Store) SelectForScenePair(ctx context.Context, f SelectFilter) ([]domain.Parcel, error) {
	query := `
		SELECT parcel_id, latitude, longitude, county, state_code, distress_score
		FROM gis_parcels_core
		WHERE county = $1
		  AND distress_score IS NOT NULL
		  AND latitude IS NOT NULL AND longitude IS NOT NULL`
	args := []any{f.County}
	if !f.Force {
		query += ` AND (planet_scan_date IS NULL
		  OR planet_scan_date < NOW() - INTERVAL '60 days')`
	}

	query, args = appendFilter(query, args, f)
	query += " ORDER BY distress_score DESC NULLS LAST"
	query, args = appendLimit(query, args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting parcels for scene pair: %w", err)
	}
	defer rows.Close()

	var parcels []domain.Parcel
	for rows.Next() {
		var p domain.Parcel
		var distress sql.NullFloat64
		if err := rows.Scan(&p.ParcelID, &p.Lat, &p.Lng, &p.County, &p.State, &distress); err != nil {
			return nil, fmt.Errorf("scanning parcel row: %w", err)
		}
		if distress.Valid {
			p.DistressScore = &distress.Float64
		}
		parcels = append(parcels, p)
	}
	return parcels, rows.Err()
}

// SelectNeedingUSPS returns the top leads by composite that were never
// USPS-checked, were checked more than cacheDays ago, or carry an error
// from a prior attempt (retryable regardless of date).
func (s *Store) SelectNeedingUSPS(ctx context.Context, f SelectFilter, minComposite float64, cacheDays int) ([]domain.Parcel, error) {
	query := `
		SELECT parcel_id, situs_address, latitude, longitude, county, state_code,
		       distress_composite, mailing_city, mailing_zip, mailing_state
		FROM gis_parcels_core
		WHERE county = $1
		  AND situs_address IS NOT NULL
		  AND latitude IS NOT NULL AND longitude IS NOT NULL
		  AND distress_composite >= $2`
	args := []any{f.County, minComposite}
	if !f.Force {
		args = append(args, cacheDays)
		query += fmt.Sprintf(`
		  AND (
		      usps_check_date IS NULL
		      OR usps_check_date < NOW() - make_interval(days => $%d)
		      OR usps_error IS NOT NULL
		  )`, len(args))
	}

	query, args = appendFilter(query, args, f)
	query += " ORDER BY distress_composite DESC NULLS LAST"
	query, args = appendLimit(query, args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting parcels needing usps: %w", err)
	}
	defer rows.Close()

	var parcels []domain.Parcel
	for rows.Next() {
		var p domain.Parcel
		var situs, mCity, mZip, mState sql.NullString
		var composite sql.NullFloat64
		if err := rows.Scan(&p.ParcelID, &situs, &p.Lat, &p.Lng, &p.County, &p.State,
			&composite, &mCity, &mZip, &mState); err != nil {
			return nil, fmt.Errorf("scanning parcel row: %w", err)
		}
		p.SitusAddress = situs.String
		p.MailingCity = mCity.String
		p.MailingZip = mZip.String
		p.MailingState = mState.String
		if composite.Valid {
			p.Composite = &composite.Float64
		}
		parcels = append(parcels, p)
	}
	return parcels, rows.Err()
}

func appendFilter(query string, args []any, f SelectFilter) (string, []any) {
	if f.State != "" {
		args = append(args, f.State)
		query += fmt.Sprintf(" AND state_code = $%d", len(args))
	}
	if f.PropertyClass != "" {
		args = append(args, f.PropertyClass)
		query += fmt.Sprintf(" AND property_class = $%d", len(args))
	}
	return query, args
}

func appendLimit(query string, args []any, limit int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}
