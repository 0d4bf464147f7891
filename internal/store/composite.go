package store

import (
	"context"
	"fmt"
	"log"
)

// Default composite weights. The slope percentile dominates; flood exposure
// rounds the score out.
const (
	CompositeNDVIWeight = 0.70
	CompositeFEMAWeight = 0.30
)

// ComputeComposites recomputes ndvi_slope_pctile and distress_composite for
// a county entirely in SQL, with the given component weights. Percentile
// ranks run over the whole county in one window pass; the composite write
// touches only rows that have slope or flood data, so never-scanned parcels
// keep a NULL composite instead of a misleading zero.
func (s *Store) ComputeComposites(ctx context.Context, county string, ndviWeight, femaWeight float64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		WITH ranked AS (
			SELECT parcel_id,
			       PERCENT_RANK() OVER (
			           PARTITION BY county
			           ORDER BY ndvi_slope_5yr ASC NULLS FIRST
			       ) * 100 AS pctile
			FROM gis_parcels_core
			WHERE county = $1 AND ndvi_slope_5yr IS NOT NULL
		)
		UPDATE gis_parcels_core g
		SET ndvi_slope_pctile = r.pctile
		FROM ranked r
		WHERE g.parcel_id = r.parcel_id AND g.county = $1`, county)
	if err != nil {
		return 0, fmt.Errorf("computing slope percentiles: %w", err)
	}
	pctiles, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		UPDATE gis_parcels_core
		SET distress_composite = ROUND(CAST(
		        $1 * COALESCE(ndvi_slope_pctile / 10.0, 0) +
		        $2 * CASE
		            WHEN fema_sfha = TRUE THEN 10.0
		            WHEN fema_risk = 'high' THEN 10.0
		            WHEN fema_risk = 'moderate' THEN 6.0
		            WHEN fema_risk = 'low' THEN 2.0
		            ELSE 0.0
		        END
		    AS NUMERIC), 2),
		    composite_date = NOW()
		WHERE county = $3
		  AND (ndvi_slope_5yr IS NOT NULL OR fema_zone IS NOT NULL)`,
		ndviWeight, femaWeight, county)
	if err != nil {
		return 0, fmt.Errorf("computing composite scores: %w", err)
	}
	composites, _ := res.RowsAffected()

	log.Printf("[Store] composites for %s: %d percentiles, %d composites", county, pctiles, composites)
	return int(composites), nil
}
