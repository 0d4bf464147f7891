package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/keystone-reo/distress-scanner/internal/domain"
)

// VacancyCounts breaks down one batch update by outcome.
type VacancyCounts struct {
	Success   int
	Transient int
	Permanent int
}

// Total is the number of rows written.
func (c VacancyCounts) Total() int { return c.Success + c.Transient + c.Permanent }

// UpdateVacancyResults writes a vacancy batch with the three-way
// error/success split:
//   - clean checks set every usps_* column, stamp usps_check_date, and clear
//     usps_error;
//   - transient errors record usps_error only, leaving usps_check_date
//     untouched so the row stays eligible for the next run;
//   - permanent errors record usps_error AND stamp usps_check_date so known
//     bad addresses are not re-hit.
func (s *Store) UpdateVacancyResults(ctx context.Context, results []domain.VacancyResult) (VacancyCounts, error) {
	var counts VacancyCounts
	if len(results) == 0 {
		return counts, nil
	}

	var success, transient, permanent []domain.VacancyResult
	for _, r := range results {
		switch r.Status() {
		case domain.StatusOK:
			success = append(success, r)
		case domain.StatusTransient:
			transient = append(transient, r)
		default:
			permanent = append(permanent, r)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return counts, fmt.Errorf("beginning vacancy batch: %w", err)
	}
	defer tx.Rollback()

	if len(success) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE gis_parcels_core SET
				usps_vacant = $1,
				usps_dpv_confirmed = $2,
				usps_address = $3,
				usps_city = $4,
				usps_zip = $5,
				usps_zip4 = $6,
				usps_business = $7,
				usps_carrier_route = $8,
				usps_address_mismatch = $9,
				usps_check_date = NOW(),
				usps_error = NULL,
				flag_vacancy = $10,
				vacancy_confidence = $11
			WHERE parcel_id = $12 AND county = $13`)
		if err != nil {
			return counts, fmt.Errorf("preparing vacancy success update: %w", err)
		}
		for _, r := range success {
			if _, err := stmt.ExecContext(ctx,
				r.Vacant, r.DPVConfirmed, r.USPSAddress, r.USPSCity,
				r.USPSZip, r.USPSZip4, r.Business, r.CarrierRoute,
				r.Mismatch, r.FlagVacancy, nullFloat(r.Confidence),
				r.ParcelID, r.County,
			); err != nil {
				stmt.Close()
				return counts, fmt.Errorf("updating vacancy for %s: %w", r.ParcelID, err)
			}
		}
		stmt.Close()
	}

	if len(transient) > 0 {
		if err := execErrorUpdate(ctx, tx, transient, `
			UPDATE gis_parcels_core SET
				usps_error = $1,
				flag_vacancy = FALSE,
				vacancy_confidence = NULL
			WHERE parcel_id = $2 AND county = $3`); err != nil {
			return counts, err
		}
	}

	if len(permanent) > 0 {
		if err := execErrorUpdate(ctx, tx, permanent, `
			UPDATE gis_parcels_core SET
				usps_error = $1,
				usps_check_date = NOW(),
				flag_vacancy = FALSE,
				vacancy_confidence = NULL
			WHERE parcel_id = $2 AND county = $3`); err != nil {
			return counts, err
		}
	}

	if err := tx.Commit(); err != nil {
		return counts, fmt.Errorf("committing vacancy batch: %w", err)
	}

	counts = VacancyCounts{Success: len(success), Transient: len(transient), Permanent: len(permanent)}
	log.Printf("[Store] vacancy batch: %d ok, %d transient, %d permanent",
		counts.Success, counts.Transient, counts.Permanent)
	return counts, nil
}

func execErrorUpdate(ctx context.Context, tx *sql.Tx, rows []domain.VacancyResult, query string) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing vacancy error update: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.ErrorCode, r.ParcelID, r.County); err != nil {
			return fmt.Errorf("updating vacancy error for %s: %w", r.ParcelID, err)
		}
	}
	return nil
}

// InsertVacancyAudit appends one row per check to usps_vacancy_checks.
// Audit failures are reported but must not fail the scan.
func (s *Store) InsertVacancyAudit(ctx context.Context, r domain.VacancyResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usps_vacancy_checks (
			parcel_id, county, input_address, input_state,
			usps_address, usps_city, usps_state, usps_zip, usps_zip4,
			vacant, dpv_confirmed, business, address_mismatch,
			carrier_route, account, error, raw_response
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		r.ParcelID, r.County, r.InputAddress, r.State,
		r.USPSAddress, r.USPSCity, r.USPSState, r.USPSZip, r.USPSZip4,
		r.Vacant, r.DPVConfirmed, r.Business, r.Mismatch,
		r.CarrierRoute, r.Account, nullStr(r.ErrorCode), nullRaw(r.Raw),
	)
	if err != nil {
		return fmt.Errorf("inserting vacancy audit for %s: %w", r.ParcelID, err)
	}
	return nil
}

func nullRaw(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
