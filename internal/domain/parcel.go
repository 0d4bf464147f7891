package domain

import (
	"encoding/json"
	"time"
)

// Parcel is a row from gis_parcels_core. Enrichment columns are pointers:
// nil means the pass that fills them has not run for this row yet.
type Parcel struct {
	ParcelID     string
	County       string
	State        string
	Lat          float64
	Lng          float64
	SitusAddress string
	MailingCity  string
	MailingState string
	MailingZip   string

	NDVIScore      *float64
	NDVIDate       string
	FEMAZone       string
	FEMARisk       string
	FEMASFHA       bool
	DistressScore  *float64
	SentinelWorthy bool

	Composite *float64
}

// ScanResult is the pass-1 output for one parcel, buffered and flushed in
// batches.
type ScanResult struct {
	ParcelID       string
	County         string
	NDVIScore      *float64
	NDVIDate       string
	NDVICategory   string
	FEMAZone       *string
	FEMARisk       *string
	FEMASFHA       *bool
	Flags          []Flag
	DistressScore  float64
	SentinelWorthy bool
	ScanPass       int
	ScanDate       time.Time
}

// SlopeResult is the pass-1.5 per-parcel output.
type SlopeResult struct {
	ParcelID     string
	County       string
	Slope        *float64
	HistoryCount int
	HistoryYears string // comma-separated vintages, e.g. "2014,2016,2018"
}

// MonthlyNDVI is one month of a vegetation trend series, from either the
// Sentinel statistical API or the Landsat fallback.
type MonthlyNDVI struct {
	Month string  `json:"month"`
	Mean  float64 `json:"mean_ndvi"`
	Std   float64 `json:"std_ndvi,omitempty"`
}

// TrendResult is the pass-1.75 per-parcel output: the monthly trend plus the
// re-scored flags it produced.
type TrendResult struct {
	ParcelID       string
	County         string
	Direction      string
	Slope          *float64
	LatestNDVI     *float64
	MeanNDVI       *float64
	MonthsWithData int
	DataSource     string
	ChartURL       *string
	Flags          []Flag
	DistressScore  float64
	ScanPass       int
	ScanDate       time.Time
}

// SceneResult is the pass-2 per-parcel output.
type SceneResult struct {
	ParcelID         string
	County           string
	SceneCount       int
	ChangeScore      *float64
	TemporalSpanDays *int
	LatestDate       string
	EarliestDate     string
	ThumbLatestURL   *string
	ThumbEarliestURL *string
}

// VacancyResult is the pass-2.25 per-parcel output. Account is the index of
// the credential that performed the check; it is operational detail and is
// stripped before journaling.
type VacancyResult struct {
	ParcelID     string          `json:"parcel_id"`
	County       string          `json:"county"`
	State        string          `json:"state"`
	InputAddress string          `json:"input_address"`
	Vacant       *bool           `json:"usps_vacant"`
	DPVConfirmed *bool           `json:"usps_dpv_confirmed"`
	Business     *bool           `json:"usps_business"`
	USPSAddress  *string         `json:"usps_address"`
	USPSCity     *string         `json:"usps_city"`
	USPSState    *string         `json:"usps_state"`
	USPSZip      *string         `json:"usps_zip"`
	USPSZip4     *string         `json:"usps_zip4"`
	CarrierRoute *string         `json:"usps_carrier_route"`
	Mismatch     bool            `json:"usps_address_mismatch"`
	FlagVacancy  bool            `json:"flag_vacancy"`
	Confidence   *float64        `json:"vacancy_confidence"`
	ErrorCode    string          `json:"usps_error,omitempty"`
	Account      int             `json:"_account,omitempty"`
	Raw          json.RawMessage `json:"_raw,omitempty"`
}

// Status classifies the result for the three-way batch update.
func (r VacancyResult) Status() Status {
	switch {
	case r.ErrorCode == "":
		return StatusOK
	case IsTransientUSPS(r.ErrorCode):
		return StatusTransient
	default:
		return StatusPermanent
	}
}

// ConvictionRow is the per-parcel aggregate read back for pass 2.5.
type ConvictionRow struct {
	ParcelID    string
	Composite   *float64
	FlagVacancy bool
	VacancyConf *float64
	USPSError   string
	MCRaw       float64
	MCCount     int
	MCCodes     string
}

// ConvictionResult is the pass-2.5 per-parcel output.
type ConvictionResult struct {
	ParcelID     string
	County       string
	Score        *float64
	Base         *float64
	VacancyBonus float64
	MCRaw        float64
	MCCount      int
	MCCodes      string
	Components   string // e.g. "DS,MC,VAC"
}

// Flag is a fired distress signal with its confidence.
type Flag struct {
	Code       string  `json:"signal_code"`
	Confidence float64 `json:"confidence"`
}

// FlagsJSON serializes flags for the distress_flags column.
func FlagsJSON(flags []Flag) string {
	if len(flags) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(flags)
	return string(data)
}
