package domain

// Status classifies the outcome of a single collector call. Transient
// failures are retried on a later run; permanent ones are recorded so the
// parcel is not re-attempted; skipped means the upstream had nothing for
// this parcel and no error occurred.
type Status string

const (
	StatusOK        Status = "ok"
	StatusTransient Status = "transient"
	StatusPermanent Status = "permanent"
	StatusSkipped   Status = "skipped"
)

// TransientUSPSErrors are the vacancy error codes eligible for retry on a
// later run.
var TransientUSPSErrors = map[string]bool{
	"rate_limited": true,
	"http_500":     true,
	"http_502":     true,
	"http_503":     true,
	"http_504":     true,
}

// IsTransientUSPS reports whether a stored usps_error code should be retried.
func IsTransientUSPS(code string) bool {
	return TransientUSPSErrors[code]
}
