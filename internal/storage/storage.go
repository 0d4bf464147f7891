// Package storage persists scan artifacts (thumbnails, NDVI charts) to
// R2 object storage, or to a local directory when no credentials are
// configured.
package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/keystone-reo/distress-scanner/internal/config"
)

// Uploader stores one artifact and returns a URL usable in report columns.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// New picks R2 when credentials are configured, the local directory
// otherwise.
func New(cfg config.StorageConfig) (Uploader, error) {
	if cfg.AccountID != "" && cfg.AccessKey != "" && cfg.SecretKey != "" {
		return newR2(cfg)
	}
	return newLocal(cfg.LocalDir), nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	s = slugPattern.ReplaceAllString(strings.ToLower(s), "_")
	return strings.Trim(s, "_")
}

// ParcelKey builds the canonical artifact key for a parcel:
// {county_slug}_{state}/{parcel}/{date}/{file}.
func ParcelKey(county, state, parcelID, date, filename string) string {
	return fmt.Sprintf("%s_%s/%s/%s/%s",
		slug(county), strings.ToLower(state), parcelID, date, filename)
}

// PointKey builds a coordinate-addressed key for artifacts not tied to a
// parcel record: points/{lat}_{lng}/{date}/{file}. Four decimals is about
// 11 m, enough to dedupe repeated pulls of the same spot.
func PointKey(lat, lng float64, date, filename string) string {
	return fmt.Sprintf("points/%.4f_%.4f/%s/%s", lat, lng, date, filename)
}
