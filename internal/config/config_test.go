package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Scan.Workers)
	assert.Equal(t, 50, cfg.Scan.FlushEvery)
	assert.Equal(t, []int{2022, 2020, 2018, 2016, 2014, 2012}, cfg.NAIP.Years)
	assert.Equal(t, 30.0, cfg.USPS.DelayMinSec)
	assert.Equal(t, 55.0, cfg.USPS.DelayMaxSec)
	assert.Equal(t, 12, cfg.Sentinel.Months)
	assert.Equal(t, "distress-scanner", cfg.Storage.Bucket)
	assert.Equal(t, "/tmp/usps_backups", cfg.Scan.JournalDir)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  url: postgres://localhost/parcels
scan:
  workers: 4
  flush_every: 20
usps:
  delay_min_sec: 55
  delay_max_sec: 65
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/parcels", cfg.Database.URL)
	assert.Equal(t, 4, cfg.Scan.Workers)
	assert.Equal(t, 20, cfg.Scan.FlushEvery)
	assert.Equal(t, 55.0, cfg.USPS.DelayMinSec)
	// untouched fields still get defaults
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Scan.Workers)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/parcels")
	t.Setenv("USPS_CLIENT_ID_1", "id1")
	t.Setenv("USPS_CLIENT_SECRET_1", "sec1")
	t.Setenv("USPS_CLIENT_ID_2", "id2")
	t.Setenv("USPS_CLIENT_SECRET_2", "sec2")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/parcels", cfg.Database.URL)
	require.Len(t, cfg.USPS.Credentials, 2)
	assert.Equal(t, 1, cfg.USPS.Credentials[0].Index)
	assert.Equal(t, "id2", cfg.USPS.Credentials[1].ClientID)
}

func TestCredentialNumberingStopsAtGap(t *testing.T) {
	t.Setenv("USPS_CLIENT_ID_1", "id1")
	t.Setenv("USPS_CLIENT_SECRET_1", "sec1")
	t.Setenv("USPS_CLIENT_ID_3", "id3")
	t.Setenv("USPS_CLIENT_SECRET_3", "sec3")

	creds := uspsCredentialsFromEnv()
	assert.Len(t, creds, 1)
}

func TestSelectCredentials(t *testing.T) {
	u := USPSConfig{Credentials: []Credential{
		{Index: 1, ClientID: "a"},
		{Index: 2, ClientID: "b"},
		{Index: 3, ClientID: "c"},
	}}

	got, err := u.SelectCredentials("1,3")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ClientID)
	assert.Equal(t, "c", got[1].ClientID)

	got, err = u.SelectCredentials("")
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = u.SelectCredentials("4")
	assert.Error(t, err)

	_, err = u.SelectCredentials("x")
	assert.Error(t, err)
}
