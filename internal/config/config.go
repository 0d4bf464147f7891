// Package config loads scanner configuration from a yaml file, .env, and
// environment variables. Environment values always win over the file so
// deployments can override single knobs without editing yaml.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the scanner.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scan      ScanConfig      `yaml:"scan"`
	NAIP      NAIPConfig      `yaml:"naip"`
	FEMA      FEMAConfig      `yaml:"fema"`
	Sentinel  SentinelConfig  `yaml:"sentinel"`
	Planet    PlanetConfig    `yaml:"planet"`
	USPS      USPSConfig      `yaml:"usps"`
	Nominatim NominatimConfig `yaml:"nominatim"`
	Storage   StorageConfig   `yaml:"storage"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the response cache connection. Empty Addr disables the
// cache; collectors then always hit the network.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ScanConfig holds scheduler defaults shared by the passes.
type ScanConfig struct {
	Workers       int    `yaml:"workers"`
	FlushEvery    int    `yaml:"flush_every"`
	CheckpointDir string `yaml:"checkpoint_dir"`
	JournalDir    string `yaml:"journal_dir"`
	LockFile      string `yaml:"lock_file"`
}

// NAIPConfig holds the aerial imagery source settings.
type NAIPConfig struct {
	STACURL     string `yaml:"stac_url"`
	IdentifyURL string `yaml:"identify_url"`
	Years       []int  `yaml:"years"`
}

// FEMAConfig holds the flood zone source settings.
type FEMAConfig struct {
	QueryURL string `yaml:"query_url"`
	MapURL   string `yaml:"map_url"`
}

// SentinelConfig holds the Sentinel-2 statistical API settings, with
// Landsat as the zero-credential fallback.
type SentinelConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
	StatsURL     string `yaml:"stats_url"`
	Months       int    `yaml:"months"`
	LandsatURL   string `yaml:"landsat_url"`
}

// HasCredentials reports whether Sentinel can be used at all.
func (s SentinelConfig) HasCredentials() bool {
	return s.ClientID != "" && s.ClientSecret != ""
}

// PlanetConfig holds the Planet scene API settings.
type PlanetConfig struct {
	APIKey    string `yaml:"api_key"`
	SearchURL string `yaml:"search_url"`
	TilesURL  string `yaml:"tiles_url"`
}

// USPSConfig holds the address API settings. Credentials are numbered env
// pairs (USPS_CLIENT_ID_1/USPS_CLIENT_SECRET_1, _2, ...); the yaml file
// never holds secrets.
type USPSConfig struct {
	TokenURL    string       `yaml:"token_url"`
	AddressURL  string       `yaml:"address_url"`
	DelayMinSec float64      `yaml:"delay_min_sec"`
	DelayMaxSec float64      `yaml:"delay_max_sec"`
	Credentials []Credential `yaml:"-"`
}

// Credential is one USPS OAuth client.
type Credential struct {
	Index        int
	ClientID     string
	ClientSecret string
}

// NominatimConfig holds the geocoder used for situs city/zip resolution.
type NominatimConfig struct {
	URL       string `yaml:"url"`
	UserAgent string `yaml:"user_agent"`
}

// StorageConfig holds R2 (S3 API) object storage settings with a local
// directory fallback when no credentials are present.
type StorageConfig struct {
	AccountID string `yaml:"account_id"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	PublicURL string `yaml:"public_url"`
	LocalDir  string `yaml:"local_dir"`
}

// Load reads the yaml file at path and fills defaults. A missing file is not
// an error; env-only configuration is a supported deployment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

// LoadFromEnv loads .env if present, then the yaml file, then applies
// environment overrides.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Scan.Workers == 0 {
		c.Scan.Workers = 10
	}
	if c.Scan.FlushEvery == 0 {
		c.Scan.FlushEvery = 50
	}
	if c.Scan.CheckpointDir == "" {
		c.Scan.CheckpointDir = "/tmp"
	}
	if c.Scan.JournalDir == "" {
		c.Scan.JournalDir = "/tmp/usps_backups"
	}
	if c.Scan.LockFile == "" {
		c.Scan.LockFile = "/tmp/batch_usps_enrich.lock"
	}
	if c.NAIP.STACURL == "" {
		c.NAIP.STACURL = "https://planetarycomputer.microsoft.com/api/stac/v1/search"
	}
	if c.NAIP.IdentifyURL == "" {
		c.NAIP.IdentifyURL = "https://gis.apfo.usda.gov/arcgis/rest/services/NAIP/USDA_CONUS_PRIME/ImageServer/identify"
	}
	if len(c.NAIP.Years) == 0 {
		c.NAIP.Years = []int{2022, 2020, 2018, 2016, 2014, 2012}
	}
	if c.FEMA.QueryURL == "" {
		c.FEMA.QueryURL = "https://hazards.fema.gov/arcgis/rest/services/public/NFHL/MapServer/28/query"
	}
	if c.FEMA.MapURL == "" {
		c.FEMA.MapURL = "https://hazards.fema.gov/arcgis/rest/services/public/NFHL/MapServer/export"
	}
	if c.Sentinel.TokenURL == "" {
		c.Sentinel.TokenURL = "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"
	}
	if c.Sentinel.StatsURL == "" {
		c.Sentinel.StatsURL = "https://sh.dataspace.copernicus.eu/api/v1/statistics"
	}
	if c.Sentinel.Months == 0 {
		c.Sentinel.Months = 12
	}
	if c.Sentinel.LandsatURL == "" {
		c.Sentinel.LandsatURL = "https://landsat2.arcgis.com/arcgis/rest/services/Landsat/MS/ImageServer/identify"
	}
	if c.Planet.SearchURL == "" {
		c.Planet.SearchURL = "https://api.planet.com/data/v1/quick-search"
	}
	if c.Planet.TilesURL == "" {
		c.Planet.TilesURL = "https://tiles.planet.com/data/v1"
	}
	if c.USPS.TokenURL == "" {
		c.USPS.TokenURL = "https://apis.usps.com/oauth2/v3/token"
	}
	if c.USPS.AddressURL == "" {
		c.USPS.AddressURL = "https://apis.usps.com/addresses/v3/address"
	}
	if c.USPS.DelayMinSec == 0 {
		c.USPS.DelayMinSec = 30
	}
	if c.USPS.DelayMaxSec == 0 {
		c.USPS.DelayMaxSec = 55
	}
	if c.Nominatim.URL == "" {
		c.Nominatim.URL = "https://nominatim.openstreetmap.org/search"
	}
	if c.Nominatim.UserAgent == "" {
		c.Nominatim.UserAgent = "distress-scanner/1.0"
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = "distress-scanner"
	}
	if c.Storage.LocalDir == "" {
		c.Storage.LocalDir = "data"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("CDSE_CLIENT_ID"); v != "" {
		c.Sentinel.ClientID = v
	}
	if v := os.Getenv("CDSE_CLIENT_SECRET"); v != "" {
		c.Sentinel.ClientSecret = v
	}
	if v := os.Getenv("PLANET_API_KEY"); v != "" {
		c.Planet.APIKey = v
	}
	if v := os.Getenv("R2_ACCOUNT_ID"); v != "" {
		c.Storage.AccountID = v
	}
	if v := os.Getenv("R2_ACCESS_KEY_ID"); v != "" {
		c.Storage.AccessKey = v
	}
	if v := os.Getenv("R2_SECRET_ACCESS_KEY"); v != "" {
		c.Storage.SecretKey = v
	}
	if v := os.Getenv("R2_BUCKET_NAME"); v != "" {
		c.Storage.Bucket = v
	}
	if v := os.Getenv("R2_PUBLIC_URL"); v != "" {
		c.Storage.PublicURL = strings.TrimRight(v, "/")
	}

	c.USPS.Credentials = uspsCredentialsFromEnv()
}

// uspsCredentialsFromEnv collects numbered USPS credential pairs. Numbering
// starts at 1 and stops at the first gap.
func uspsCredentialsFromEnv() []Credential {
	var creds []Credential
	for i := 1; ; i++ {
		id := os.Getenv("USPS_CLIENT_ID_" + strconv.Itoa(i))
		secret := os.Getenv("USPS_CLIENT_SECRET_" + strconv.Itoa(i))
		if id == "" || secret == "" {
			break
		}
		creds = append(creds, Credential{Index: i, ClientID: id, ClientSecret: secret})
	}
	return creds
}

// SelectCredentials filters the configured credentials down to the 1-based
// indexes named in spec, e.g. "1,3". Empty spec keeps everything.
func (u USPSConfig) SelectCredentials(spec string) ([]Credential, error) {
	if strings.TrimSpace(spec) == "" {
		return u.Credentials, nil
	}
	byIndex := make(map[int]Credential, len(u.Credentials))
	for _, c := range u.Credentials {
		byIndex[c.Index] = c
	}
	var out []Credential
	for _, part := range strings.Split(spec, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("bad account index %q", part)
		}
		cred, ok := byIndex[n]
		if !ok {
			return nil, fmt.Errorf("account %d is not configured", n)
		}
		out = append(out, cred)
	}
	return out, nil
}
