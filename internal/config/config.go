package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Bivalve (Maurice River, NJ), the gauge this indexer was built around.
// 4.19 ft is the NWS minor flood stage for that reach.
const (
	DefaultSite        = "01412150"
	DefaultThresholdFt = 4.19
	DefaultStation     = "U238"
)

// defaultParameters are the NWIS parameter codes tried in order: tidal
// elevation first, plain gage height as the fallback.
var defaultParameters = []string{"72279", "00065"}

// Site is one monitored NWIS site: its flood threshold, fetch window
// behavior, and the NYHOPS station whose forecast rides along.
type Site struct {
	Site          string        `yaml:"site"`
	Parameters    []string      `yaml:"parameters,omitempty"`
	ThresholdFt   float64       `yaml:"threshold_ft"`
	Lookback      time.Duration `yaml:"lookback,omitempty"`
	BackfillStart string        `yaml:"backfill_start,omitempty"`
	NYHOPSStation string        `yaml:"nyhops_station,omitempty"`
}

// BackfillTime returns the parsed backfill start. Load rejects a config
// whose BackfillStart does not parse, so this cannot fail afterwards.
func (s Site) BackfillTime() time.Time {
	t, _ := parseDate(s.BackfillStart)
	return t
}

// Config holds all service settings, populated from environment
// variables and, for multi-site deployments, an optional SITES_FILE.
type Config struct {
	Sites []Site

	USGSBaseURL string
	USGSTimeout time.Duration
	Chunk       time.Duration
	FetchPause  time.Duration
	UserAgent   string

	NYHOPSEnabled bool
	NYHOPSBaseURL string
	NYHOPSTimeout time.Duration

	DataDir           string
	StoreBackend      string // "file" or "sqlite"
	SQLitePath        string
	MaxForecastPoints int

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	RunInterval     time.Duration // 0 means one shot
}

// Load reads configuration from environment variables, applying defaults
// where unset. When SITES_FILE names a YAML file, its site list replaces
// the single site described by the USGS_* and THRESHOLD_FT variables.
func Load() (*Config, error) {
	usgsTimeout, err := parseDurationEnv("USGS_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	chunk, err := parseDurationEnv("CHUNK", "720h")
	if err != nil {
		return nil, err
	}
	fetchPause, err := parseDurationEnv("FETCH_PAUSE", "150ms")
	if err != nil {
		return nil, err
	}
	nyhopsTimeout, err := parseDurationEnv("NYHOPS_TIMEOUT", "25s")
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := parseDurationEnv("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	runInterval, err := parseDurationEnv("RUN_INTERVAL", "0")
	if err != nil {
		return nil, err
	}

	nyhopsEnabled := true
	if v := os.Getenv("NYHOPS_ENABLED"); v != "" {
		nyhopsEnabled = v == "true"
	}
	kafkaEnabled := false
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	dataDir := envOrDefault("DATA_DIR", "data")

	cfg := &Config{
		USGSBaseURL: os.Getenv("USGS_BASE_URL"),
		USGSTimeout: usgsTimeout,
		Chunk:       chunk,
		FetchPause:  fetchPause,
		UserAgent:   envOrDefault("USER_AGENT", "tide-data-etl/1.0"),

		NYHOPSEnabled: nyhopsEnabled,
		NYHOPSBaseURL: os.Getenv("NYHOPS_BASE_URL"),
		NYHOPSTimeout: nyhopsTimeout,

		DataDir:           dataDir,
		StoreBackend:      envOrDefault("STORE_BACKEND", "file"),
		SQLitePath:        envOrDefault("SQLITE_PATH", filepath.Join(dataDir, "tides.db")),
		MaxForecastPoints: parseMaxForecastPoints(),

		KafkaEnabled: kafkaEnabled,
		KafkaBrokers: splitList(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "high-tide-peaks"),

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		RunInterval:     runInterval,
	}

	if path := os.Getenv("SITES_FILE"); path != "" {
		sites, err := loadSitesFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Sites = sites
	} else {
		site, err := siteFromEnv()
		if err != nil {
			return nil, err
		}
		cfg.Sites = []Site{site}
	}

	seen := map[string]bool{}
	for i := range cfg.Sites {
		applySiteDefaults(&cfg.Sites[i])
		if err := validateSite(cfg.Sites[i]); err != nil {
			return nil, err
		}
		if seen[cfg.Sites[i].Site] {
			return nil, fmt.Errorf("site %s configured twice", cfg.Sites[i].Site)
		}
		seen[cfg.Sites[i].Site] = true
	}

	if cfg.StoreBackend != "file" && cfg.StoreBackend != "sqlite" {
		return nil, fmt.Errorf("STORE_BACKEND must be file or sqlite, got %q", cfg.StoreBackend)
	}
	if cfg.Chunk <= 0 {
		return nil, errors.New("CHUNK must be positive")
	}
	if cfg.ShutdownTimeout <= 0 {
		return nil, errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_TOPIC is empty")
	}

	return cfg, nil
}

func siteFromEnv() (Site, error) {
	threshold, err := parseFloatEnv("THRESHOLD_FT", DefaultThresholdFt)
	if err != nil {
		return Site{}, err
	}
	lookback, err := parseDurationEnv("LOOKBACK", "168h")
	if err != nil {
		return Site{}, err
	}
	return Site{
		Site:          envOrDefault("USGS_SITE", DefaultSite),
		Parameters:    splitList(envOrDefault("USGS_PARAMETERS", strings.Join(defaultParameters, ","))),
		ThresholdFt:   threshold,
		Lookback:      lookback,
		BackfillStart: envOrDefault("BACKFILL_START", "2000-01-01"),
		NYHOPSStation: envOrDefault("NYHOPS_STATION", DefaultStation),
	}, nil
}

type sitesFile struct {
	Sites []Site `yaml:"sites"`
}

// loadSitesFile reads the multi-site YAML config. Environment references
// like ${THRESHOLD_FT} are expanded before parsing.
func loadSitesFile(path string) ([]Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}

	var doc sitesFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &doc); err != nil {
		return nil, fmt.Errorf("parse sites file %s: %w", path, err)
	}
	if len(doc.Sites) == 0 {
		return nil, fmt.Errorf("sites file %s lists no sites", path)
	}
	return doc.Sites, nil
}

func applySiteDefaults(s *Site) {
	if len(s.Parameters) == 0 {
		s.Parameters = append([]string{}, defaultParameters...)
	}
	if s.Lookback == 0 {
		s.Lookback = 168 * time.Hour
	}
	if s.BackfillStart == "" {
		s.BackfillStart = "2000-01-01"
	}
}

func validateSite(s Site) error {
	if s.Site == "" {
		return errors.New("site number is required")
	}
	if s.ThresholdFt == 0 || math.IsNaN(s.ThresholdFt) || math.IsInf(s.ThresholdFt, 0) {
		return fmt.Errorf("site %s needs a finite, non-zero threshold_ft", s.Site)
	}
	if s.Lookback < 0 {
		return fmt.Errorf("site %s has a negative lookback", s.Site)
	}
	if _, err := parseDate(s.BackfillStart); err != nil {
		return fmt.Errorf("site %s backfill_start %q: %w", s.Site, s.BackfillStart, err)
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDurationEnv(key, fallback string) (time.Duration, error) {
	raw := envOrDefault(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func parseFloatEnv(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return f, nil
}

func parseMaxForecastPoints() int {
	if s := os.Getenv("FORECAST_MAX_POINTS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 2000
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
