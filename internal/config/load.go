package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"attendance-import/internal/logging"
	"attendance-import/internal/util"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when a required configuration file is absent.
var ErrConfigNotFound = errors.New("configuration file not found")

// controlEscapes turns escaped separators coming from the environment into real ones.
var controlEscapes = strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\t`, "\t")

// envFiles are loaded, when present, before the environment overlay is parsed.
var envFiles = []string{".env", ".env.local"}

// LoadConfig reads the YAML configuration file, overlays the environment,
// applies defaults and validates the result.
// A missing file is tolerated unless required is set.
func LoadConfig(filename string, required bool) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, fmt.Errorf("failed to load .env files: %w", err)
	}

	var cfg Config
	fileBytes, err := os.ReadFile(filename)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(fileBytes, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML in '%s': %w", filename, err)
		}
	case errors.Is(err, os.ErrNotExist) && !required:
		logging.Logf(logging.Debug, "Config file '%s' not found; using defaults and environment.", filename)
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: '%s'", ErrConfigNotFound, filename)
	default:
		return nil, fmt.Errorf("failed to read config file '%s': %w", filename, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	applyDefaults(&cfg)
	cfg.Store.DSN = util.ExpandEnvUniversal(cfg.Store.DSN)
	cfg.Import.AliasesFile = util.ExpandEnvUniversal(cfg.Import.AliasesFile)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration holding only default values.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func loadEnvFiles(files []string) error {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// applyDefaults sets default values for various configuration sections.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	if cfg.Server.MaxUploadMB <= 0 {
		cfg.Server.MaxUploadMB = DefaultMaxUploadMB
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DefaultStoreDriver
	}
	if cfg.Store.TxTimeout <= 0 {
		cfg.Store.TxTimeout = DefaultTxTimeout
	}
	if cfg.Store.MaxConns <= 0 {
		cfg.Store.MaxConns = DefaultMaxConns
	}

	if cfg.Import.BatchSize <= 0 {
		cfg.Import.BatchSize = DefaultBatchSize
	}
	if cfg.Import.MaxReportErrors <= 0 {
		cfg.Import.MaxReportErrors = DefaultMaxReportErrors
	}
	if cfg.Import.CSV.Delimiter == "" {
		cfg.Import.CSV.Delimiter = DefaultCSVDelimiter
	}
	if cfg.Import.CSV.LineSeparator == "" {
		cfg.Import.CSV.LineSeparator = DefaultLineSeparator
	}
	cfg.Import.CSV.Delimiter = controlEscapes.Replace(cfg.Import.CSV.Delimiter)
	cfg.Import.CSV.LineSeparator = controlEscapes.Replace(cfg.Import.CSV.LineSeparator)

	if cfg.Identity.ContactDomain == "" {
		cfg.Identity.ContactDomain = DefaultContactDomain
	}
	if cfg.Identity.UnspecifiedVenue == "" {
		cfg.Identity.UnspecifiedVenue = DefaultUnspecifiedVenue
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}
