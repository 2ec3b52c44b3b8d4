package config

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"attendance-import/internal/logging"

	"github.com/Knetic/govaluate"
)

// Define known valid enum values for configuration fields.
var (
	knownLogLevels   = []string{"none", "error", "warn", "warning", "info", "debug"}
	knownLogFormats  = []string{LogFormatText, LogFormatJSON}
	knownStoreDrives = []string{StoreDriverPostgres, StoreDriverSQLite}
)

// isValidEnumValue checks if a value is present in a list of allowed string values (case-insensitive).
func isValidEnumValue(value string, allowedValues []string) bool {
	lowerValue := strings.ToLower(value)
	for _, allowed := range allowedValues {
		if lowerValue == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// ValidateConfig checks the whole configuration and reports every problem at once.
func ValidateConfig(cfg *Config) error {
	var allErrors []string

	if !isValidEnumValue(cfg.Logging.Level, knownLogLevels) {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Logging.Level: invalid log level '%s', must be one of %v", cfg.Logging.Level, knownLogLevels))
	}
	if !isValidEnumValue(cfg.Logging.Format, knownLogFormats) {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Logging.Format: invalid log format '%s', must be one of %v", cfg.Logging.Format, knownLogFormats))
	}

	allErrors = append(allErrors, validateServerConfig("Config.Server", &cfg.Server)...)
	allErrors = append(allErrors, validateStoreConfig("Config.Store", &cfg.Store)...)
	allErrors = append(allErrors, validateImportConfig("Config.Import", &cfg.Import)...)

	if strings.ContainsAny(cfg.Identity.ContactDomain, "@ \t") {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Identity.ContactDomain: '%s' is not a bare domain", cfg.Identity.ContactDomain))
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Metrics.Path: '%s' must start with '/'", cfg.Metrics.Path))
	}

	if len(allErrors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(allErrors, "\n"))
	}
	logging.Logf(logging.Debug, "Configuration validation successful.")
	return nil
}

func validateServerConfig(prefix string, cfg *ServerConfig) []string {
	var errs []string
	if cfg.Addr == "" {
		errs = append(errs, fmt.Sprintf("- %s.Addr: is required", prefix))
	}
	if cfg.MaxUploadMB > 1024 {
		errs = append(errs, fmt.Sprintf("- %s.MaxUploadMB: %d exceeds the 1024 MB ceiling", prefix, cfg.MaxUploadMB))
	}
	for i, origin := range cfg.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			errs = append(errs, fmt.Sprintf("- %s.AllowedOrigins[%d]: cannot be empty", prefix, i))
		}
	}
	return errs
}

func validateStoreConfig(prefix string, cfg *StoreConfig) []string {
	var errs []string
	if !isValidEnumValue(cfg.Driver, knownStoreDrives) {
		errs = append(errs, fmt.Sprintf("- %s.Driver: invalid store driver '%s', must be one of %v", prefix, cfg.Driver, knownStoreDrives))
	}
	// The DSN is checked when the store opens: CLI flags may still supply it.
	if cfg.MaxConns > 1000 {
		errs = append(errs, fmt.Sprintf("- %s.MaxConns: %d is unreasonably large", prefix, cfg.MaxConns))
	}
	return errs
}

func validateImportConfig(prefix string, cfg *ImportConfig) []string {
	var errs []string
	if cfg.BatchSize > 10000 {
		errs = append(errs, fmt.Sprintf("- %s.BatchSize: %d exceeds the 10000 ceiling", prefix, cfg.BatchSize))
	}
	if utf8.RuneCountInString(cfg.CSV.Delimiter) != 1 {
		errs = append(errs, fmt.Sprintf("- %s.CSV.Delimiter: '%s' must be a single character", prefix, cfg.CSV.Delimiter))
	} else if cfg.CSV.Delimiter == "\n" || cfg.CSV.Delimiter == "\r" || cfg.CSV.Delimiter == "\"" {
		errs = append(errs, fmt.Sprintf("- %s.CSV.Delimiter: %q cannot be used as a field separator", prefix, cfg.CSV.Delimiter))
	}
	if cfg.CSV.LineSeparator == "" {
		errs = append(errs, fmt.Sprintf("- %s.CSV.LineSeparator: is required", prefix))
	} else if cfg.CSV.LineSeparator == cfg.CSV.Delimiter {
		errs = append(errs, fmt.Sprintf("- %s.CSV.LineSeparator: must differ from the field delimiter", prefix))
	}
	if cfg.Filter != "" {
		if _, err := govaluate.NewEvaluableExpression(cfg.Filter); err != nil {
			errs = append(errs, fmt.Sprintf("- %s.Filter: invalid expression syntax: %v", prefix, err))
		}
	}
	return errs
}
