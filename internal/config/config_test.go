package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Helper Functions ---

// createTempConfigFile creates a temporary YAML file with the given content for testing.
func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// assertValidationError checks if the error contains all expected substrings.
func assertValidationError(t *testing.T, err error, expectedSubstrings ...string) {
	t.Helper()
	require.Error(t, err)
	for _, sub := range expectedSubstrings {
		assert.Contains(t, err.Error(), sub)
	}
}

// --- LoadConfig Tests ---

func TestLoadConfig_Success(t *testing.T) {
	path := createTempConfigFile(t, `
logging:
  level: debug
  format: json
server:
  addr: ":9090"
  allowed_origins: ["https://admin.example.org"]
store:
  driver: sqlite
  dsn: "file:${IMPORT_TEST_DB}?mode=memory"
  tx_timeout: 5s
import:
  batch_size: 25
  csv:
    delimiter: ";"
  filter: "event_type != 'internal'"
identity:
  contact_domain: example.org
`)
	t.Setenv("IMPORT_TEST_DB", "attendance")

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, LogFormatJSON, cfg.Logging.Format)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"https://admin.example.org"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, StoreDriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "file:attendance?mode=memory", cfg.Store.DSN)
	assert.Equal(t, 5*time.Second, cfg.Store.TxTimeout)
	assert.Equal(t, 25, cfg.Import.BatchSize)
	assert.Equal(t, ";", cfg.Import.CSV.Delimiter)
	assert.Equal(t, "\n", cfg.Import.CSV.LineSeparator)
	assert.Equal(t, "example.org", cfg.Identity.ContactDomain)
	assert.Equal(t, DefaultUnspecifiedVenue, cfg.Identity.UnspecifiedVenue)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
	assert.EqualValues(t, DefaultMaxUploadMB, cfg.Server.MaxUploadMB)
	assert.Equal(t, DefaultStoreDriver, cfg.Store.Driver)
	assert.Equal(t, DefaultTxTimeout, cfg.Store.TxTimeout)
	assert.Equal(t, DefaultBatchSize, cfg.Import.BatchSize)
	assert.Equal(t, DefaultMaxReportErrors, cfg.Import.MaxReportErrors)
	assert.Equal(t, DefaultCSVDelimiter, cfg.Import.CSV.Delimiter)
	assert.Equal(t, DefaultContactDomain, cfg.Identity.ContactDomain)
	assert.True(t, cfg.Store.ShouldMigrate())
	assert.True(t, cfg.Identity.Resurrect())
	assert.True(t, cfg.Metrics.IsEnabled())
}

func TestLoadConfig_EnvironmentOverridesFile(t *testing.T) {
	path := createTempConfigFile(t, `
store:
  driver: postgres
import:
  batch_size: 10
`)
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("IMPORT_BATCH_SIZE", "75")
	t.Setenv("IMPORT_CSV_DELIMITER", `\t`)
	t.Setenv("IDENTITY_RESURRECT_DELETED", "false")

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, StoreDriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 75, cfg.Import.BatchSize)
	assert.Equal(t, "\t", cfg.Import.CSV.Delimiter)
	assert.False(t, cfg.Identity.Resurrect())
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := createTempConfigFile(t, "logging: [unclosed")
	_, err := LoadConfig(path, true)
	assertValidationError(t, err, "failed to parse YAML")
}

func TestLoadConfig_InvalidConfig(t *testing.T) {
	path := createTempConfigFile(t, `
logging:
  level: chatty
store:
  driver: oracle
import:
  filter: "event_type =="
`)
	_, err := LoadConfig(path, true)
	assertValidationError(t, err,
		"Config.Logging.Level: invalid log level 'chatty'",
		"Config.Store.Driver: invalid store driver 'oracle'",
		"Config.Import.Filter: invalid expression syntax",
	)
}

// --- ValidateConfig Tests ---

func TestValidateConfig_InvalidCases(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "multi-char delimiter",
			mutate: func(c *Config) { c.Import.CSV.Delimiter = ";;" },
			want:   "Config.Import.CSV.Delimiter",
		},
		{
			name:   "delimiter equals line separator",
			mutate: func(c *Config) { c.Import.CSV.Delimiter = "|"; c.Import.CSV.LineSeparator = "|" },
			want:   "must differ from the field delimiter",
		},
		{
			name:   "contact domain with at sign",
			mutate: func(c *Config) { c.Identity.ContactDomain = "user@example.org" },
			want:   "Config.Identity.ContactDomain",
		},
		{
			name:   "metrics path without slash",
			mutate: func(c *Config) { c.Metrics.Path = "metrics" },
			want:   "Config.Metrics.Path",
		},
		{
			name:   "empty allowed origin",
			mutate: func(c *Config) { c.Server.AllowedOrigins = []string{" "} },
			want:   "Config.Server.AllowedOrigins[0]",
		},
		{
			name:   "bad log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			want:   "Config.Logging.Format",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assertValidationError(t, ValidateConfig(cfg), tc.want)
		})
	}
}

func TestValidateConfig_DefaultIsValid(t *testing.T) {
	assert.NoError(t, ValidateConfig(Default()))
}

func TestIsValidEnumValue(t *testing.T) {
	assert.True(t, isValidEnumValue("WARN", knownLogLevels))
	assert.True(t, isValidEnumValue("Sqlite", knownStoreDrives))
	assert.False(t, isValidEnumValue("", knownLogLevels))
	assert.False(t, isValidEnumValue("trace", knownLogLevels))
}

func TestValidationErrorListsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "loud"
	cfg.Store.Driver = "mongo"
	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Equal(t, 2, strings.Count(err.Error(), "\n- "))
}
