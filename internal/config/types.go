package config

import "time"

// Define constants for configuration keys, types, modes etc.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"

	LogFormatText = "text"
	LogFormatJSON = "json"

	DefaultConfigPath       = "config/attendance-import.yaml"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = LogFormatText
	DefaultServerAddr       = ":8080"
	DefaultMaxUploadMB      = 20
	DefaultRequestTimeout   = 60 * time.Second
	DefaultStoreDriver      = StoreDriverPostgres
	DefaultTxTimeout        = 30 * time.Second
	DefaultMaxConns         = 10
	DefaultBatchSize        = 50
	DefaultMaxReportErrors  = 10
	DefaultCSVDelimiter     = ","
	DefaultLineSeparator    = "\n"
	DefaultContactDomain    = "import.invalid"
	DefaultUnspecifiedVenue = "Unspecified"
	DefaultMetricsPath      = "/metrics"
)

// Config defines the overall structure for the YAML configuration file.
// Every leaf can also be set from the environment; environment values win.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Import   ImportConfig   `yaml:"import"`
	Identity IdentityConfig `yaml:"identity"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LoggingConfig holds settings related to logging verbosity.
type LoggingConfig struct {
	// Level is one of "none", "error", "warn", "info", "debug".
	Level string `yaml:"level" env:"LOG_LEVEL"`
	// Format is "text" or "json".
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// ServerConfig configures the upload API.
type ServerConfig struct {
	Addr           string        `yaml:"addr" env:"SERVER_ADDR"`
	MaxUploadMB    int64         `yaml:"max_upload_mb" env:"SERVER_MAX_UPLOAD_MB"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS" envSeparator:","`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"SERVER_REQUEST_TIMEOUT"`
}

// StoreConfig selects and configures the relational store.
type StoreConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `yaml:"driver" env:"STORE_DRIVER"`
	// DSN is the connection string; $VAR, ${VAR} and %VAR% are expanded.
	DSN string `yaml:"dsn" env:"DB_CREDENTIALS"`
	// TxTimeout bounds every chunk transaction.
	TxTimeout      time.Duration `yaml:"tx_timeout" env:"STORE_TX_TIMEOUT"`
	MaxConns       int32         `yaml:"max_conns" env:"STORE_MAX_CONNS"`
	MigrateOnStart *bool         `yaml:"migrate_on_start" env:"STORE_MIGRATE_ON_START"`
}

// ImportConfig tunes the pipeline.
type ImportConfig struct {
	BatchSize       int       `yaml:"batch_size" env:"IMPORT_BATCH_SIZE"`
	MaxReportErrors int       `yaml:"max_report_errors" env:"IMPORT_MAX_REPORT_ERRORS"`
	CSV             CSVConfig `yaml:"csv"`
	// Filter is an optional govaluate expression over canonical field names.
	// Rows for which it evaluates to false are skipped.
	// Example: "event_type != 'internal'"
	Filter string `yaml:"filter,omitempty" env:"IMPORT_FILTER"`
	// AliasesFile optionally extends the built-in header alias table.
	AliasesFile string `yaml:"aliases_file,omitempty" env:"IMPORT_ALIASES_FILE"`
}

// CSVConfig holds delimited text options.
type CSVConfig struct {
	Delimiter     string `yaml:"delimiter" env:"IMPORT_CSV_DELIMITER"`
	LineSeparator string `yaml:"line_separator" env:"IMPORT_CSV_LINE_SEPARATOR"`
}

// IdentityConfig controls synthesized identity attributes.
type IdentityConfig struct {
	ContactDomain    string `yaml:"contact_domain" env:"IDENTITY_CONTACT_DOMAIN"`
	UnspecifiedVenue string `yaml:"unspecified_venue" env:"IDENTITY_UNSPECIFIED_VENUE"`
	// ResurrectDeleted clears the soft-delete marker of people and trainers
	// that an import references again.
	ResurrectDeleted *bool `yaml:"resurrect_deleted" env:"IDENTITY_RESURRECT_DELETED"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" env:"METRICS_ENABLED"`
	Path    string `yaml:"path" env:"METRICS_PATH"`
}

// ShouldMigrate reports whether the schema is applied when the store opens.
func (s StoreConfig) ShouldMigrate() bool {
	return s.MigrateOnStart == nil || *s.MigrateOnStart
}

// Resurrect reports whether soft-deleted identities are revived on upsert.
func (i IdentityConfig) Resurrect() bool {
	return i.ResurrectDeleted == nil || *i.ResurrectDeleted
}

// IsEnabled reports whether the metrics endpoint is served.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}
