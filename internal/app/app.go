package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"attendance-import/internal/config"
	etlio "attendance-import/internal/io"
	"attendance-import/internal/logging"
	"attendance-import/internal/server"
	"attendance-import/internal/store"
	"attendance-import/internal/store/postgres"
	"attendance-import/internal/store/sqlite"
	"attendance-import/internal/util"

	"github.com/spf13/cobra"
)

// Define common application-level errors.
var (
	ErrUsage          = errors.New("usage error")
	ErrConfigNotFound = config.ErrConfigNotFound
	ErrMissingArgs    = errors.New("missing required arguments")
	// ErrImportFailed is returned when an import processed no rows at all.
	ErrImportFailed = errors.New("import failed")
)

// --- Factory Variables (Allow Overriding for Testing) ---
var (
	loadConfigFunc        = config.LoadConfig
	newCSVErrorWriterFunc = newCSVErrorWriter
	newTableWriterFunc    = etlio.NewTableWriter
	osReadFileFunc        = os.ReadFile

	openStoreFunc = openStore
	serveFunc     = func(ctx context.Context, s *server.Server) error { return s.ListenAndServe(ctx) }
)

func newCSVErrorWriter(path string) (etlio.ErrorWriter, error) {
	w, err := etlio.NewCSVErrorWriter(path)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// openStore connects to the configured driver.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: no store DSN (set store.dsn, DB_CREDENTIALS or --db)", ErrMissingArgs)
	}
	logging.Logf(logging.Info, "Opening %s store at %s", cfg.Driver, util.MaskCredentials(cfg.DSN))

	switch cfg.Driver {
	case config.StoreDriverSQLite:
		s, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreDriverPostgres:
		s, err := postgres.Open(ctx, cfg.DSN, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported store driver '%s'", cfg.Driver)
}

// AppRunner encapsulates the application's execution logic.
type AppRunner struct {
	out io.Writer
}

// NewAppRunner creates a new instance of the application runner.
func NewAppRunner() *AppRunner {
	return &AppRunner{out: os.Stdout}
}

// Usage prints the command-line help information to the specified writer.
func (a *AppRunner) Usage(writer io.Writer) {
	fmt.Fprint(writer, newRootCmd(&rootOptions{}, a.out).UsageString())
}

// Run parses args and executes the selected command.
func (a *AppRunner) Run(ctx context.Context, args []string) error {
	root := newRootCmd(&rootOptions{}, a.out)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// rootOptions holds the persistent flags and the configuration they resolve to.
type rootOptions struct {
	configFile string
	logLevel   string
	dsn        string

	cfg *config.Config
}

func newRootCmd(opts *rootOptions, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "attendance-import",
		Short: "Bulk import of attendance spreadsheets",
		Long: `attendance-import reconciles spreadsheet exports of attendance records
(.csv, .xlsx, .xls) into people, trainers, venues, events and attendance.

Every import is idempotent: re-importing a file converges on the same records.

Environment Variables:
  DB_CREDENTIALS   Store connection string (used if --db is not set)
  STORE_DRIVER     postgres or sqlite
  Any VAR          Can be used in the DSN and file paths via $VAR/${VAR} or %VAR%`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}
	root.SetOut(out)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	})

	root.PersistentFlags().StringVar(&opts.configFile, "config", config.DefaultConfigPath, "YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "loglevel", "", "Logging level (none, error, warn, info, debug)")
	root.PersistentFlags().StringVar(&opts.dsn, "db", "", "Store connection string (overrides DB_CREDENTIALS)")

	root.AddCommand(newImportCmd(opts), newServeCmd(opts), newMigrateCmd(opts), newExportCmd(opts))
	return root
}

// load resolves the configuration. A missing file is an error only when
// --config was given explicitly.
func (o *rootOptions) load(cmd *cobra.Command) error {
	logLevelSet := cmd.Flags().Changed("loglevel")
	if logLevelSet {
		logging.SetupLogging(o.logLevel)
	}

	cfg, err := loadConfigFunc(o.configFile, cmd.Flags().Changed("config"))
	if err != nil {
		logging.Logf(logging.Error, "Error loading/validating config '%s': %v", o.configFile, err)
		return err
	}
	if !logLevelSet {
		logging.SetupLogging(cfg.Logging.Level)
	}
	if err := logging.SetFormat(cfg.Logging.Format); err != nil {
		return err
	}
	if o.dsn != "" {
		cfg.Store.DSN = util.ExpandEnvUniversal(o.dsn)
	}
	o.cfg = cfg
	return nil
}

// openMigrated opens the store and applies the schema when configured to.
func (o *rootOptions) openMigrated(ctx context.Context) (store.Store, error) {
	s, err := openStoreFunc(ctx, o.cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if o.cfg.Store.ShouldMigrate() {
		if err := s.Migrate(ctx); err != nil {
			closeStore(s)
			return nil, fmt.Errorf("failed to migrate store: %w", err)
		}
	}
	return s, nil
}

func closeStore(s store.Store) {
	if err := s.Close(); err != nil {
		logging.Logf(logging.Warning, "Failed to close store: %v", err)
	}
}
