package app

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"attendance-import/internal/importer"
	"attendance-import/internal/logging"
	"attendance-import/internal/metrics"
	"attendance-import/internal/model"
	"attendance-import/internal/report"
	"attendance-import/internal/schema"
	"attendance-import/internal/server"
	"attendance-import/internal/store"
	"attendance-import/internal/util"

	"github.com/spf13/cobra"
)

// exportHeaders is the column order of the export command.
var exportHeaders = []string{
	"person_id", "person_first_name", "person_last_name",
	"event_id", "event_type", "event_date",
	"trainer_first_name", "trainer_last_name", "venue_name",
	"status", "person_note_during", "completion_note",
}

func exactlyOneFile(_ *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: expected exactly one FILE, got %d arguments", ErrMissingArgs, len(args))
	}
	return nil
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var (
		dryRun     bool
		errorsFile string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import one spreadsheet",
		Args:  exactlyOneFile,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := util.ExpandEnvUniversal(args[0])
			data, err := osReadFileFunc(path)
			if err != nil {
				return fmt.Errorf("failed to read '%s': %w", path, err)
			}

			aliases, err := schema.LoadAliasTable(opts.cfg.Import.AliasesFile)
			if err != nil {
				return err
			}
			impOpts := importer.OptionsFromConfig(opts.cfg)
			impOpts.DryRun = dryRun

			if errorsFile != "" {
				errorsFile = util.ExpandEnvUniversal(errorsFile)
				ew, err := newCSVErrorWriterFunc(errorsFile)
				if err != nil {
					return fmt.Errorf("failed to create error writer for file '%s': %w", errorsFile, err)
				}
				defer func() {
					if cerr := ew.Close(); cerr != nil {
						logging.Logf(logging.Error, "Failed to close error writer '%s': %v", errorsFile, cerr)
					}
				}()
				impOpts.ErrorWriter = ew
				logging.Logf(logging.Info, "Rejected rows will be written to: %s", errorsFile)
			}

			var s store.Store
			if !dryRun {
				s, err = opts.openMigrated(cmd.Context())
				if err != nil {
					return err
				}
				defer closeStore(s)
			}

			imp, err := importer.New(s, aliases, impOpts, nil)
			if err != nil {
				return err
			}
			rep, err := imp.Import(cmd.Context(), importer.Upload{Filename: filepath.Base(path), Data: data})
			if err != nil {
				return err
			}
			if err := printReport(cmd, rep, asJSON); err != nil {
				return err
			}
			if rep.Status == report.StatusFailed {
				return fmt.Errorf("%w: %s", ErrImportFailed, rep.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and resolve without writing to the store")
	cmd.Flags().StringVar(&errorsFile, "errors-file", "", "Append rejected rows to this CSV file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the response body as JSON")
	return cmd
}

func printReport(cmd *cobra.Command, rep *report.Report, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep.Response())
	}
	fmt.Fprintf(out, "Import %s (%s): %s\n", rep.ImportID, rep.Filename, rep.Message)
	if len(rep.MissingHeaders) > 0 {
		fmt.Fprintf(out, "  missing columns: %v\n  found columns: %v\n", rep.MissingHeaders, rep.FoundHeaders)
	}
	for _, e := range rep.Errors {
		fmt.Fprintf(out, "  %s\n", e)
	}
	return nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := opts.openMigrated(ctx)
			if err != nil {
				return err
			}
			defer closeStore(s)

			aliases, err := schema.LoadAliasTable(opts.cfg.Import.AliasesFile)
			if err != nil {
				return err
			}
			var m *metrics.Manager
			if opts.cfg.Metrics.IsEnabled() {
				m = metrics.NewManager()
			}
			imp, err := importer.New(s, aliases, importer.OptionsFromConfig(opts.cfg), m)
			if err != nil {
				return err
			}
			return serveFunc(ctx, server.New(imp, s, m, opts.cfg))
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStoreFunc(cmd.Context(), opts.cfg.Store)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer closeStore(s)
			if err := s.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to migrate store: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
			return nil
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export attendance joined with people, events, trainers and venues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return fmt.Errorf("%w: --out is required", ErrMissingArgs)
			}
			out = util.ExpandEnvUniversal(out)
			writer, err := newTableWriterFunc(out)
			if err != nil {
				return err
			}

			s, err := opts.openMigrated(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore(s)

			records, err := s.ListAttendance(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read attendance: %w", err)
			}
			if err := writer.Write(exportHeaders, exportRows(records), out); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			logging.Logf(logging.Info, "Exported %d attendance records to %s", len(records), out)
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", len(records), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Destination file (.csv, .xlsx, .json or .yaml)")
	return cmd
}

func exportRows(records []model.AttendanceRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.PersonExternalID, r.PersonFirstName, r.PersonLastName,
			r.EventExternalID, r.EventType, r.OccurredAt.UTC().Format(time.RFC3339),
			r.TrainerFirstName, r.TrainerLastName, r.VenueName,
			r.Status, r.NoteDuring, r.CompletionNote,
		})
	}
	return rows
}
