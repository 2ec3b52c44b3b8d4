// Package importer runs one upload through the whole pipeline: decode,
// header normalization, row validation, identity resolution, reconciliation
// and report building.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"attendance-import/internal/config"
	"attendance-import/internal/identity"
	etlio "attendance-import/internal/io"
	"attendance-import/internal/logging"
	"attendance-import/internal/metrics"
	"attendance-import/internal/processor"
	"attendance-import/internal/reconcile"
	"attendance-import/internal/report"
	"attendance-import/internal/schema"
	"attendance-import/internal/store"
	"attendance-import/internal/util"

	"github.com/google/uuid"
)

// State is a step of the import state machine.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateDecoded          State = "DECODED"
	StateHeadersValidated State = "HEADERS_VALIDATED"
	StateRowsValidated    State = "ROWS_VALIDATED"
	StateEntitiesResolved State = "ENTITIES_RESOLVED"
	StateReconciled       State = "RECONCILED"
	StateReported         State = "REPORTED"
	StateFailed           State = "FAILED"
)

// transitions lists the legal successors of every state.
var transitions = map[State][]State{
	StateReceived:         {StateDecoded, StateFailed},
	StateDecoded:          {StateHeadersValidated, StateFailed},
	StateHeadersValidated: {StateRowsValidated, StateFailed},
	StateRowsValidated:    {StateEntitiesResolved, StateFailed},
	StateEntitiesResolved: {StateReconciled, StateReported, StateFailed},
	StateReconciled:       {StateReported, StateFailed},
	StateFailed:           {StateReported},
}

// Structural failure messages shown to the uploader.
const (
	msgUnsupportedType = "Unsupported file type. Upload a .csv, .xlsx or .xls file."
	msgEmptyFile       = "The file must contain a header row and at least one data row."
	msgLegacyWorkbook  = "Legacy binary .xls workbooks are not supported. Save the file as .xlsx or .csv and upload it again."
	msgUnreadable      = "The file could not be read as a spreadsheet or delimited text."
	msgMissingHeaders  = "Missing mandatory columns: %s."
)

// newImportID is replaced in tests.
var newImportID = uuid.NewString

// Upload is one file submitted for import.
type Upload struct {
	Filename string
	Data     []byte
}

// FaultError reports an internal failure. Its detail is for logs only.
type FaultError struct {
	ImportID string
	State    State
	Err      error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("import %s failed after %s: %v", e.ImportID, e.State, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// Options configures an Importer.
type Options struct {
	Decode          etlio.DecodeOptions
	Filter          string
	MaxReportErrors int
	Identity        identity.Options
	Reconcile       reconcile.Options
	// DryRun stops after identity resolution; nothing is written.
	DryRun bool
	// ErrorWriter, when set, receives every rejected row.
	ErrorWriter etlio.ErrorWriter
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	delim, _ := utf8.DecodeRuneInString(cfg.Import.CSV.Delimiter)
	return Options{
		Decode: etlio.DecodeOptions{
			Delimiter:     delim,
			LineSeparator: cfg.Import.CSV.LineSeparator,
		},
		Filter:          cfg.Import.Filter,
		MaxReportErrors: cfg.Import.MaxReportErrors,
		Identity:        identity.OptionsFromConfig(cfg.Identity),
		Reconcile: reconcile.Options{
			BatchSize: cfg.Import.BatchSize,
			TxTimeout: cfg.Store.TxTimeout,
		},
	}
}

// Importer runs uploads against one store. It is safe for concurrent use
// unless an ErrorWriter that is not is configured.
type Importer struct {
	aliases    *schema.AliasTable
	validator  *processor.Validator
	reconciler *reconcile.Reconciler
	metrics    *metrics.Manager
	opts       Options
}

// New creates an Importer. s may be nil for dry runs; m may be nil when
// metrics are disabled.
func New(s store.Store, aliases *schema.AliasTable, opts Options, m *metrics.Manager) (*Importer, error) {
	if aliases == nil {
		aliases = schema.DefaultAliasTable()
	}
	if s == nil && !opts.DryRun {
		return nil, errors.New("importer: a store is required unless running dry")
	}
	validator, err := processor.NewValidator(aliases, opts.Filter, opts.ErrorWriter)
	if err != nil {
		return nil, fmt.Errorf("importer: %w", err)
	}
	im := &Importer{aliases: aliases, validator: validator, metrics: m, opts: opts}
	if s != nil {
		im.reconciler = reconcile.New(s, opts.Reconcile)
	}
	return im, nil
}

// run tracks one import through the state machine.
type run struct {
	id      string
	state   State
	log     *logging.Entry
	builder *report.Builder
	started time.Time
}

func (r *run) advance(next State) {
	legal := false
	for _, s := range transitions[r.state] {
		if s == next {
			legal = true
			break
		}
	}
	if !legal {
		// Programming error; the pipeline below only takes legal edges.
		panic(fmt.Sprintf("importer: illegal transition %s -> %s", r.state, next))
	}
	r.log.Logf(logging.Debug, "%s -> %s", r.state, next)
	r.state = next
}

// Import runs upload through the pipeline. Structural, row and chunk
// failures are reported in the returned Report; the error is non-nil only
// for faults and is then a *FaultError.
func (im *Importer) Import(ctx context.Context, upload Upload) (*report.Report, error) {
	id := newImportID()
	r := &run{
		id:      id,
		state:   StateReceived,
		log:     logging.WithFields(logging.Fields{"import_id": id, "file": upload.Filename}),
		builder: report.NewBuilder(id, upload.Filename, im.opts.MaxReportErrors),
		started: time.Now(),
	}
	r.log.Logf(logging.Info, "Import received: %d bytes", len(upload.Data))

	table, err := etlio.Decode(upload.Data, upload.Filename, im.opts.Decode)
	if err != nil {
		if errors.Is(err, etlio.ErrEmptyFile) {
			// The bytes were readable; only the content is missing.
			r.advance(StateDecoded)
		}
		r.log.Logf(logging.Warning, "Decoding failed: %v", err)
		r.log.Logf(logging.Debug, "Upload starts with: %q", util.Snippet(upload.Data))
		return im.structural(r, decodeMessage(err), nil, nil), nil
	}
	r.advance(StateDecoded)

	headers, err := schema.Normalize(table.Headers, im.aliases)
	if err != nil {
		var missing *schema.MissingHeadersError
		if !errors.As(err, &missing) {
			return nil, im.fault(r, err)
		}
		r.log.Logf(logging.Warning, "Header validation failed: %v", err)
		msg := fmt.Sprintf(msgMissingHeaders, strings.Join(missing.Missing, ", "))
		return im.structural(r, msg, missing.Missing, missing.Found), nil
	}
	r.advance(StateHeadersValidated)

	validated := im.validator.Validate(table, headers)
	r.builder.Validated(validated)
	r.advance(StateRowsValidated)
	r.log.Logf(logging.Info, "Rows validated: %d valid, %d rejected, %d skipped",
		len(validated.Valid), len(validated.Rejected), len(validated.Skipped))

	set := identity.Resolve(validated.Valid, im.opts.Identity)
	r.advance(StateEntitiesResolved)
	r.log.Logf(logging.Info, "Entities resolved: %d venues, %d trainers, %d people, %d events, %d attendance",
		len(set.Venues), len(set.Trainers), len(set.People), len(set.Events), len(set.Attendance))

	if im.opts.DryRun {
		r.log.Logf(logging.Info, "Dry run: nothing written")
	} else {
		reconciled, err := im.reconciler.Reconcile(ctx, set)
		if err != nil {
			return nil, im.fault(r, err)
		}
		r.builder.Reconciled(reconciled)
		if im.metrics != nil {
			for _, f := range reconciled.Failures {
				im.metrics.ChunkFailed(f.Entity)
			}
		}
		r.advance(StateReconciled)
	}

	r.advance(StateReported)
	r.builder.SetState(string(r.state))
	rep := r.builder.Build()
	im.observe(r, rep)
	r.log.Logf(logging.Info, "Import finished with status %s: %s", rep.Status, rep.Message)
	return rep, nil
}

func (im *Importer) structural(r *run, message string, missing, found []string) *report.Report {
	r.advance(StateFailed)
	r.builder.Structural(message, missing, found)
	r.advance(StateReported)
	r.builder.SetState(string(StateFailed))
	rep := r.builder.Build()
	im.observe(r, rep)
	return rep
}

func (im *Importer) fault(r *run, err error) error {
	failedAt := r.state
	r.advance(StateFailed)
	r.log.Logf(logging.Error, "Import aborted after %s: %v", failedAt, err)
	if im.metrics != nil {
		im.metrics.ObserveImport("fault", time.Since(r.started))
	}
	return &FaultError{ImportID: r.id, State: failedAt, Err: err}
}

func (im *Importer) observe(r *run, rep *report.Report) {
	if im.metrics == nil {
		return
	}
	im.metrics.ObserveImport(string(rep.Status), time.Since(r.started))
	im.metrics.AddRows(metrics.OutcomeProcessed, rep.Processed)
	im.metrics.AddRows(metrics.OutcomeRejected, rep.Rejected)
	im.metrics.AddRows(metrics.OutcomeFailed, rep.Failed)
	im.metrics.AddRows(metrics.OutcomeSkipped, rep.Skipped)
}

func decodeMessage(err error) string {
	switch {
	case errors.Is(err, etlio.ErrUnsupportedFileType):
		return msgUnsupportedType
	case errors.Is(err, etlio.ErrEmptyFile):
		return msgEmptyFile
	case errors.Is(err, etlio.ErrLegacyWorkbook):
		return msgLegacyWorkbook
	}
	return msgUnreadable
}
