package pipeline

import (
	"context"
	"time"

	"golang.org/x/text/encoding"

	bq "github.com/whiro/dami/internal/bigquery"
	"github.com/whiro/dami/internal/gcs"
	"github.com/whiro/dami/internal/logger"
	"github.com/whiro/dami/internal/schema"
)

// Options configures an ImportService.
type Options struct {
	// Prefix is where exports are uploaded; the latest object under it whose
	// name ends with Suffix is imported.
	Prefix gcs.Location
	Suffix string

	// Encoding decodes the export. Nil means UTF-8.
	Encoding encoding.Encoding

	Table       schema.Table
	DateColumn  string
	ReplaceMode ReplaceMode
}

// ImportService imports MoneyForward exports from storage into the warehouse.
type ImportService struct {
	store     ObjectStore
	warehouse Warehouse
	runs      RunRecorder
	opts      Options
	now       func() time.Time
}

// NewImportService creates an ImportService. Empty options fall back to
// DefaultSuffix, DefaultDateColumn and ReplaceStaged.
func NewImportService(store ObjectStore, warehouse Warehouse, runs RunRecorder, opts Options) *ImportService {
	if opts.Suffix == "" {
		opts.Suffix = DefaultSuffix
	}
	if opts.DateColumn == "" {
		opts.DateColumn = DefaultDateColumn
	}
	if opts.ReplaceMode == "" {
		opts.ReplaceMode = ReplaceStaged
	}
	return &ImportService{
		store:     store,
		warehouse: warehouse,
		runs:      runs,
		opts:      opts,
		now:       time.Now,
	}
}

// Options returns the effective options.
func (s *ImportService) Options() Options {
	return s.opts
}

// InsertLatestCSV imports the most recently updated export under the
// configured prefix.
func (s *ImportService) InsertLatestCSV(ctx context.Context) (*ImportResult, error) {
	return s.Import(ctx, Request{Trigger: TriggerCLI})
}

// Import runs the import pipeline for req. A run is recorded only once the
// export has been validated and a window computed: skipped imports and dry
// runs write nothing.
func (s *ImportService) Import(ctx context.Context, req Request) (*ImportResult, error) {
	if req.Trigger == "" {
		req.Trigger = TriggerCLI
	}
	log := logger.FromContext(ctx).With().
		Str("trigger", req.Trigger).
		Str("replace_mode", string(s.opts.ReplaceMode)).
		Logger()
	ctx = logger.WithContext(ctx, log)

	state := &ImportState{Request: req}
	err := s.pipeline().Execute(ctx, state)
	result := s.result(state)
	if err != nil {
		s.markFailed(ctx, state, err)
		return result, err
	}

	if result.Skipped {
		log.Info().Str("reason", result.SkipReason).Msg("import skipped")
		return result, nil
	}
	event := log.Info().
		Str("source_uri", result.SourceURI).
		Str("window", result.Window.String()).
		Int("rows", result.Rows)
	if !result.DryRun {
		event = event.
			Str("run_id", result.RunID).
			Int64("rows_deleted", result.RowsDeleted).
			Int64("rows_loaded", result.RowsLoaded)
	}
	event.Msg("import finished")
	return result, nil
}

func (s *ImportService) pipeline() *Pipeline {
	return NewPipeline(
		&FindBlobStep{Store: s.store, Prefix: s.opts.Prefix, Suffix: s.opts.Suffix},
		&DownloadStep{Store: s.store, Encoding: s.opts.Encoding},
		&NormalizeStep{Now: s.now},
		&ValidateStep{Table: s.opts.Table},
		&ComputeWindowStep{Column: s.opts.DateColumn},
		&StartRunStep{Runs: s.runs, Mode: s.opts.ReplaceMode},
		&ReplaceWindowStep{Warehouse: s.warehouse, Table: s.opts.Table, Column: s.opts.DateColumn, Mode: s.opts.ReplaceMode},
		&MarkSuccessStep{Runs: s.runs},
	)
}

// markFailed records a failed run. Once the rows are loaded the data is
// correct, so only the status update itself failed and nothing is recorded.
func (s *ImportService) markFailed(ctx context.Context, state *ImportState, err error) {
	log := logger.FromContext(ctx)
	if state.RunID == "" {
		log.Error().Err(err).Msg("import failed before a run was started")
		return
	}
	if state.Loaded {
		log.Error().Err(err).Str("run_id", state.RunID).Msg("import loaded but the run could not be marked")
		return
	}
	status := bq.ImportRunFailed
	if state.Deleted {
		status = bq.ImportRunPartial
		log.Error().
			Err(err).
			Str("run_id", state.RunID).
			Str("window", state.Window.String()).
			Int64("rows_deleted", state.RowsDeleted).
			Msg("direct replace deleted the window but did not load: re-run the import")
	}
	statusCtx, cancel := runStatusContext(ctx)
	defer cancel()
	s.runs.MarkImportRunFailed(statusCtx, state.RunID, status, err)
}

// runStatusContext keeps the values of ctx (the logger) but not its
// cancellation, so a timeout or shutdown that aborted the import cannot
// also leave the run RUNNING.
func runStatusContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), RunStatusTimeout)
}

func (s *ImportService) result(state *ImportState) *ImportResult {
	r := &ImportResult{
		RunID:       state.RunID,
		SourceURI:   state.SourceURI,
		ReplaceMode: string(s.opts.ReplaceMode),
		Window:      state.Window,
		RowsDeleted: state.RowsDeleted,
		RowsLoaded:  state.RowsLoaded,
		Skipped:     state.SkipReason != "",
		SkipReason:  state.SkipReason,
		DryRun:      state.Request.DryRun,
	}
	if state.Frame != nil {
		r.Rows = state.Frame.Height()
	}
	return r
}
