package pipeline

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/text/encoding"

	bq "github.com/whiro/dami/internal/bigquery"
	"github.com/whiro/dami/internal/frame"
	"github.com/whiro/dami/internal/gcs"
	"github.com/whiro/dami/internal/logger"
	"github.com/whiro/dami/internal/moneyforward"
	"github.com/whiro/dami/internal/schema"
)

// PipelineStep represents a single step in the import pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *ImportState) error
}

// ImportState holds the shared state across all pipeline steps.
type ImportState struct {
	Request Request

	Blob      *storage.ObjectAttrs
	SourceURI string
	Raw       *frame.Frame
	Frame     *frame.Frame
	Window    *bq.Window

	RunID       string
	RowsDeleted int64
	RowsLoaded  int64

	// Deleted is set once a direct-mode delete has committed, Loaded once
	// the new rows are in the destination.
	Deleted bool
	Loaded  bool

	// Done stops the pipeline after the current step without an error.
	Done       bool
	SkipReason string
}

func (s *ImportState) skip(reason string) {
	s.SkipReason = reason
	s.Done = true
}

// Step 1: FindBlobStep resolves the export to import.
type FindBlobStep struct {
	Store  ObjectStore
	Prefix gcs.Location
	Suffix string
}

func (s *FindBlobStep) Execute(ctx context.Context, state *ImportState) error {
	var (
		attrs *storage.ObjectAttrs
		err   error
	)
	if state.Request.SourceURI != "" {
		loc, perr := gcs.ParseObjectURI(state.Request.SourceURI)
		if perr != nil {
			return perr
		}
		attrs, err = s.Store.GetBlob(ctx, loc)
	} else {
		attrs, err = s.Store.GetLatestBlob(ctx, s.Prefix, s.Suffix)
	}
	if err != nil {
		return err
	}
	if attrs == nil {
		logger.FromContext(ctx).Info().
			Str("prefix", s.Prefix.URI()).
			Str("suffix", s.Suffix).
			Msg("no export found")
		state.skip(SkipNoBlob)
		return nil
	}
	state.Blob = attrs
	state.SourceURI = gcs.Location{Bucket: attrs.Bucket, Path: attrs.Name}.URI()
	return nil
}

// Step 2: DownloadStep reads the export into a raw frame.
type DownloadStep struct {
	Store    ObjectStore
	Encoding encoding.Encoding
}

func (s *DownloadStep) Execute(ctx context.Context, state *ImportState) error {
	raw, err := s.Store.DownloadFrame(ctx, state.Blob, s.Encoding)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info().
		Str("source_uri", state.SourceURI).
		Int("rows", raw.Height()).
		Msg("downloaded export")
	if raw.Height() == 0 {
		state.skip(SkipNoRows)
		return nil
	}
	state.Raw = raw
	return nil
}

// Step 3: NormalizeStep maps the export onto the transactions layout.
type NormalizeStep struct {
	Now func() time.Time
}

func (s *NormalizeStep) Execute(ctx context.Context, state *ImportState) error {
	f, err := moneyforward.Normalize(state.Raw, moneyforward.Source{
		URI:     state.SourceURI,
		Updated: state.Blob.Updated,
	}, s.Now())
	if err != nil {
		return err
	}
	state.Frame = f
	return nil
}

// Step 4: ValidateStep checks the frame against the destination schema.
type ValidateStep struct {
	Table schema.Table
}

func (s *ValidateStep) Execute(ctx context.Context, state *ImportState) error {
	if err := schema.Validate(state.Frame, s.Table); err != nil {
		return err
	}
	return schema.CheckRequired(state.Frame, s.Table)
}

// Step 5: ComputeWindowStep derives the replace window. A dry run ends here.
type ComputeWindowStep struct {
	Column string
}

func (s *ComputeWindowStep) Execute(ctx context.Context, state *ImportState) error {
	w, ok, err := ComputeWindow(state.Frame, s.Column)
	if err != nil {
		return err
	}
	if !ok {
		return &moneyforward.ExportError{Err: fmt.Errorf("ComputeWindow: column %q has no dates", s.Column)}
	}
	state.Window = &w
	if state.Request.DryRun {
		logger.FromContext(ctx).Info().
			Str("window", w.String()).
			Int("rows", state.Frame.Height()).
			Msg("dry run: export is valid, nothing written")
		state.Done = true
	}
	return nil
}

// Step 6: StartRunStep records the run as RUNNING.
type StartRunStep struct {
	Runs RunRecorder
	Mode ReplaceMode
}

func (s *StartRunStep) Execute(ctx context.Context, state *ImportState) error {
	runID, err := s.Runs.StartImportRun(ctx, state.Request.Trigger, string(s.Mode))
	if err != nil {
		return err
	}
	state.RunID = runID
	return nil
}

// Step 7: ReplaceWindowStep replaces the window in the destination table.
type ReplaceWindowStep struct {
	Warehouse Warehouse
	Table     schema.Table
	Column    string
	Mode      ReplaceMode
}

func (s *ReplaceWindowStep) Execute(ctx context.Context, state *ImportState) error {
	if s.Mode == ReplaceDirect {
		return s.direct(ctx, state)
	}
	res, err := s.Warehouse.ReplaceDateRange(ctx, state.Frame, s.Table, s.Column, *state.Window)
	if err != nil {
		return err
	}
	state.RowsDeleted = res.RowsDeleted
	state.RowsLoaded = res.RowsLoaded
	state.Loaded = true
	return nil
}

func (s *ReplaceWindowStep) direct(ctx context.Context, state *ImportState) error {
	w := *state.Window
	logger.FromContext(ctx).Warn().
		Str("table", s.Table.ID()).
		Str("window", w.String()).
		Msg("direct replace is not atomic: a failure after the delete leaves the window without rows until the import is re-run")

	deleted, err := s.Warehouse.DeleteDateRange(ctx, s.Table, s.Column, w)
	if err != nil {
		return err
	}
	state.Deleted = true
	state.RowsDeleted = deleted

	loaded, err := s.Warehouse.InsertFrame(ctx, state.Frame, s.Table)
	if err != nil {
		return &PartialReplaceError{Window: w, RowsDeleted: deleted, Err: err}
	}
	state.RowsLoaded = loaded
	state.Loaded = true
	return nil
}

// Step 8: MarkSuccessStep marks the run as SUCCESS.
type MarkSuccessStep struct {
	Runs RunRecorder
}

func (s *MarkSuccessStep) Execute(ctx context.Context, state *ImportState) error {
	statusCtx, cancel := runStatusContext(ctx)
	defer cancel()
	return s.Runs.MarkImportRunSucceeded(statusCtx, state.RunID, bq.ImportRunResult{
		Status:      bq.ImportRunSuccess,
		SourceURI:   state.SourceURI,
		Window:      state.Window,
		RowsDeleted: state.RowsDeleted,
		RowsLoaded:  state.RowsLoaded,
	})
}

// PartialReplaceError is returned when a direct replace deleted the window
// but could not load the new rows.
type PartialReplaceError struct {
	Window      bq.Window
	RowsDeleted int64
	Err         error
}

func (e *PartialReplaceError) Error() string {
	return fmt.Sprintf("window %s: deleted %d rows but the load failed: %v", e.Window, e.RowsDeleted, e.Err)
}

func (e *PartialReplaceError) Unwrap() error { return e.Err }
