package pipeline

import (
	"context"

	"cloud.google.com/go/storage"
	"golang.org/x/text/encoding"

	bq "github.com/whiro/dami/internal/bigquery"
	"github.com/whiro/dami/internal/frame"
	"github.com/whiro/dami/internal/gcs"
	"github.com/whiro/dami/internal/schema"
)

// ObjectStore is the part of gcs.StorageService the import reads from.
type ObjectStore interface {
	GetBlob(ctx context.Context, loc gcs.Location) (*storage.ObjectAttrs, error)
	GetLatestBlob(ctx context.Context, prefix gcs.Location, suffix string) (*storage.ObjectAttrs, error)
	DownloadFrame(ctx context.Context, attrs *storage.ObjectAttrs, enc encoding.Encoding) (*frame.Frame, error)
}

// Warehouse is the part of bq.Warehouse the import writes through.
type Warehouse interface {
	InsertFrame(ctx context.Context, f *frame.Frame, table schema.Table) (int64, error)
	DeleteDateRange(ctx context.Context, table schema.Table, column string, w bq.Window) (int64, error)
	ReplaceDateRange(ctx context.Context, f *frame.Frame, table schema.Table, column string, w bq.Window) (bq.ReplaceResult, error)
}

// RunRecorder records the lifecycle of an import run.
type RunRecorder interface {
	StartImportRun(ctx context.Context, trigger, replaceMode string) (string, error)
	MarkImportRunSucceeded(ctx context.Context, runID string, result bq.ImportRunResult) error
	MarkImportRunFailed(ctx context.Context, runID string, status bq.ImportRunStatus, runErr error)
}

var (
	_ ObjectStore = (gcs.StorageService)(nil)
	_ Warehouse   = (bq.Warehouse)(nil)
	_ RunRecorder = (bq.ImportRunRepository)(nil)
)
