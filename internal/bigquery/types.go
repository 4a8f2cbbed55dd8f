package bigquery

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/whiro/dami/internal/frame"
	"github.com/whiro/dami/internal/schema"
)

// Window is an inclusive range of calendar dates.
type Window struct {
	Start civil.Date `json:"start"`
	End   civil.Date `json:"end"`
}

// Contains reports whether d falls inside the window, bounds included.
func (w Window) Contains(d civil.Date) bool {
	return !d.Before(w.Start) && !d.After(w.End)
}

func (w Window) String() string {
	return w.Start.String() + ".." + w.End.String()
}

// LoadFormat is the payload format of a load job.
type LoadFormat string

const (
	LoadFormatParquet LoadFormat = "PARQUET"
	LoadFormatJSON    LoadFormat = "NEWLINE_DELIMITED_JSON"
)

// ReplaceResult describes a completed window replace.
type ReplaceResult struct {
	RowsDeleted  int64  `json:"rows_deleted"`
	RowsLoaded   int64  `json:"rows_loaded"`
	StagingTable string `json:"staging_table,omitempty"`
}

// Warehouse provides the table operations the import pipeline needs.
type Warehouse interface {
	// InsertFrame validates f against table and appends it with a load job.
	// It returns the number of rows the job wrote.
	InsertFrame(ctx context.Context, f *frame.Frame, table schema.Table) (int64, error)

	// DeleteDateRange deletes rows whose column value falls inside w and
	// returns the number of rows deleted.
	DeleteDateRange(ctx context.Context, table schema.Table, column string, w Window) (int64, error)

	// ReplaceDateRange stages f, then deletes the window and inserts the
	// staged rows in one transaction.
	ReplaceDateRange(ctx context.Context, f *frame.Frame, table schema.Table, column string, w Window) (ReplaceResult, error)

	// EnsureTable creates the dataset and table if they do not exist.
	EnsureTable(ctx context.Context, table schema.Table) error

	// QueryFrame runs a query and returns its result as a frame.
	QueryFrame(ctx context.Context, sql string, params []bigquery.QueryParameter) (*frame.Frame, error)
}

// ImportRunStatus is the lifecycle state of an import run.
type ImportRunStatus string

const (
	ImportRunRunning ImportRunStatus = "RUNNING"
	ImportRunSuccess ImportRunStatus = "SUCCESS"
	ImportRunFailed  ImportRunStatus = "FAILED"
	// ImportRunPartial marks a direct-mode run that failed after its delete
	// committed: the window is missing rows until the import is re-run.
	ImportRunPartial ImportRunStatus = "PARTIAL"
)

// ImportRunRepository records import runs.
type ImportRunRepository interface {
	// StartImportRun inserts a run with status=RUNNING and returns its run_id.
	StartImportRun(ctx context.Context, trigger, replaceMode string) (string, error)

	// MarkImportRunSucceeded sets the final status and counters of a run.
	MarkImportRunSucceeded(ctx context.Context, runID string, result ImportRunResult) error

	// MarkImportRunFailed sets status (FAILED or PARTIAL), finished_ts and
	// error_message. Failures are logged, not returned.
	MarkImportRunFailed(ctx context.Context, runID string, status ImportRunStatus, runErr error)

	// ListImportRuns returns the most recent runs, newest first.
	ListImportRuns(ctx context.Context, limit int) ([]*ImportRunRow, error)
}

// TransactionRepository reads imported transactions.
type TransactionRepository interface {
	// QueryTransactionsByDateRange queries transactions within the specified date range.
	QueryTransactionsByDateRange(ctx context.Context, startDate, endDate time.Time) ([]*TransactionRow, error)
}

// ImportRunResult is what a finished run reports.
type ImportRunResult struct {
	Status      ImportRunStatus
	SourceURI   string
	Window      *Window
	RowsDeleted int64
	RowsLoaded  int64
}

// ImportRunRow represents an import run record in BigQuery.
type ImportRunRow struct {
	RunID       string `bigquery:"run_id" json:"run_id"`
	Trigger     string `bigquery:"trigger" json:"trigger"`
	ReplaceMode string `bigquery:"replace_mode" json:"replace_mode"`
	Status      string `bigquery:"status" json:"status"`

	SourceURI bigquery.NullString `bigquery:"source_uri" json:"source_uri,omitempty"`

	StartedTS  time.Time              `bigquery:"started_ts" json:"started_ts"`
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts" json:"finished_ts,omitempty"`

	WindowStart bigquery.NullDate `bigquery:"window_start" json:"window_start,omitempty"`
	WindowEnd   bigquery.NullDate `bigquery:"window_end" json:"window_end,omitempty"`

	RowsDeleted bigquery.NullInt64 `bigquery:"rows_deleted" json:"rows_deleted,omitempty"`
	RowsLoaded  bigquery.NullInt64 `bigquery:"rows_loaded" json:"rows_loaded,omitempty"`

	ErrorMessage bigquery.NullString `bigquery:"error_message" json:"error_message,omitempty"`
}

// SourceRef identifies the object a row was imported from.
type SourceRef struct {
	URI     string                 `bigquery:"uri" json:"uri"`
	Updated bigquery.NullTimestamp `bigquery:"updated" json:"updated,omitempty"`
}

// TransactionRow represents a MoneyForward transaction record in BigQuery.
type TransactionRow struct {
	ID string `bigquery:"id" json:"id"`

	IsTarget bigquery.NullBool `bigquery:"is_target" json:"is_target,omitempty"`
	Date     civil.Date        `bigquery:"date" json:"date"`

	Content bigquery.NullString `bigquery:"content" json:"content,omitempty"`
	Amount  bigquery.NullInt64  `bigquery:"amount" json:"amount,omitempty"`

	Institution   bigquery.NullString `bigquery:"institution" json:"institution,omitempty"`
	MajorCategory bigquery.NullString `bigquery:"major_category" json:"major_category,omitempty"`
	MinorCategory bigquery.NullString `bigquery:"minor_category" json:"minor_category,omitempty"`
	Memo          bigquery.NullString `bigquery:"memo" json:"memo,omitempty"`

	IsTransfer bigquery.NullBool `bigquery:"is_transfer" json:"is_transfer,omitempty"`

	Source   *SourceRef `bigquery:"source" json:"source,omitempty"`
	LoadedAt time.Time  `bigquery:"loaded_at" json:"loaded_at"`
}
