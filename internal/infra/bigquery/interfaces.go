package bigquery

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"

	bq "github.com/whiro/dami/internal/bigquery"
	"github.com/whiro/dami/internal/frame"
	"github.com/whiro/dami/internal/schema"
)

// Re-export interfaces from shared package so callers only import infra.
type Warehouse = bq.Warehouse
type ImportRunRepository = bq.ImportRunRepository
type TransactionRepository = bq.TransactionRepository

var (
	_ Warehouse             = (*BigQueryWarehouse)(nil)
	_ ImportRunRepository   = (*BigQueryImportRunRepository)(nil)
	_ TransactionRepository = (*BigQueryTransactionRepository)(nil)
)

const defaultStagingTTL = time.Hour

// BigQueryWarehouse is the concrete implementation of Warehouse that
// interacts with BigQuery. It holds a shared BigQuery client to avoid
// creating a new connection for each operation.
type BigQueryWarehouse struct {
	client     *bigquery.Client
	format     bq.LoadFormat
	stagingTTL time.Duration
}

// NewBigQueryWarehouse creates a warehouse around a shared client. Loads use
// Parquet unless WithLoadFormat says otherwise.
func NewBigQueryWarehouse(client *bigquery.Client) *BigQueryWarehouse {
	return &BigQueryWarehouse{
		client:     client,
		format:     bq.LoadFormatParquet,
		stagingTTL: defaultStagingTTL,
	}
}

// WithLoadFormat sets the payload format used by load jobs.
func (w *BigQueryWarehouse) WithLoadFormat(format bq.LoadFormat) *BigQueryWarehouse {
	w.format = format
	return w
}

// WithStagingTTL sets how long staging tables live before BigQuery expires them.
func (w *BigQueryWarehouse) WithStagingTTL(ttl time.Duration) *BigQueryWarehouse {
	if ttl > 0 {
		w.stagingTTL = ttl
	}
	return w
}

// Close closes the BigQuery client connection. This should be called when
// the warehouse is no longer needed to release resources.
func (w *BigQueryWarehouse) Close() error {
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}

// InsertFrame delegates to InsertFrameWithClient with the shared client.
func (w *BigQueryWarehouse) InsertFrame(ctx context.Context, f *frame.Frame, table schema.Table) (int64, error) {
	return InsertFrameWithClient(ctx, w.client, f, table, w.format)
}

// DeleteDateRange delegates to DeleteDateRangeWithClient with the shared client.
func (w *BigQueryWarehouse) DeleteDateRange(ctx context.Context, table schema.Table, column string, win bq.Window) (int64, error) {
	return DeleteDateRangeWithClient(ctx, w.client, table, column, win)
}

// ReplaceDateRange delegates to ReplaceDateRangeWithClient with the shared client.
func (w *BigQueryWarehouse) ReplaceDateRange(ctx context.Context, f *frame.Frame, table schema.Table, column string, win bq.Window) (bq.ReplaceResult, error) {
	return ReplaceDateRangeWithClient(ctx, w.client, f, table, column, win, ReplaceOptions{
		Format:     w.format,
		StagingTTL: w.stagingTTL,
	})
}

// EnsureTable delegates to EnsureTableWithClient with the shared client.
func (w *BigQueryWarehouse) EnsureTable(ctx context.Context, table schema.Table) error {
	return EnsureTableWithClient(ctx, w.client, table)
}

// QueryFrame delegates to QueryFrameWithClient with the shared client.
func (w *BigQueryWarehouse) QueryFrame(ctx context.Context, sql string, params []bigquery.QueryParameter) (*frame.Frame, error) {
	return QueryFrameWithClient(ctx, w.client, sql, params)
}

// BigQueryImportRunRepository is the concrete implementation of
// ImportRunRepository.
type BigQueryImportRunRepository struct {
	client *bigquery.Client
	table  schema.Table
}

// NewBigQueryImportRunRepository records runs in project.dataset.import_runs.
func NewBigQueryImportRunRepository(client *bigquery.Client, project, dataset string) *BigQueryImportRunRepository {
	return &BigQueryImportRunRepository{
		client: client,
		table:  ImportRunsTable(project, dataset),
	}
}

// Table returns the import_runs table definition.
func (r *BigQueryImportRunRepository) Table() schema.Table {
	return r.table
}

// StartImportRun delegates to StartImportRunWithClient with the shared client.
func (r *BigQueryImportRunRepository) StartImportRun(ctx context.Context, trigger, replaceMode string) (string, error) {
	return StartImportRunWithClient(ctx, r.client, r.table, trigger, replaceMode)
}

// MarkImportRunSucceeded delegates to MarkImportRunSucceededWithClient with the shared client.
func (r *BigQueryImportRunRepository) MarkImportRunSucceeded(ctx context.Context, runID string, result bq.ImportRunResult) error {
	return MarkImportRunSucceededWithClient(ctx, r.client, r.table, runID, result)
}

// MarkImportRunFailed delegates to MarkImportRunFailedWithClient with the shared client.
func (r *BigQueryImportRunRepository) MarkImportRunFailed(ctx context.Context, runID string, status bq.ImportRunStatus, runErr error) {
	MarkImportRunFailedWithClient(ctx, r.client, r.table, runID, status, runErr)
}

// ListImportRuns delegates to ListImportRunsWithClient with the shared client.
func (r *BigQueryImportRunRepository) ListImportRuns(ctx context.Context, limit int) ([]*bq.ImportRunRow, error) {
	return ListImportRunsWithClient(ctx, r.client, r.table, limit)
}

// BigQueryTransactionRepository reads imported MoneyForward transactions.
type BigQueryTransactionRepository struct {
	client *bigquery.Client
	table  schema.Table
}

// NewBigQueryTransactionRepository creates a repository over table.
func NewBigQueryTransactionRepository(client *bigquery.Client, table schema.Table) *BigQueryTransactionRepository {
	return &BigQueryTransactionRepository{client: client, table: table}
}

// QueryTransactionsByDateRange delegates to QueryTransactionsByDateRangeWithClient with the shared client.
func (r *BigQueryTransactionRepository) QueryTransactionsByDateRange(ctx context.Context, startDate, endDate time.Time) ([]*bq.TransactionRow, error) {
	return QueryTransactionsByDateRangeWithClient(ctx, r.client, r.table, startDate, endDate)
}
