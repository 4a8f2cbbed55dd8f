package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	bq "github.com/whiro/dami/internal/bigquery"
	"github.com/whiro/dami/internal/frame"
	"github.com/whiro/dami/internal/logger"
	"github.com/whiro/dami/internal/schema"
)

// ReplaceOptions tunes ReplaceDateRangeWithClient.
type ReplaceOptions struct {
	Format     bq.LoadFormat
	StagingTTL time.Duration
}

// ReplaceDateRangeWithClient replaces the window of table with the rows of f.
//
// The rows are first loaded into a fresh staging table that expires after
// opts.StagingTTL. A single script then deletes the window and copies the
// staged rows inside one transaction, so readers see either the old window or
// the new one. A failure at any point leaves the target table unchanged.
func ReplaceDateRangeWithClient(ctx context.Context, client *bigquery.Client, f *frame.Frame, table schema.Table, column string, win bq.Window, opts ReplaceOptions) (bq.ReplaceResult, error) {
	if err := checkFrame(f, table); err != nil {
		return bq.ReplaceResult{}, fmt.Errorf("ReplaceDateRange: %w", err)
	}
	if _, ok := table.Field(column); !ok {
		return bq.ReplaceResult{}, fmt.Errorf("ReplaceDateRange: %s has no column %q", table.ID(), column)
	}
	if opts.StagingTTL <= 0 {
		opts.StagingTTL = defaultStagingTTL
	}

	log := logger.FromContext(ctx)
	staging := stagingTable(table)

	if err := createTable(ctx, client, staging, time.Now().Add(opts.StagingTTL)); err != nil {
		return bq.ReplaceResult{}, fmt.Errorf("ReplaceDateRange: creating staging table: %w", err)
	}
	defer func() {
		// Best effort: the table expires anyway.
		if err := dropTable(context.WithoutCancel(ctx), client, staging); err != nil {
			log.Warn().Err(err).Str("staging_table", staging.ID()).Msg("dropping staging table")
		}
	}()

	loadStatus, err := loadFrame(ctx, client, f, staging, opts.Format, bigquery.WriteTruncate)
	if err != nil {
		return bq.ReplaceResult{}, fmt.Errorf("ReplaceDateRange: loading staging table: %w", err)
	}

	job, _, err := runQueryJob(ctx, client, replaceScript(table, staging, column), windowParams(win))
	if err != nil {
		return bq.ReplaceResult{}, fmt.Errorf("ReplaceDateRange: replace transaction: %w", err)
	}
	deleted, err := readDeletedRows(ctx, job)
	if err != nil {
		return bq.ReplaceResult{}, fmt.Errorf("ReplaceDateRange: %w", err)
	}

	result := bq.ReplaceResult{
		RowsDeleted:  deleted,
		RowsLoaded:   loadOutputRows(loadStatus),
		StagingTable: staging.ID(),
	}
	log.Info().
		Str("table", table.ID()).
		Str("window", win.String()).
		Int64("rows_deleted", result.RowsDeleted).
		Int64("rows_loaded", result.RowsLoaded).
		Msg("replaced window")
	return result, nil
}

// stagingTable names a one-off table next to the target.
func stagingTable(table schema.Table) schema.Table {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return table.WithLocation("", "", table.Table+"__staging_"+suffix)
}

// replaceScript deletes the window from target and copies staging into it in
// one transaction. The last statement selects the deleted row count.
func replaceScript(target, staging schema.Table, column string) string {
	cols := make([]string, len(target.Fields))
	for i, f := range target.Fields {
		cols[i] = quoteIdent(f.Name)
	}
	colList := strings.Join(cols, ", ")

	return fmt.Sprintf(`
DECLARE deleted_rows INT64 DEFAULT 0;
BEGIN TRANSACTION;
DELETE FROM %s
WHERE %s BETWEEN @window_start AND @window_end;
SET deleted_rows = @@row_count;
INSERT INTO %s (%s)
SELECT %s FROM %s;
COMMIT TRANSACTION;
SELECT deleted_rows;
`,
		quoteTable(target.Project, target.Dataset, target.Table),
		quoteIdent(column),
		quoteTable(target.Project, target.Dataset, target.Table), colList,
		colList, quoteTable(staging.Project, staging.Dataset, staging.Table),
	)
}

func readDeletedRows(ctx context.Context, job *bigquery.Job) (int64, error) {
	it, err := job.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading script result: %w", err)
	}
	var row []bigquery.Value
	err = it.Next(&row)
	if err == iterator.Done {
		return 0, fmt.Errorf("reading script result: no rows")
	}
	if err != nil {
		return 0, fmt.Errorf("reading script result: %w", err)
	}
	if len(row) == 0 {
		return 0, fmt.Errorf("reading script result: empty row")
	}
	n, ok := row[0].(int64)
	if !ok {
		return 0, fmt.Errorf("reading script result: unexpected value %v (%T)", row[0], row[0])
	}
	return n, nil
}
