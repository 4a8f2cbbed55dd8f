package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	bq "github.com/whiro/dami/internal/bigquery"
	"github.com/whiro/dami/internal/logger"
	"github.com/whiro/dami/internal/schema"
)

const maxErrorMessageLen = 2000

// StartImportRunWithClient inserts a new row into import_runs with
// status=RUNNING and returns the generated run_id.
func StartImportRunWithClient(ctx context.Context, client *bigquery.Client, table schema.Table, trigger, replaceMode string) (string, error) {
	runID := uuid.NewString()

	sql := fmt.Sprintf(`
		INSERT %s (
			run_id,
			trigger,
			replace_mode,
			status,
			started_ts
		)
		VALUES (
			@run_id,
			@trigger,
			@replace_mode,
			@status,
			@started_ts
		)
	`, quoteTable(table.Project, table.Dataset, table.Table))

	params := []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
		{Name: "trigger", Value: trigger},
		{Name: "replace_mode", Value: replaceMode},
		{Name: "status", Value: string(bq.ImportRunRunning)},
		{Name: "started_ts", Value: time.Now()},
	}

	if _, _, err := runQueryJob(ctx, client, sql, params); err != nil {
		return "", fmt.Errorf("StartImportRun: %w", err)
	}
	return runID, nil
}

// MarkImportRunSucceededWithClient sets the final status, counters, window
// and finished_ts of a run, and clears error_message.
func MarkImportRunSucceededWithClient(ctx context.Context, client *bigquery.Client, table schema.Table, runID string, result bq.ImportRunResult) error {
	status := result.Status
	if status == "" {
		status = bq.ImportRunSuccess
	}

	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    source_uri = @source_uri,
		    window_start = @window_start,
		    window_end = @window_end,
		    rows_deleted = @rows_deleted,
		    rows_loaded = @rows_loaded,
		    error_message = NULL
		WHERE run_id = @run_id
	`, quoteTable(table.Project, table.Dataset, table.Table))

	params := []bigquery.QueryParameter{
		{Name: "status", Value: string(status)},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "source_uri", Value: bigquery.NullString{StringVal: result.SourceURI, Valid: result.SourceURI != ""}},
		{Name: "window_start", Value: windowBound(result.Window, true)},
		{Name: "window_end", Value: windowBound(result.Window, false)},
		{Name: "rows_deleted", Value: result.RowsDeleted},
		{Name: "rows_loaded", Value: result.RowsLoaded},
		{Name: "run_id", Value: runID},
	}

	if _, _, err := runQueryJob(ctx, client, sql, params); err != nil {
		return fmt.Errorf("MarkImportRunSucceeded: %w", err)
	}
	return nil
}

func windowBound(w *bq.Window, start bool) bigquery.NullDate {
	if w == nil {
		return bigquery.NullDate{}
	}
	if start {
		return bigquery.NullDate{Date: w.Start, Valid: true}
	}
	return bigquery.NullDate{Date: w.End, Valid: true}
}

// MarkImportRunFailedWithClient sets status (FAILED or PARTIAL), finished_ts
// and error_message. Errors are logged; the caller is already handling one.
func MarkImportRunFailedWithClient(ctx context.Context, client *bigquery.Client, table schema.Table, runID string, status bq.ImportRunStatus, runErr error) {
	log := logger.FromContext(ctx)

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
		if len(errMsg) > maxErrorMessageLen {
			errMsg = errMsg[:maxErrorMessageLen]
		}
	}

	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, quoteTable(table.Project, table.Dataset, table.Table))

	params := []bigquery.QueryParameter{
		{Name: "status", Value: string(status)},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: errMsg},
		{Name: "run_id", Value: runID},
	}

	if _, _, err := runQueryJob(ctx, client, sql, params); err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Str("status", string(status)).
			Msg("MarkImportRunFailed: updating run")
	}
}

// ListImportRunsWithClient returns the most recent runs, newest first.
func ListImportRunsWithClient(ctx context.Context, client *bigquery.Client, table schema.Table, limit int) ([]*bq.ImportRunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	q := client.Query(fmt.Sprintf(`
		SELECT
			run_id,
			trigger,
			replace_mode,
			status,
			source_uri,
			started_ts,
			finished_ts,
			window_start,
			window_end,
			rows_deleted,
			rows_loaded,
			error_message
		FROM %s
		ORDER BY started_ts DESC
		LIMIT @limit
	`, quoteTable(table.Project, table.Dataset, table.Table)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListImportRuns: query read: %w", err)
	}

	var rows []*bq.ImportRunRow
	for {
		var r bq.ImportRunRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListImportRuns: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}
