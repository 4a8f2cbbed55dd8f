package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	bq "github.com/whiro/dami/internal/bigquery"
	"github.com/whiro/dami/internal/logger"
	"github.com/whiro/dami/internal/schema"
)

// DeleteDateRangeWithClient deletes every row of table whose column value
// lies inside the inclusive window and returns the number of rows deleted.
// Rows with a NULL date are never matched.
func DeleteDateRangeWithClient(ctx context.Context, client *bigquery.Client, table schema.Table, column string, win bq.Window) (int64, error) {
	if _, ok := table.Field(column); !ok {
		return 0, fmt.Errorf("DeleteDateRange: %s has no column %q", table.ID(), column)
	}

	_, status, err := runQueryJob(ctx, client, deleteWindowSQL(table, column), windowParams(win))
	if err != nil {
		return 0, fmt.Errorf("DeleteDateRange: %w", err)
	}

	deleted := dmlAffectedRows(status)
	logger.FromContext(ctx).Info().
		Str("table", table.ID()).
		Str("window", win.String()).
		Int64("rows_deleted", deleted).
		Msg("deleted window")
	return deleted, nil
}

func deleteWindowSQL(table schema.Table, column string) string {
	return fmt.Sprintf(`
		DELETE FROM %s
		WHERE %s BETWEEN @window_start AND @window_end
	`, quoteTable(table.Project, table.Dataset, table.Table), quoteIdent(column))
}

func windowParams(win bq.Window) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "window_start", Value: win.Start},
		{Name: "window_end", Value: win.End},
	}
}
