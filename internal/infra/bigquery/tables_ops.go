package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/whiro/dami/internal/logger"
	"github.com/whiro/dami/internal/schema"
)

// EnsureTableWithClient creates the dataset and the table described by table
// when they do not exist. Existing tables are left untouched.
func EnsureTableWithClient(ctx context.Context, client *bigquery.Client, table schema.Table) error {
	log := logger.FromContext(ctx)

	ds := client.DatasetInProject(table.Project, table.Dataset)
	if _, err := ds.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("EnsureTable: dataset metadata: %w", err)
		}
		if err := ds.Create(ctx, &bigquery.DatasetMetadata{}); err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("EnsureTable: creating dataset %s.%s: %w", table.Project, table.Dataset, err)
		}
		log.Info().Str("dataset", table.Project+"."+table.Dataset).Msg("created dataset")
	}

	if _, err := ds.Table(table.Table).Metadata(ctx); err == nil {
		log.Info().Str("table", table.ID()).Msg("table already exists")
		return nil
	} else if !isNotFound(err) {
		return fmt.Errorf("EnsureTable: table metadata: %w", err)
	}

	if err := createTable(ctx, client, table, time.Time{}); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("EnsureTable: %w", err)
	}
	log.Info().Str("table", table.ID()).Msg("created table")
	return nil
}

// createTable creates table from its schema. A non-zero expiry makes it a
// temporary table; those are never partitioned.
func createTable(ctx context.Context, client *bigquery.Client, table schema.Table, expiry time.Time) error {
	meta := tableMetadata(table, expiry)
	if err := client.DatasetInProject(table.Project, table.Dataset).Table(table.Table).Create(ctx, meta); err != nil {
		return fmt.Errorf("creating table %s: %w", table.ID(), err)
	}
	return nil
}

func tableMetadata(table schema.Table, expiry time.Time) *bigquery.TableMetadata {
	meta := &bigquery.TableMetadata{
		Schema:         table.BigQuerySchema(),
		ExpirationTime: expiry,
	}
	if table.PartitionField != "" && expiry.IsZero() {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: table.PartitionField,
		}
	}
	return meta
}

func dropTable(ctx context.Context, client *bigquery.Client, table schema.Table) error {
	err := client.DatasetInProject(table.Project, table.Dataset).Table(table.Table).Delete(ctx)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting table %s: %w", table.ID(), err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
