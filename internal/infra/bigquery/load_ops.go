package bigquery

import (
	"bytes"
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	bq "github.com/whiro/dami/internal/bigquery"
	"github.com/whiro/dami/internal/frame"
	"github.com/whiro/dami/internal/logger"
	"github.com/whiro/dami/internal/schema"
)

const previewRows = 5

// InsertFrameWithClient validates f against table, keeps only the declared
// columns and appends them to the table with a load job. It waits for the job
// and returns the number of rows written.
func InsertFrameWithClient(ctx context.Context, client *bigquery.Client, f *frame.Frame, table schema.Table, format bq.LoadFormat) (int64, error) {
	if err := checkFrame(f, table); err != nil {
		return 0, fmt.Errorf("InsertFrame: %w", err)
	}
	if f.Height() == 0 {
		return 0, nil
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("table", table.ID()).
		Int("rows", f.Height()).
		Str("format", string(format)).
		Msg("inserting frame")
	log.Debug().Msg(f.Head(previewRows))

	status, err := loadFrame(ctx, client, f, table, format, bigquery.WriteAppend)
	if err != nil {
		return 0, fmt.Errorf("InsertFrame: %w", err)
	}
	return loadOutputRows(status), nil
}

func checkFrame(f *frame.Frame, table schema.Table) error {
	if err := schema.Validate(f, table); err != nil {
		return err
	}
	return schema.CheckRequired(f, table)
}

// loadFrame encodes f and runs a load job into table with the given write
// disposition. The table must already exist.
func loadFrame(ctx context.Context, client *bigquery.Client, f *frame.Frame, table schema.Table, format bq.LoadFormat, disposition bigquery.TableWriteDisposition) (*bigquery.JobStatus, error) {
	payload, err := encodePayload(format, f, table)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	src := bigquery.NewReaderSource(bytes.NewReader(payload))
	switch format {
	case bq.LoadFormatJSON:
		src.SourceFormat = bigquery.JSON
		src.Schema = table.BigQuerySchema()
	default:
		src.SourceFormat = bigquery.Parquet
		src.ParquetOptions = &bigquery.ParquetOptions{EnableListInference: true}
	}

	loader := client.DatasetInProject(table.Project, table.Dataset).Table(table.Table).LoaderFrom(src)
	loader.WriteDisposition = disposition
	loader.CreateDisposition = bigquery.CreateNever

	job, err := loader.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting load job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for load job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("load job %s: %w", job.ID(), err)
	}

	logger.FromContext(ctx).Info().
		Str("table", table.ID()).
		Str("job_id", job.ID()).
		Int64("output_rows", loadOutputRows(status)).
		Msg("load job finished")
	return status, nil
}
