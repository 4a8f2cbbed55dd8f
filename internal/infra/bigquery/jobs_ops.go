package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// runQueryJob runs sql to completion and returns the job and its final status.
func runQueryJob(ctx context.Context, client *bigquery.Client, sql string, params []bigquery.QueryParameter) (*bigquery.Job, *bigquery.JobStatus, error) {
	q := client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return nil, nil, fmt.Errorf("job error: %w", err)
	}

	return job, status, nil
}

// dmlAffectedRows reads the affected row count of a finished DML job.
func dmlAffectedRows(status *bigquery.JobStatus) int64 {
	if status == nil || status.Statistics == nil {
		return 0
	}
	if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return qs.NumDMLAffectedRows
	}
	return 0
}

// loadOutputRows reads the written row count of a finished load job.
func loadOutputRows(status *bigquery.JobStatus) int64 {
	if status == nil || status.Statistics == nil {
		return 0
	}
	if ls, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
		return ls.OutputRows
	}
	return 0
}

// quoteTable returns the backquoted fully qualified id of a table.
func quoteTable(project, dataset, table string) string {
	return "`" + project + "." + dataset + "." + table + "`"
}

// quoteIdent backquotes a column name.
func quoteIdent(name string) string {
	return "`" + name + "`"
}
