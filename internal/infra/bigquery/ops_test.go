package bigquery

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bq "github.com/whiro/dami/internal/bigquery"
	"github.com/whiro/dami/internal/frame"
)

func TestReplaceScript(t *testing.T) {
	target := testTable()
	staging := target.WithLocation("", "", "transactions__staging_abc")

	script := replaceScript(target, staging, "date")

	assert.True(t, strings.HasPrefix(strings.TrimSpace(script), "DECLARE deleted_rows INT64 DEFAULT 0;"))
	assert.Contains(t, script, "BEGIN TRANSACTION;")
	assert.Contains(t, script, "DELETE FROM `p.finance.transactions`\nWHERE `date` BETWEEN @window_start AND @window_end;")
	assert.Contains(t, script, "SET deleted_rows = @@row_count;")
	assert.Contains(t, script, "INSERT INTO `p.finance.transactions` (`id`, `date`, `amount`, `tags`, `source`)")
	assert.Contains(t, script, "SELECT `id`, `date`, `amount`, `tags`, `source` FROM `p.finance.transactions__staging_abc`;")
	assert.Contains(t, script, "COMMIT TRANSACTION;")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(script), "SELECT deleted_rows;"))

	assert.Less(t, strings.Index(script, "DELETE FROM"), strings.Index(script, "INSERT INTO"))
	assert.Less(t, strings.Index(script, "INSERT INTO"), strings.Index(script, "COMMIT TRANSACTION"))
}

func TestStagingTable(t *testing.T) {
	a := stagingTable(testTable())
	b := stagingTable(testTable())
	assert.True(t, strings.HasPrefix(a.Table, "transactions__staging_"))
	assert.Equal(t, "finance", a.Dataset)
	assert.NotEqual(t, a.Table, b.Table)
}

func TestDeleteWindowSQL(t *testing.T) {
	sql := deleteWindowSQL(testTable(), "date")
	assert.Contains(t, sql, "DELETE FROM `p.finance.transactions`")
	assert.Contains(t, sql, "WHERE `date` BETWEEN @window_start AND @window_end")

	win := bq.Window{Start: civil.Date{Year: 2024, Month: 1, Day: 1}, End: civil.Date{Year: 2024, Month: 1, Day: 31}}
	params := windowParams(win)
	require.Len(t, params, 2)
	assert.Equal(t, "window_start", params[0].Name)
	assert.Equal(t, win.Start, params[0].Value)
	assert.Equal(t, win.End, params[1].Value)
}

func TestTableMetadata(t *testing.T) {
	table := testTable()
	table.PartitionField = "date"

	meta := tableMetadata(table, time.Time{})
	require.NotNil(t, meta.TimePartitioning)
	assert.Equal(t, "date", meta.TimePartitioning.Field)
	assert.Len(t, meta.Schema, 5)

	expiry := time.Now().Add(time.Hour)
	staged := tableMetadata(table, expiry)
	assert.Nil(t, staged.TimePartitioning)
	assert.Equal(t, expiry, staged.ExpirationTime)
}

func TestJobStatistics(t *testing.T) {
	assert.Equal(t, int64(0), dmlAffectedRows(nil))
	assert.Equal(t, int64(7), dmlAffectedRows(&bigquery.JobStatus{
		Statistics: &bigquery.JobStatistics{Details: &bigquery.QueryStatistics{NumDMLAffectedRows: 7}},
	}))
	assert.Equal(t, int64(3), loadOutputRows(&bigquery.JobStatus{
		Statistics: &bigquery.JobStatistics{Details: &bigquery.LoadStatistics{OutputRows: 3}},
	}))
	assert.Equal(t, int64(0), loadOutputRows(&bigquery.JobStatus{
		Statistics: &bigquery.JobStatistics{Details: &bigquery.QueryStatistics{}},
	}))
}

func TestParams(t *testing.T) {
	d := civil.Date{Year: 2024, Month: 1, Day: 5}
	params, err := Params(map[string]any{
		"ids":   []any{"a", "b"},
		"start": d,
		"limit": 10,
		"col":   frame.MustSeries("x", frame.Int64, int64(1), nil, int64(3)),
	})
	require.NoError(t, err)
	require.Len(t, params, 4)

	assert.Equal(t, "col", params[0].Name)
	assert.Equal(t, []int64{1, 3}, params[0].Value)
	assert.Equal(t, "ids", params[1].Name)
	assert.Equal(t, []string{"a", "b"}, params[1].Value)
	assert.Equal(t, 10, params[2].Value)
	assert.Equal(t, d, params[3].Value)
}

func TestParams_Errors(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		wantErr string
	}{
		{"empty slice", []string{}, "must not be empty"},
		{"mixed slice", []any{"a", int64(1)}, "element 1"},
		{"unsupported scalar", struct{}{}, "unsupported type"},
		{"unsupported element", []any{struct{}{}}, "unsupported element type"},
		{"all-null series", frame.MustSeries("x", frame.String, nil), "must not be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Params(map[string]any{"p": tt.value})
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestResultFrame(t *testing.T) {
	s := bigquery.Schema{
		{Name: "id", Type: bigquery.StringFieldType},
		{Name: "amount", Type: bigquery.NumericFieldType},
		{Name: "tags", Type: bigquery.StringFieldType, Repeated: true},
		{Name: "source", Type: bigquery.RecordFieldType, Schema: bigquery.Schema{
			{Name: "uri", Type: bigquery.StringFieldType},
			{Name: "updated", Type: bigquery.TimestampFieldType},
		}},
		{Name: "at", Type: bigquery.DateTimeFieldType},
	}
	updated := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := [][]bigquery.Value{
		{"a", big.NewRat(3, 2), []bigquery.Value{"x", "y"}, []bigquery.Value{"gs://b/a.csv", updated},
			civil.DateTime{Date: civil.Date{Year: 2024, Month: 1, Day: 1}}},
		{nil, nil, nil, nil, nil},
	}

	f, err := resultFrame(s, rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "amount", "tags", "source", "at"}, f.Columns())

	row := f.Row(0)
	assert.Equal(t, "a", row["id"])
	assert.Equal(t, 1.5, row["amount"])
	assert.Equal(t, []any{"x", "y"}, row["tags"])
	assert.Equal(t, map[string]any{"uri": "gs://b/a.csv", "updated": updated}, row["source"])
	assert.Equal(t, updated, row["at"])

	for _, v := range f.Row(1) {
		assert.Nil(t, v)
	}

	source, _ := f.Column("source")
	assert.Equal(t, frame.KindStruct, source.DType().Kind)
	tags, _ := f.Column("tags")
	assert.Equal(t, frame.List(frame.String), tags.DType())
}

func TestImportRunsTable(t *testing.T) {
	table := ImportRunsTable("p", "finance")
	require.NoError(t, table.Check())
	assert.Equal(t, "p.finance.import_runs", table.ID())
}

func TestTransactionsByDateSQL(t *testing.T) {
	sql := transactionsByDateSQL(testTable())
	assert.Contains(t, sql, "FROM `p.finance.transactions` t")
	assert.Contains(t, sql, "t.`loaded_at`")
	assert.Contains(t, sql, "ORDER BY t.date, t.id")
}
