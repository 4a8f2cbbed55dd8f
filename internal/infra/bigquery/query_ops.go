package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/whiro/dami/internal/frame"
)

// QueryFrameWithClient runs sql and collects the result into a frame whose
// column types follow the result schema.
func QueryFrameWithClient(ctx context.Context, client *bigquery.Client, sql string, params []bigquery.QueryParameter) (*frame.Frame, error) {
	q := client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryFrame: query read: %w", err)
	}

	var rows [][]bigquery.Value
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryFrame: iter next: %w", err)
		}
		rows = append(rows, row)
	}

	f, err := resultFrame(it.Schema, rows)
	if err != nil {
		return nil, fmt.Errorf("QueryFrame: %w", err)
	}
	return f, nil
}

func resultFrame(s bigquery.Schema, rows [][]bigquery.Value) (*frame.Frame, error) {
	series := make([]*frame.Series, len(s))
	for c, field := range s {
		values := make([]any, len(rows))
		for r, row := range rows {
			values[r] = fromBigQuery(field, row[c])
		}
		col, err := frame.NewSeries(field.Name, resultDType(field), values)
		if err != nil {
			return nil, err
		}
		series[c] = col
	}
	return frame.New(series...)
}

// resultDType maps a result column to a frame dtype. NUMERIC and BIGNUMERIC
// become Float64; types without a frame kind are read as strings.
func resultDType(field *bigquery.FieldSchema) frame.DType {
	var base frame.DType
	switch field.Type {
	case bigquery.StringFieldType:
		base = frame.String
	case bigquery.IntegerFieldType:
		base = frame.Int64
	case bigquery.FloatFieldType, bigquery.NumericFieldType, bigquery.BigNumericFieldType:
		base = frame.Float64
	case bigquery.BooleanFieldType:
		base = frame.Boolean
	case bigquery.TimestampFieldType, bigquery.DateTimeFieldType:
		base = frame.Datetime
	case bigquery.DateFieldType:
		base = frame.Date
	case bigquery.TimeFieldType:
		base = frame.Time
	case bigquery.RecordFieldType:
		members := make([]frame.StructField, len(field.Schema))
		for i, sub := range field.Schema {
			members[i] = frame.StructField{Name: sub.Name, DType: resultDType(sub)}
		}
		base = frame.Struct(members...)
	default:
		base = frame.String
	}
	if field.Repeated {
		return frame.List(base)
	}
	return base
}

func fromBigQuery(field *bigquery.FieldSchema, v bigquery.Value) any {
	if v == nil {
		return nil
	}
	if field.Repeated {
		items, ok := v.([]bigquery.Value)
		if !ok {
			return nil
		}
		single := *field
		single.Repeated = false
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = fromBigQuery(&single, item)
		}
		return out
	}
	if field.Type == bigquery.RecordFieldType {
		members, ok := v.([]bigquery.Value)
		if !ok {
			return nil
		}
		rec := make(map[string]any, len(field.Schema))
		for i, sub := range field.Schema {
			if i < len(members) {
				rec[sub.Name] = fromBigQuery(sub, members[i])
			}
		}
		return rec
	}

	switch x := v.(type) {
	case string, int64, float64, bool, civil.Date, civil.Time:
		return x
	case time.Time:
		return x
	case civil.DateTime:
		return x.In(time.UTC)
	case *big.Rat:
		f, _ := x.Float64()
		return f
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}
