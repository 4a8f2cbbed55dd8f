package bigquery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	bq "github.com/whiro/dami/internal/bigquery"
	"github.com/whiro/dami/internal/frame"
	"github.com/whiro/dami/internal/schema"
)

const parquetParallelism = 2

var unixEpoch = civil.Date{Year: 1970, Month: time.January, Day: 1}

// parquetNode is one element of parquet-go's JSON schema format.
type parquetNode struct {
	Tag    string        `json:"Tag"`
	Fields []parquetNode `json:"Fields,omitempty"`
}

// parquetSchema renders the table as a parquet-go JSON schema. REPEATED
// fields become LIST groups so BigQuery list inference maps them back to
// repeated columns.
func parquetSchema(table schema.Table) (string, error) {
	root := parquetNode{Tag: "name=parquet_go_root, repetitiontype=REQUIRED"}
	for _, f := range table.Fields {
		node, err := parquetField(f)
		if err != nil {
			return "", err
		}
		root.Fields = append(root.Fields, node)
	}
	out, err := json.Marshal(root)
	if err != nil {
		return "", fmt.Errorf("parquetSchema: %w", err)
	}
	return string(out), nil
}

func parquetField(f schema.Field) (parquetNode, error) {
	if f.Repeated() {
		elem, err := parquetValueNode("element", f, "REQUIRED")
		if err != nil {
			return parquetNode{}, err
		}
		return parquetNode{
			Tag:    fmt.Sprintf("name=%s, type=LIST, repetitiontype=OPTIONAL", f.Name),
			Fields: []parquetNode{elem},
		}, nil
	}
	repetition := "OPTIONAL"
	if f.Required() {
		repetition = "REQUIRED"
	}
	return parquetValueNode(f.Name, f, repetition)
}

func parquetValueNode(name string, f schema.Field, repetition string) (parquetNode, error) {
	var physical string
	switch f.Type {
	case schema.TypeString:
		physical = "type=BYTE_ARRAY, convertedtype=UTF8"
	case schema.TypeInteger:
		physical = "type=INT64"
	case schema.TypeFloat:
		physical = "type=DOUBLE"
	case schema.TypeBoolean:
		physical = "type=BOOLEAN"
	case schema.TypeDate:
		physical = "type=INT32, convertedtype=DATE"
	case schema.TypeTimestamp:
		physical = "type=INT64, convertedtype=TIMESTAMP_MICROS"
	case schema.TypeTime:
		physical = "type=INT64, convertedtype=TIME_MICROS"
	case schema.TypeRecord:
		node := parquetNode{Tag: fmt.Sprintf("name=%s, repetitiontype=%s", name, repetition)}
		for _, sub := range f.Fields {
			child, err := parquetField(sub)
			if err != nil {
				return parquetNode{}, err
			}
			node.Fields = append(node.Fields, child)
		}
		return node, nil
	default:
		return parquetNode{}, fmt.Errorf("parquetSchema: field %q: unsupported type %s", f.Name, f.Type)
	}
	return parquetNode{Tag: fmt.Sprintf("name=%s, %s, repetitiontype=%s", name, physical, repetition)}, nil
}

// encodeParquet writes the schema columns of f as one Parquet file.
func encodeParquet(f *frame.Frame, table schema.Table) ([]byte, error) {
	schemaJSON, err := parquetSchema(table)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	pw, err := writer.NewJSONWriter(schemaJSON, writerfile.NewWriterFile(&buf), parquetParallelism)
	if err != nil {
		return nil, fmt.Errorf("encodeParquet: creating writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := 0; i < f.Height(); i++ {
		rec, err := json.Marshal(rowValues(f, table.Fields, i, parquetValue))
		if err != nil {
			return nil, fmt.Errorf("encodeParquet: row %d: %w", i, err)
		}
		if err := pw.Write(string(rec)); err != nil {
			return nil, fmt.Errorf("encodeParquet: writing row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("encodeParquet: finishing file: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeNDJSON writes the schema columns of f as newline-delimited JSON.
func encodeNDJSON(f *frame.Frame, table schema.Table) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := 0; i < f.Height(); i++ {
		if err := enc.Encode(rowValues(f, table.Fields, i, jsonValue)); err != nil {
			return nil, fmt.Errorf("encodeNDJSON: row %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func encodePayload(format bq.LoadFormat, f *frame.Frame, table schema.Table) ([]byte, error) {
	switch format {
	case bq.LoadFormatParquet, "":
		return encodeParquet(f, table)
	case bq.LoadFormatJSON:
		return encodeNDJSON(f, table)
	}
	return nil, fmt.Errorf("unsupported load format %q", format)
}

// scalarEncoder converts one non-null frame value to its wire value.
type scalarEncoder func(field schema.Field, v any) any

func rowValues(f *frame.Frame, fields []schema.Field, i int, scalar scalarEncoder) map[string]any {
	row := make(map[string]any, len(fields))
	for _, field := range fields {
		col, ok := f.Column(field.Name)
		if !ok {
			continue
		}
		row[field.Name] = encodeValue(field, col.Value(i), scalar)
	}
	return row
}

func encodeValue(field schema.Field, v any, scalar scalarEncoder) any {
	if v == nil {
		return nil
	}
	if field.Repeated() {
		items := v.([]any)
		single := field
		single.Mode = schema.ModeRequired
		out := make([]any, 0, len(items))
		for _, item := range items {
			// BigQuery arrays cannot hold NULL.
			if item == nil {
				continue
			}
			out = append(out, encodeValue(single, item, scalar))
		}
		return out
	}
	if field.Type == schema.TypeRecord {
		rec := v.(map[string]any)
		out := make(map[string]any, len(field.Fields))
		for _, sub := range field.Fields {
			out[sub.Name] = encodeValue(sub, rec[sub.Name], scalar)
		}
		return out
	}
	return scalar(field, v)
}

func parquetValue(field schema.Field, v any) any {
	switch x := v.(type) {
	case civil.Date:
		return int32(x.DaysSince(unixEpoch))
	case time.Time:
		return x.UnixMicro()
	case civil.Time:
		return timeOfDayMicros(x)
	}
	return v
}

func jsonValue(field schema.Field, v any) any {
	switch x := v.(type) {
	case civil.Date:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case civil.Time:
		return x.String()
	}
	return v
}

func timeOfDayMicros(t civil.Time) int64 {
	d := time.Duration(t.Hour)*time.Hour +
		time.Duration(t.Minute)*time.Minute +
		time.Duration(t.Second)*time.Second +
		time.Duration(t.Nanosecond)
	return d.Microseconds()
}
