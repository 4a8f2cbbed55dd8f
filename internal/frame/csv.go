package frame

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// CSVOptions controls ReadCSV.
type CSVOptions struct {
	// Encoding decodes the input into UTF-8. Nil means the input is UTF-8.
	Encoding encoding.Encoding

	// Comma is the field delimiter. Zero means ','.
	Comma rune
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV reads a CSV document whose first record is the header. Empty cells
// become nulls and each column's type is inferred from its non-null cells, in
// order Int64, Float64, Boolean, String.
func ReadCSV(r io.Reader, opts CSVOptions) (*Frame, error) {
	if opts.Encoding != nil {
		r = transform.NewReader(r, opts.Encoding.NewDecoder())
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ReadCSV: reading input: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	cr := csv.NewReader(bytes.NewReader(data))
	cr.LazyQuotes = true
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ReadCSV: parsing records: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("ReadCSV: input has no header row")
	}

	header := records[0]
	body := records[1:]
	series := make([]*Series, len(header))
	for c, name := range header {
		cells := make([]string, len(body))
		for r, rec := range body {
			cells[r] = rec[c]
		}
		series[c] = inferSeries(strings.TrimSpace(name), cells)
	}
	return New(series...)
}

func inferSeries(name string, cells []string) *Series {
	for _, kind := range []Kind{KindInt64, KindFloat64, KindBoolean} {
		if values, ok := parseAll(cells, kind); ok {
			return &Series{name: name, dtype: DType{Kind: kind}, values: values}
		}
	}
	values := make([]any, len(cells))
	for i, cell := range cells {
		if cell != "" {
			values[i] = cell
		}
	}
	return &Series{name: name, dtype: String, values: values}
}

// parseAll parses every non-empty cell as kind. A column without any
// non-empty cell never matches, so it falls through to String.
func parseAll(cells []string, kind Kind) ([]any, bool) {
	values := make([]any, len(cells))
	seen := false
	for i, cell := range cells {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		seen = true
		switch kind {
		case KindInt64:
			v, err := strconv.ParseInt(cell, 10, 64)
			if err != nil {
				return nil, false
			}
			values[i] = v
		case KindFloat64:
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, false
			}
			values[i] = v
		case KindBoolean:
			switch strings.ToLower(cell) {
			case "true":
				values[i] = true
			case "false":
				values[i] = false
			default:
				return nil, false
			}
		}
	}
	return values, seen
}
