// Package frame is a small columnar dataframe used to normalise exported CSV
// files before they are validated and loaded into the warehouse.
package frame

import (
	"fmt"
	"strings"
)

// Frame is an ordered set of equally long, uniquely named series.
type Frame struct {
	series []*Series
	index  map[string]int
}

// New builds a frame from series.
func New(series ...*Series) (*Frame, error) {
	f := &Frame{index: make(map[string]int, len(series))}
	for i, s := range series {
		if _, dup := f.index[s.Name()]; dup {
			return nil, fmt.Errorf("frame: duplicate column %q", s.Name())
		}
		if i > 0 && s.Len() != series[0].Len() {
			return nil, fmt.Errorf("frame: column %q has %d rows, want %d", s.Name(), s.Len(), series[0].Len())
		}
		f.index[s.Name()] = i
		f.series = append(f.series, s)
	}
	return f, nil
}

// Height returns the number of rows.
func (f *Frame) Height() int {
	if len(f.series) == 0 {
		return 0
	}
	return f.series[0].Len()
}

// Width returns the number of columns.
func (f *Frame) Width() int {
	return len(f.series)
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	names := make([]string, len(f.series))
	for i, s := range f.series {
		names[i] = s.Name()
	}
	return names
}

// DTypes returns the column dtypes in order.
func (f *Frame) DTypes() []DType {
	out := make([]DType, len(f.series))
	for i, s := range f.series {
		out[i] = s.DType()
	}
	return out
}

// Column returns the series with the given name.
func (f *Frame) Column(name string) (*Series, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.series[i], true
}

// Series returns all series in order.
func (f *Frame) Series() []*Series {
	out := make([]*Series, len(f.series))
	copy(out, f.series)
	return out
}

// Rename renames columns. Every key in mapping must exist.
func (f *Frame) Rename(mapping map[string]string) (*Frame, error) {
	for from := range mapping {
		if _, ok := f.index[from]; !ok {
			return nil, fmt.Errorf("frame: rename: column %q not found", from)
		}
	}
	out := make([]*Series, len(f.series))
	for i, s := range f.series {
		if to, ok := mapping[s.Name()]; ok {
			out[i] = s.Rename(to)
			continue
		}
		out[i] = s
	}
	return New(out...)
}

// Select returns a frame with only the named columns, in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	out := make([]*Series, 0, len(names))
	for _, name := range names {
		s, ok := f.Column(name)
		if !ok {
			return nil, fmt.Errorf("frame: select: column %q not found", name)
		}
		out = append(out, s)
	}
	return New(out...)
}

// WithColumn replaces the column with the same name, or appends it.
func (f *Frame) WithColumn(s *Series) (*Frame, error) {
	out := f.Series()
	if i, ok := f.index[s.Name()]; ok {
		out[i] = s
	} else {
		out = append(out, s)
	}
	return New(out...)
}

// Row returns row i as a map of column name to value.
func (f *Frame) Row(i int) map[string]any {
	row := make(map[string]any, len(f.series))
	for _, s := range f.series {
		row[s.Name()] = s.Value(i)
	}
	return row
}

// Rows returns every row as a map.
func (f *Frame) Rows() []map[string]any {
	rows := make([]map[string]any, f.Height())
	for i := range rows {
		rows[i] = f.Row(i)
	}
	return rows
}

// Head renders the first n rows as an aligned text table, for log output.
func (f *Frame) Head(n int) string {
	if n > f.Height() {
		n = f.Height()
	}
	cells := make([][]string, 0, n+2)
	header := make([]string, len(f.series))
	types := make([]string, len(f.series))
	for i, s := range f.series {
		header[i] = s.Name()
		types[i] = s.DType().String()
	}
	cells = append(cells, header, types)
	for r := 0; r < n; r++ {
		line := make([]string, len(f.series))
		for c, s := range f.series {
			if v := s.Value(r); v != nil {
				line[c] = fmt.Sprint(v)
			} else {
				line[c] = "null"
			}
		}
		cells = append(cells, line)
	}

	widths := make([]int, len(f.series))
	for _, line := range cells {
		for c, cell := range line {
			if w := len([]rune(cell)); w > widths[c] {
				widths[c] = w
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "shape: (%d, %d)\n", f.Height(), f.Width())
	for _, line := range cells {
		for c, cell := range line {
			if c > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[c]-len([]rune(cell))))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// StructSeries builds a nested-record column from equally long member series.
// A row whose members are all null is stored as a null record.
func StructSeries(name string, members ...*Series) (*Series, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("struct %q: no members", name)
	}
	fields := make([]StructField, len(members))
	for i, m := range members {
		if m.Len() != members[0].Len() {
			return nil, fmt.Errorf("struct %q: member %q has %d rows, want %d", name, m.Name(), m.Len(), members[0].Len())
		}
		fields[i] = StructField{Name: m.Name(), DType: m.DType()}
	}
	values := make([]any, members[0].Len())
	for r := range values {
		rec := make(map[string]any, len(members))
		empty := true
		for _, m := range members {
			v := m.Value(r)
			if v != nil {
				empty = false
			}
			rec[m.Name()] = v
		}
		if !empty {
			values[r] = rec
		}
	}
	return &Series{name: name, dtype: Struct(fields...), values: values}, nil
}

// Repeat returns a series of n copies of v.
func Repeat(name string, dtype DType, v any, n int) (*Series, error) {
	values := make([]any, n)
	for i := range values {
		values[i] = v
	}
	return NewSeries(name, dtype, values)
}
