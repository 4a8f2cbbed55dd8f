package frame

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Series is a named, typed column. Null values are stored as nil.
//
// Value representation per kind:
//
//	String   string
//	Int64    int64
//	Float64  float64
//	Boolean  bool
//	Datetime time.Time
//	Date     civil.Date
//	Time     civil.Time
//	Struct   map[string]any
//	List     []any
type Series struct {
	name   string
	dtype  DType
	values []any
}

// NewSeries builds a series and checks every non-null value against dtype.
func NewSeries(name string, dtype DType, values []any) (*Series, error) {
	for i, v := range values {
		if v == nil {
			continue
		}
		if err := checkValue(dtype, v); err != nil {
			return nil, fmt.Errorf("series %q row %d: %w", name, i, err)
		}
	}
	return &Series{name: name, dtype: dtype, values: values}, nil
}

// MustSeries is NewSeries for literals in tests and fixed tables.
func MustSeries(name string, dtype DType, values ...any) *Series {
	s, err := NewSeries(name, dtype, values)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Series) Name() string { return s.name }

func (s *Series) DType() DType { return s.dtype }

func (s *Series) Len() int { return len(s.values) }

// Value returns the i-th value, nil when null.
func (s *Series) Value(i int) any { return s.values[i] }

// Values returns a copy of the underlying values.
func (s *Series) Values() []any {
	out := make([]any, len(s.values))
	copy(out, s.values)
	return out
}

// NullCount returns the number of nil values.
func (s *Series) NullCount() int {
	n := 0
	for _, v := range s.values {
		if v == nil {
			n++
		}
	}
	return n
}

// Rename returns a copy of the series under a new name.
func (s *Series) Rename(name string) *Series {
	return &Series{name: name, dtype: s.dtype, values: s.values}
}

// Cast converts the series to another scalar dtype. Casting is strict: a value
// that cannot be represented in the target type is an error.
func (s *Series) Cast(to DType) (*Series, error) {
	if s.dtype.Equal(to) {
		return s, nil
	}
	out := make([]any, len(s.values))
	for i, v := range s.values {
		if v == nil {
			continue
		}
		cv, err := castValue(v, to)
		if err != nil {
			return nil, fmt.Errorf("cast %q to %s: row %d: %w", s.name, to, i, err)
		}
		out[i] = cv
	}
	return &Series{name: s.name, dtype: to, values: out}, nil
}

// ParseDate parses a String series into a Date series using a Go time layout.
func (s *Series) ParseDate(layout string) (*Series, error) {
	if s.dtype.Kind != KindString {
		return nil, fmt.Errorf("parse date %q: column is %s, want String", s.name, s.dtype)
	}
	out := make([]any, len(s.values))
	for i, v := range s.values {
		if v == nil {
			continue
		}
		t, err := time.Parse(layout, strings.TrimSpace(v.(string)))
		if err != nil {
			return nil, fmt.Errorf("parse date %q: row %d: %w", s.name, i, err)
		}
		out[i] = civil.DateOf(t)
	}
	return &Series{name: s.name, dtype: Date, values: out}, nil
}

// MinDate returns the earliest non-null date. ok is false when the series has
// no non-null values.
func (s *Series) MinDate() (d civil.Date, ok bool, err error) {
	return s.extremeDate(func(a, b civil.Date) bool { return a.Before(b) })
}

// MaxDate returns the latest non-null date.
func (s *Series) MaxDate() (d civil.Date, ok bool, err error) {
	return s.extremeDate(func(a, b civil.Date) bool { return a.After(b) })
}

func (s *Series) extremeDate(better func(a, b civil.Date) bool) (civil.Date, bool, error) {
	if s.dtype.Kind != KindDate {
		return civil.Date{}, false, fmt.Errorf("column %q is %s, want Date", s.name, s.dtype)
	}
	var best civil.Date
	found := false
	for _, v := range s.values {
		if v == nil {
			continue
		}
		d := v.(civil.Date)
		if !found || better(d, best) {
			best = d
			found = true
		}
	}
	return best, found, nil
}

func checkValue(dtype DType, v any) error {
	ok := false
	switch dtype.Kind {
	case KindNull:
		ok = v == nil
	case KindString:
		_, ok = v.(string)
	case KindInt64:
		_, ok = v.(int64)
	case KindFloat64:
		_, ok = v.(float64)
	case KindBoolean:
		_, ok = v.(bool)
	case KindDatetime:
		_, ok = v.(time.Time)
	case KindDate:
		_, ok = v.(civil.Date)
	case KindTime:
		_, ok = v.(civil.Time)
	case KindStruct:
		m, isMap := v.(map[string]any)
		if !isMap {
			break
		}
		for _, f := range dtype.Fields {
			fv, present := m[f.Name]
			if !present || fv == nil {
				continue
			}
			if err := checkValue(f.DType, fv); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
		ok = true
	case KindList:
		items, isList := v.([]any)
		if !isList {
			break
		}
		if dtype.Elem != nil {
			for i, item := range items {
				if item == nil {
					continue
				}
				if err := checkValue(*dtype.Elem, item); err != nil {
					return fmt.Errorf("element %d: %w", i, err)
				}
			}
		}
		ok = true
	}
	if !ok {
		return fmt.Errorf("value %v (%T) is not %s", v, v, dtype)
	}
	return nil
}

func castValue(v any, to DType) (any, error) {
	switch to.Kind {
	case KindString:
		switch x := v.(type) {
		case string:
			return x, nil
		case int64:
			return strconv.FormatInt(x, 10), nil
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(x), nil
		case civil.Date:
			return x.String(), nil
		case civil.Time:
			return x.String(), nil
		case time.Time:
			return x.Format(time.RFC3339Nano), nil
		}
	case KindInt64:
		switch x := v.(type) {
		case int64:
			return x, nil
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		case float64:
			if x != float64(int64(x)) {
				return nil, fmt.Errorf("%v has a fractional part", x)
			}
			return int64(x), nil
		case string:
			return strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(x), ",", ""), 10, 64)
		}
	case KindFloat64:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		case string:
			return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(x), ",", ""), 64)
		}
	case KindBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			switch x {
			case 0:
				return false, nil
			case 1:
				return true, nil
			}
			return nil, fmt.Errorf("%d is not 0 or 1", x)
		case string:
			return parseBool(x)
		}
	case KindDate:
		switch x := v.(type) {
		case civil.Date:
			return x, nil
		case time.Time:
			return civil.DateOf(x), nil
		case string:
			return civil.ParseDate(strings.TrimSpace(x))
		}
	case KindDatetime:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case civil.Date:
			return x.In(time.UTC), nil
		case string:
			return time.Parse(time.RFC3339Nano, strings.TrimSpace(x))
		}
	case KindTime:
		switch x := v.(type) {
		case civil.Time:
			return x, nil
		case string:
			return civil.ParseTime(strings.TrimSpace(x))
		}
	}
	return nil, fmt.Errorf("cannot cast %T to %s", v, to)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", s)
}
