package bigquery

import (
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/whiro/dami/internal/frame"
)

// Params converts named Go values to query parameters, sorted by name.
//
// Scalars must be one of string, int, int64, float64, bool, time.Time,
// civil.Date, civil.Time, civil.DateTime or *big.Rat. Slices (and frame
// series, whose nulls are dropped) become ARRAY parameters; they must be
// non-empty and hold a single element type.
func Params(values map[string]any) ([]bigquery.QueryParameter, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]bigquery.QueryParameter, 0, len(names))
	for _, name := range names {
		v, err := paramValue(name, values[name])
		if err != nil {
			return nil, err
		}
		params = append(params, bigquery.QueryParameter{Name: name, Value: v})
	}
	return params, nil
}

func paramValue(name string, v any) (any, error) {
	if s, ok := v.(*frame.Series); ok {
		items := make([]any, 0, s.Len())
		for _, item := range s.Values() {
			if item != nil {
				items = append(items, item)
			}
		}
		v = items
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type() != reflect.TypeOf([]byte(nil)) {
		if rv.Len() == 0 {
			return nil, fmt.Errorf("param %q: array parameter must not be empty", name)
		}
		head := rv.Index(0).Interface()
		if !supportedScalar(head) {
			return nil, fmt.Errorf("param %q: unsupported element type %T", name, head)
		}
		headType := reflect.TypeOf(head)
		out := reflect.MakeSlice(reflect.SliceOf(headType), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item := rv.Index(i).Interface()
			if reflect.TypeOf(item) != headType {
				return nil, fmt.Errorf("param %q: element %d is %T, want %s", name, i, item, headType)
			}
			out.Index(i).Set(reflect.ValueOf(item))
		}
		return out.Interface(), nil
	}

	if !supportedScalar(v) {
		return nil, fmt.Errorf("param %q: unsupported type %T", name, v)
	}
	return v, nil
}

func supportedScalar(v any) bool {
	switch v.(type) {
	case string, int, int64, float64, bool, []byte,
		time.Time, civil.Date, civil.Time, civil.DateTime, *big.Rat:
		return true
	}
	return false
}
