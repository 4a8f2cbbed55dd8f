package moneyforward

import (
	"fmt"
	"time"

	"github.com/whiro/dami/internal/frame"
)

// Source identifies the object a frame was read from.
type Source struct {
	URI     string
	Updated time.Time
}

var (
	boolColumns   = []string{ColumnIsTarget, ColumnIsTransfer}
	stringColumns = []string{ColumnContent, ColumnInstitution, ColumnMajorCategory, ColumnMinorCategory, ColumnMemo, ColumnID}
)

// ExportError reports an export whose content cannot be imported: a missing
// header, a value that does not cast, or a row without a date. Importing the
// same object again fails the same way.
type ExportError struct {
	Err error
}

func (e *ExportError) Error() string { return "invalid export: " + e.Err.Error() }

func (e *ExportError) Unwrap() error { return e.Err }

func exportErrorf(format string, args ...any) error {
	return &ExportError{Err: fmt.Errorf(format, args...)}
}

// Normalize turns a raw export frame into the transactions layout: headers
// are renamed, the 0/1 flags become booleans, amounts integers and dates
// civil dates. Every row is stamped with src as the source record and with
// loadedAt.
func Normalize(raw *frame.Frame, src Source, loadedAt time.Time) (*frame.Frame, error) {
	for _, c := range exportColumns {
		if _, ok := raw.Column(c.Header); !ok {
			return nil, exportErrorf("Normalize: export is missing column %q", c.Header)
		}
	}

	f, err := raw.Rename(HeaderMapping())
	if err != nil {
		return nil, fmt.Errorf("Normalize: %w", err)
	}

	for _, name := range boolColumns {
		if f, err = castColumn(f, name, frame.Boolean); err != nil {
			return nil, err
		}
	}
	for _, name := range stringColumns {
		if f, err = castColumn(f, name, frame.String); err != nil {
			return nil, err
		}
	}
	if f, err = castColumn(f, ColumnAmount, frame.Int64); err != nil {
		return nil, err
	}

	date, _ := f.Column(ColumnDate)
	if date, err = date.Cast(frame.String); err != nil {
		return nil, exportErrorf("Normalize: %w", err)
	}
	if date, err = date.ParseDate(DateLayout); err != nil {
		return nil, exportErrorf("Normalize: %w", err)
	}
	if f, err = f.WithColumn(date); err != nil {
		return nil, fmt.Errorf("Normalize: %w", err)
	}

	n := f.Height()
	uri, err := frame.Repeat("uri", frame.String, src.URI, n)
	if err != nil {
		return nil, fmt.Errorf("Normalize: %w", err)
	}
	var updatedValue any
	if !src.Updated.IsZero() {
		updatedValue = src.Updated.UTC()
	}
	updated, err := frame.Repeat("updated", frame.Datetime, updatedValue, n)
	if err != nil {
		return nil, fmt.Errorf("Normalize: %w", err)
	}
	source, err := frame.StructSeries(ColumnSource, uri, updated)
	if err != nil {
		return nil, fmt.Errorf("Normalize: %w", err)
	}
	loaded, err := frame.Repeat(ColumnLoadedAt, frame.Datetime, loadedAt.UTC(), n)
	if err != nil {
		return nil, fmt.Errorf("Normalize: %w", err)
	}
	for _, s := range []*frame.Series{source, loaded} {
		if f, err = f.WithColumn(s); err != nil {
			return nil, fmt.Errorf("Normalize: %w", err)
		}
	}

	return f.Select(OutputColumns()...)
}

func castColumn(f *frame.Frame, name string, to frame.DType) (*frame.Frame, error) {
	col, _ := f.Column(name)
	cast, err := col.Cast(to)
	if err != nil {
		return nil, exportErrorf("Normalize: %w", err)
	}
	return f.WithColumn(cast)
}

// OutputColumns returns the normalized column order.
func OutputColumns() []string {
	cols := make([]string, 0, len(exportColumns)+2)
	for _, c := range exportColumns {
		cols = append(cols, c.Column)
	}
	return append(cols, ColumnSource, ColumnLoadedAt)
}
