package schema

import (
	"fmt"

	"github.com/whiro/dami/internal/frame"
)

// MissingColumnError reports a declared column or record member absent from
// the frame.
type MissingColumnError struct {
	Path string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing column: %s", e.Path)
}

// TypeMismatchError reports a column whose runtime type differs from its
// declared type.
type TypeMismatchError struct {
	Path     string
	Declared FieldType
	Mode     Mode
	Want     frame.DType
	Got      frame.DType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("column %s has incorrect dtype: expected %s (%s %s), got %s", e.Path, e.Want, e.Declared, e.Mode, e.Got)
}

// RequiredNullError reports nulls in a REQUIRED column.
type RequiredNullError struct {
	Column string
	Nulls  int
}

func (e *RequiredNullError) Error() string {
	return fmt.Sprintf("required column %s has %d null values", e.Column, e.Nulls)
}

// Validate checks that every declared column exists in f with the declared
// type. RECORD columns are checked member by member. Columns in f that the
// table does not declare are ignored.
func Validate(f *frame.Frame, t Table) error {
	for _, field := range t.Fields {
		col, ok := f.Column(field.Name)
		if !ok {
			return &MissingColumnError{Path: field.Name}
		}
		if err := validateField(field.Name, field, col.DType()); err != nil {
			return err
		}
	}
	return nil
}

func validateField(path string, field Field, got frame.DType) error {
	// A column with no values at all has no type yet; it loads as nulls.
	if got.Kind == frame.KindNull && !field.Required() {
		return nil
	}
	if field.Type != TypeRecord {
		if want := field.DType(); !got.Equal(want) {
			return mismatch(path, field, got)
		}
		return nil
	}

	record := got
	if field.Repeated() {
		if got.Kind != frame.KindList || got.Elem == nil {
			return mismatch(path, field, got)
		}
		record = *got.Elem
	}
	if record.Kind != frame.KindStruct {
		return mismatch(path, field, got)
	}
	for _, sub := range field.Fields {
		member, ok := record.Field(sub.Name)
		if !ok {
			return &MissingColumnError{Path: joinPath(path, sub.Name)}
		}
		if err := validateField(joinPath(path, sub.Name), sub, member.DType); err != nil {
			return err
		}
	}
	return nil
}

func mismatch(path string, field Field, got frame.DType) error {
	mode := field.Mode
	if mode == "" {
		mode = ModeNullable
	}
	return &TypeMismatchError{Path: path, Declared: field.Type, Mode: mode, Want: field.DType(), Got: got}
}

// CheckRequired verifies that top-level REQUIRED columns contain no nulls.
func CheckRequired(f *frame.Frame, t Table) error {
	for _, field := range t.Fields {
		if !field.Required() {
			continue
		}
		col, ok := f.Column(field.Name)
		if !ok {
			return &MissingColumnError{Path: field.Name}
		}
		if n := col.NullCount(); n > 0 {
			return &RequiredNullError{Column: field.Name, Nulls: n}
		}
	}
	return nil
}
