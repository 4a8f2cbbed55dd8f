package frame

import (
	"fmt"
	"strings"
)

// Kind is the runtime kind of a column.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt64
	KindFloat64
	KindBoolean
	KindDatetime
	KindDate
	KindTime
	KindStruct
	KindList
)

var kindNames = map[Kind]string{
	KindNull:     "Null",
	KindString:   "String",
	KindInt64:    "Int64",
	KindFloat64:  "Float64",
	KindBoolean:  "Boolean",
	KindDatetime: "Datetime",
	KindDate:     "Date",
	KindTime:     "Time",
	KindStruct:   "Struct",
	KindList:     "List",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// DType is the full type of a column. Struct and List types carry their
// nested types; scalar types only use Kind.
type DType struct {
	Kind   Kind
	Fields []StructField // KindStruct only
	Elem   *DType        // KindList only
}

// StructField is a named member of a Struct dtype.
type StructField struct {
	Name  string
	DType DType
}

var (
	Null     = DType{Kind: KindNull}
	String   = DType{Kind: KindString}
	Int64    = DType{Kind: KindInt64}
	Float64  = DType{Kind: KindFloat64}
	Boolean  = DType{Kind: KindBoolean}
	Datetime = DType{Kind: KindDatetime}
	Date     = DType{Kind: KindDate}
	Time     = DType{Kind: KindTime}
)

// Struct returns a Struct dtype with the given fields.
func Struct(fields ...StructField) DType {
	return DType{Kind: KindStruct, Fields: fields}
}

// List returns a List dtype of elem.
func List(elem DType) DType {
	e := elem
	return DType{Kind: KindList, Elem: &e}
}

// Field returns the struct member with the given name.
func (d DType) Field(name string) (StructField, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return StructField{}, false
}

// Equal reports whether two dtypes are structurally identical.
func (d DType) Equal(o DType) bool {
	if d.Kind != o.Kind {
		return false
	}
	switch d.Kind {
	case KindStruct:
		if len(d.Fields) != len(o.Fields) {
			return false
		}
		for i := range d.Fields {
			if d.Fields[i].Name != o.Fields[i].Name || !d.Fields[i].DType.Equal(o.Fields[i].DType) {
				return false
			}
		}
	case KindList:
		if d.Elem == nil || o.Elem == nil {
			return d.Elem == o.Elem
		}
		return d.Elem.Equal(*o.Elem)
	}
	return true
}

func (d DType) String() string {
	switch d.Kind {
	case KindStruct:
		parts := make([]string, 0, len(d.Fields))
		for _, f := range d.Fields {
			parts = append(parts, f.Name+": "+f.DType.String())
		}
		return "Struct{" + strings.Join(parts, ", ") + "}"
	case KindList:
		if d.Elem == nil {
			return "List[?]"
		}
		return "List[" + d.Elem.String() + "]"
	}
	return d.Kind.String()
}
