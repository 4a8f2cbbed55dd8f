// Package schema describes BigQuery destination tables and validates frames
// against them before they are loaded.
package schema

import (
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/bigquery"
	"gopkg.in/yaml.v3"

	"github.com/whiro/dami/internal/frame"
)

// FieldType is a BigQuery legacy SQL type name.
type FieldType string

const (
	TypeString    FieldType = "STRING"
	TypeInteger   FieldType = "INTEGER"
	TypeFloat     FieldType = "FLOAT"
	TypeBoolean   FieldType = "BOOLEAN"
	TypeTimestamp FieldType = "TIMESTAMP"
	TypeDate      FieldType = "DATE"
	TypeTime      FieldType = "TIME"
	TypeRecord    FieldType = "RECORD"
)

var typeAliases = map[string]FieldType{
	"STRING":    TypeString,
	"INTEGER":   TypeInteger,
	"INT64":     TypeInteger,
	"FLOAT":     TypeFloat,
	"FLOAT64":   TypeFloat,
	"BOOLEAN":   TypeBoolean,
	"BOOL":      TypeBoolean,
	"TIMESTAMP": TypeTimestamp,
	"DATE":      TypeDate,
	"TIME":      TypeTime,
	"RECORD":    TypeRecord,
	"STRUCT":    TypeRecord,
}

// ParseFieldType resolves a type name or one of its standard SQL aliases.
func ParseFieldType(s string) (FieldType, error) {
	t, ok := typeAliases[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown field type %q", s)
	}
	return t, nil
}

func (t *FieldType) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseFieldType(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*t = parsed
	return nil
}

// Mode is the cardinality of a field.
type Mode string

const (
	ModeNullable Mode = "NULLABLE"
	ModeRequired Mode = "REQUIRED"
	ModeRepeated Mode = "REPEATED"
)

func (m *Mode) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch Mode(strings.ToUpper(strings.TrimSpace(raw))) {
	case "", ModeNullable:
		*m = ModeNullable
	case ModeRequired:
		*m = ModeRequired
	case ModeRepeated:
		*m = ModeRepeated
	default:
		return fmt.Errorf("line %d: unknown field mode %q", node.Line, raw)
	}
	return nil
}

// Field is one column of a table, or one member of a RECORD column.
type Field struct {
	Name        string    `yaml:"name"`
	Type        FieldType `yaml:"type"`
	Mode        Mode      `yaml:"mode,omitempty"`
	Description string    `yaml:"description,omitempty"`
	Fields      []Field   `yaml:"fields,omitempty"`
}

// Table is a destination table and its columns.
type Table struct {
	Project string `yaml:"project"`
	Dataset string `yaml:"dataset"`
	Table   string `yaml:"table"`

	// PartitionField names a DATE or TIMESTAMP column the table is
	// day-partitioned on when it is created. Optional.
	PartitionField string `yaml:"partition_field,omitempty"`

	Fields []Field `yaml:"fields"`
}

// Parse decodes and checks a YAML table definition.
func Parse(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("Parse: decoding yaml: %w", err)
	}
	if err := t.Check(); err != nil {
		return Table{}, fmt.Errorf("Parse: %w", err)
	}
	defaultModes(t.Fields)
	return t, nil
}

func defaultModes(fields []Field) {
	for i := range fields {
		if fields[i].Mode == "" {
			fields[i].Mode = ModeNullable
		}
		defaultModes(fields[i].Fields)
	}
}

// LoadFile reads a YAML table definition from disk.
func LoadFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("LoadFile: %w", err)
	}
	return Parse(data)
}

// ID returns the fully qualified table id.
func (t Table) ID() string {
	return t.Project + "." + t.Dataset + "." + t.Table
}

// WithLocation returns a copy of t pointing at another table. Empty arguments
// keep the current value.
func (t Table) WithLocation(project, dataset, table string) Table {
	if project != "" {
		t.Project = project
	}
	if dataset != "" {
		t.Dataset = dataset
	}
	if table != "" {
		t.Table = table
	}
	return t
}

// Field returns the top-level field with the given name.
func (t Table) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ColumnNames returns the top-level column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// Check verifies the table definition is structurally sound.
func (t Table) Check() error {
	if len(t.Fields) == 0 {
		return fmt.Errorf("table %s has no fields", t.ID())
	}
	if t.PartitionField != "" {
		f, ok := t.Field(t.PartitionField)
		if !ok {
			return fmt.Errorf("partition field %q is not a column", t.PartitionField)
		}
		if (f.Type != TypeDate && f.Type != TypeTimestamp) || f.Repeated() {
			return fmt.Errorf("partition field %q must be a single DATE or TIMESTAMP", t.PartitionField)
		}
	}
	return checkFields("", t.Fields)
}

func checkFields(prefix string, fields []Field) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		path := joinPath(prefix, f.Name)
		if f.Name == "" {
			return fmt.Errorf("field under %q has no name", prefix)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", path)
		}
		seen[f.Name] = true
		if _, ok := typeAliases[string(f.Type)]; !ok {
			return fmt.Errorf("field %q: unknown type %q", path, f.Type)
		}
		switch f.Mode {
		case "", ModeNullable, ModeRequired, ModeRepeated:
		default:
			return fmt.Errorf("field %q: unknown mode %q", path, f.Mode)
		}
		if f.Type == TypeRecord {
			if len(f.Fields) == 0 {
				return fmt.Errorf("field %q: RECORD without sub-fields", path)
			}
			if err := checkFields(path, f.Fields); err != nil {
				return err
			}
		} else if len(f.Fields) > 0 {
			return fmt.Errorf("field %q: %s cannot have sub-fields", path, f.Type)
		}
	}
	return nil
}

// Repeated reports whether the field holds a list.
func (f Field) Repeated() bool { return f.Mode == ModeRepeated }

// Required reports whether the field rejects nulls.
func (f Field) Required() bool { return f.Mode == ModeRequired }

// DType returns the frame dtype a column must have to load into f.
func (f Field) DType() frame.DType {
	var base frame.DType
	switch f.Type {
	case TypeString:
		base = frame.String
	case TypeInteger:
		base = frame.Int64
	case TypeFloat:
		base = frame.Float64
	case TypeBoolean:
		base = frame.Boolean
	case TypeTimestamp:
		base = frame.Datetime
	case TypeDate:
		base = frame.Date
	case TypeTime:
		base = frame.Time
	case TypeRecord:
		members := make([]frame.StructField, len(f.Fields))
		for i, sub := range f.Fields {
			members[i] = frame.StructField{Name: sub.Name, DType: sub.DType()}
		}
		base = frame.Struct(members...)
	}
	if f.Repeated() {
		return frame.List(base)
	}
	return base
}

// BigQuerySchema converts the table definition to a client library schema.
func (t Table) BigQuerySchema() bigquery.Schema {
	return toBigQuery(t.Fields)
}

func toBigQuery(fields []Field) bigquery.Schema {
	out := make(bigquery.Schema, len(fields))
	for i, f := range fields {
		out[i] = &bigquery.FieldSchema{
			Name:        f.Name,
			Type:        bigquery.FieldType(f.Type),
			Description: f.Description,
			Required:    f.Required(),
			Repeated:    f.Repeated(),
		}
		if f.Type == TypeRecord {
			out[i].Schema = toBigQuery(f.Fields)
		}
	}
	return out
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
