package tracksync

import (
	"fmt"

	"github.com/ajzo90/go-jsonschema-generator"
)

// FieldType is the column type vocabulary shared by staging inference and
// declared target schemas. Store dialects map these onto native types.
type FieldType string

const (
	TypeString    FieldType = "STRING"
	TypeInt64     FieldType = "INT64"
	TypeFloat64   FieldType = "FLOAT64"
	TypeBool      FieldType = "BOOL"
	TypeTimestamp FieldType = "TIMESTAMP"
	TypeDate      FieldType = "DATE"
	TypeJSON      FieldType = "JSON"
)

// SchemaField describes one column of either the inferred staging shape or a
// fixed target shape.
type SchemaField struct {
	Name     string
	Type     FieldType
	Repeated bool
}

// Schema is an ordered column list.
type Schema []SchemaField

func (s Schema) Field(name string) (SchemaField, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return SchemaField{}, false
}

func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, f := range s {
		out[i] = f.Name
	}
	return out
}

func (s Schema) Validate() error {
	seen := map[string]bool{}
	for _, f := range s {
		if f.Name == "" {
			return fmt.Errorf("schema: empty column name")
		}
		if seen[f.Name] {
			return fmt.Errorf("schema: duplicate column %q", f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// FromStruct derives a schema from a Go type via its JSON schema. Arrays come
// back repeated, nested objects as JSON. Timestamp/date columns cannot be
// expressed in a JSON schema, so declared schemas that need them are written
// out literally instead.
func FromStruct(typ interface{}) Schema {
	doc := jsonschema.New(typ)
	var out Schema
	for _, name := range Keys(doc) {
		p := doc.Properties[name]
		f := SchemaField{Name: name, Type: TypeString}
		for _, t := range p.Type {
			switch t {
			case "integer":
				f.Type = TypeInt64
			case "number":
				f.Type = TypeFloat64
			case "boolean":
				f.Type = TypeBool
			case "array":
				f.Repeated = true
			case "object":
				f.Type = TypeJSON
			}
		}
		out = append(out, f)
	}
	return out
}
