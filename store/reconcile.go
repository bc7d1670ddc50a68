package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	tracksync "github.com/ajzo90/go-tracksync"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// InferSchema derives the staging shape from a batch: the sorted union of
// column names, each typed by widening over the values seen. Columns that
// only ever held NULL come back as strings.
func InferSchema(rows []tracksync.Row) tracksync.Schema {
	fields := map[string]tracksync.SchemaField{}
	var names []string
	for _, row := range rows {
		for name, v := range row {
			f, seen := fields[name]
			if !seen {
				names = append(names, name)
				f = tracksync.SchemaField{Name: name}
			}
			fields[name] = widen(f, v)
		}
	}
	sort.Strings(names)
	out := make(tracksync.Schema, 0, len(names))
	for _, name := range names {
		f := fields[name]
		if f.Type == "" {
			f.Type = tracksync.TypeString
		}
		out = append(out, f)
	}
	return out
}

func widen(f tracksync.SchemaField, v interface{}) tracksync.SchemaField {
	if v == nil {
		return f
	}
	vf := fieldOf(v)
	if f.Type == "" {
		f.Type, f.Repeated = vf.Type, vf.Repeated
		return f
	}
	if f.Repeated != vf.Repeated {
		// scalar and array under the same name, only JSON holds both
		f.Type, f.Repeated = tracksync.TypeJSON, false
		return f
	}
	f.Type = combine(f.Type, vf.Type)
	return f
}

func fieldOf(v interface{}) tracksync.SchemaField {
	switch t := v.(type) {
	case string:
		return tracksync.SchemaField{Type: classifyString(t)}
	case int64:
		return tracksync.SchemaField{Type: tracksync.TypeInt64}
	case float64:
		return tracksync.SchemaField{Type: tracksync.TypeFloat64}
	case bool:
		return tracksync.SchemaField{Type: tracksync.TypeBool}
	case time.Time:
		return tracksync.SchemaField{Type: tracksync.TypeTimestamp}
	case json.RawMessage:
		return tracksync.SchemaField{Type: tracksync.TypeJSON}
	case []interface{}:
		elem := tracksync.TypeString
		if len(t) > 0 {
			ef := fieldOf(t[0])
			if ef.Repeated {
				elem = tracksync.TypeJSON
			} else {
				elem = ef.Type
			}
		}
		return tracksync.SchemaField{Type: elem, Repeated: true}
	default:
		return tracksync.SchemaField{Type: tracksync.TypeJSON}
	}
}

func classifyString(s string) tracksync.FieldType {
	if len(s) == 10 {
		if _, err := time.Parse("2006-01-02", s); err == nil {
			return tracksync.TypeDate
		}
	}
	if _, ok := parseTimestamp(s); ok {
		return tracksync.TypeTimestamp
	}
	return tracksync.TypeString
}

func combine(a, b tracksync.FieldType) tracksync.FieldType {
	if a == b {
		return a
	}
	if a == tracksync.TypeJSON || b == tracksync.TypeJSON {
		return tracksync.TypeJSON
	}
	if numeric(a) && numeric(b) {
		return tracksync.TypeFloat64
	}
	if temporal(a) && temporal(b) {
		return tracksync.TypeTimestamp
	}
	return tracksync.TypeString
}

func numeric(t tracksync.FieldType) bool {
	return t == tracksync.TypeInt64 || t == tracksync.TypeFloat64
}

func temporal(t tracksync.FieldType) bool {
	return t == tracksync.TypeDate || t == tracksync.TypeTimestamp
}

// bindValue coerces a row value into something the driver can bind for the
// column's type. Values that refuse to coerce pass through unchanged and the
// database gets the last word.
func bindValue(f tracksync.SchemaField, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if f.Repeated || f.Type == tracksync.TypeJSON {
		return toJSON(v)
	}
	switch f.Type {
	case tracksync.TypeTimestamp:
		switch t := v.(type) {
		case time.Time:
			return t.UTC()
		case string:
			if ts, ok := parseTimestamp(t); ok {
				return ts
			}
		}
	case tracksync.TypeDate:
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Format("2006-01-02")
		case string:
			return t
		}
	case tracksync.TypeInt64:
		switch t := v.(type) {
		case int64:
			return t
		case float64:
			return int64(t)
		case string:
			if n, err := strconv.ParseInt(t, 10, 64); err == nil {
				return n
			}
		case bool:
			if t {
				return int64(1)
			}
			return int64(0)
		}
	case tracksync.TypeFloat64:
		switch t := v.(type) {
		case float64:
			return t
		case int64:
			return float64(t)
		case string:
			if x, err := strconv.ParseFloat(t, 64); err == nil {
				return x
			}
		}
	case tracksync.TypeBool:
		switch t := v.(type) {
		case bool:
			return t
		case int64:
			return t != 0
		}
	default:
		switch t := v.(type) {
		case string:
			return t
		case json.RawMessage:
			return string(t)
		case time.Time:
			return t.UTC().Format(time.RFC3339)
		case int64:
			return strconv.FormatInt(t, 10)
		case float64:
			return strconv.FormatFloat(t, 'g', -1, 64)
		case bool:
			return strconv.FormatBool(t)
		default:
			return fmt.Sprint(t)
		}
	}
	return v
}

func toJSON(v interface{}) string {
	if raw, ok := v.(json.RawMessage); ok {
		return string(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
