package tracksync

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/valyala/fastjson"
)

// RawRecord is one upstream item as returned by the API, untouched. It wraps
// the parsed JSON value so transformers can pick fields without committing to
// a struct per collection.
type RawRecord struct {
	v *fastjson.Value
}

func NewRawRecord(v *fastjson.Value) RawRecord {
	return RawRecord{v: v}
}

func (r RawRecord) Exists(keys ...string) bool {
	return r.v != nil && r.v.Exists(keys...)
}

func (r RawRecord) Str(keys ...string) string {
	if r.v == nil {
		return ""
	}
	return string(r.v.GetStringBytes(keys...))
}

func (r RawRecord) Int(keys ...string) int64 {
	if r.v == nil {
		return 0
	}
	return r.v.GetInt64(keys...)
}

func (r RawRecord) Float(keys ...string) float64 {
	if r.v == nil {
		return 0
	}
	return r.v.GetFloat64(keys...)
}

func (r RawRecord) Bool(keys ...string) bool {
	if r.v == nil {
		return false
	}
	return r.v.GetBool(keys...)
}

// Time parses an RFC3339-ish timestamp field. The second return is false when
// the field is absent or unparseable.
func (r RawRecord) Time(keys ...string) (time.Time, bool) {
	s := r.Str(keys...)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// SourceID returns the upstream identifier of the record. The reports API
// names it "_id", everything else "id"; numeric ids are rendered in decimal.
func (r RawRecord) SourceID() string {
	if r.v == nil {
		return ""
	}
	for _, key := range []string{"id", "_id"} {
		v := r.v.Get(key)
		if v == nil {
			continue
		}
		switch v.Type() {
		case fastjson.TypeString:
			return string(v.GetStringBytes())
		case fastjson.TypeNumber:
			return strconv.FormatInt(v.GetInt64(), 10)
		}
	}
	return ""
}

// Fields converts the record into a Row, mapping JSON scalars to Go values
// and keeping arrays/objects as decoded structures. Used by the passthrough
// transform for collections with no declared mapping.
func (r RawRecord) Fields() Row {
	row := Row{}
	if r.v == nil {
		return row
	}
	obj, err := r.v.Object()
	if err != nil {
		return row
	}
	obj.Visit(func(key []byte, v *fastjson.Value) {
		row[string(key)] = jsonValue(v)
	})
	return row
}

func jsonValue(v *fastjson.Value) interface{} {
	switch v.Type() {
	case fastjson.TypeNull:
		return nil
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	case fastjson.TypeNumber:
		raw := v.MarshalTo(nil)
		if bytes.ContainsAny(raw, ".eE") {
			return v.GetFloat64()
		}
		return v.GetInt64()
	case fastjson.TypeArray:
		arr := v.GetArray()
		out := make([]interface{}, 0, len(arr))
		for _, el := range arr {
			out = append(out, jsonValue(el))
		}
		return out
	default:
		// nested objects stay as raw JSON, serialized structurally
		return json.RawMessage(v.MarshalTo(nil))
	}
}

// Row is one transformed record, keyed by target column name. Values are nil,
// string, int64, float64, bool, time.Time, []interface{} or json.RawMessage.
type Row map[string]interface{}

// Key renders the value under col as a canonical string for equality
// matching. Nil (or absent) values return ok=false.
func (r Row) Key(col string) (string, bool) {
	v, found := r[col]
	if !found || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	default:
		b, _ := json.Marshal(v)
		return string(b), true
	}
}
