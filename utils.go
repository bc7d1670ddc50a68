package tracksync

import (
	"sort"
	"strings"

	"github.com/ajzo90/go-jsonschema-generator"
)

// MaskedString is a secret that renders masked when marshaled, so tokens in
// config never end up in logs or emitted specs.
type MaskedString string

func (s MaskedString) String() string {
	return string(s)
}

func (s MaskedString) Masked() string {
	return strings.Repeat("x", len(s))
}

func (s MaskedString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.Masked() + `"`), nil
}

func Keys(schema *jsonschema.Document) []string {
	var o []string
	for k := range schema.Properties {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}
