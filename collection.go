package tracksync

import (
	"fmt"
	"io"

	"github.com/ajzo90/go-jsonschema-generator"
	"gopkg.in/yaml.v3"
)

// Pagination selects how a collection's upstream endpoint pages through
// results.
type Pagination string

const (
	// PaginateCursor follows an opaque nextCursor token until none is
	// returned.
	PaginateCursor Pagination = "cursor"
	// PaginatePage walks numbered pages until a short page arrives.
	PaginatePage Pagination = "page"
	// PaginateReport posts a JSON body with page/pageSize and reads items
	// from a named key, until a short page arrives.
	PaginateReport Pagination = "report"
)

// TransformFunc maps one raw upstream record into a target-shaped row. It
// must be total: absent fields become defaults, never errors.
type TransformFunc func(RawRecord, *Mapper) Row

// Collection is the immutable per-collection configuration: where to fetch,
// how to page, what the target looks like. Behavior differences between
// collections live here, not in per-name branching.
type Collection struct {
	Name       string
	Path       string
	Pagination Pagination

	// Params are fixed query parameters sent on every page request.
	Params map[string]string

	// IncrementalFilter marks endpoints accepting modifiedAfter.
	IncrementalFilter bool
	// DateWindow marks endpoints accepting dateFrom/dateTo.
	DateWindow bool

	Disabled bool

	// ItemsKey is the payload key holding the item array. Empty means the
	// payload itself is the array (or a single object).
	ItemsKey string

	// MergeKey is the designated unique column, "id" when empty.
	MergeKey string
	// OrderBy breaks staging ties, most recent wins. "updatedAt" when empty.
	OrderBy string

	// Schema is the declared target shape. Nil means the target is created
	// from the inferred staging shape on first sync.
	Schema Schema

	// GoType optionally documents the expected record shape.
	GoType interface{}

	// Transform is nil for passthrough collections.
	Transform TransformFunc
}

func (c Collection) Key() string {
	if c.MergeKey == "" {
		return "id"
	}
	return c.MergeKey
}

func (c Collection) OrderColumn() string {
	if c.OrderBy == "" {
		return "updatedAt"
	}
	return c.OrderBy
}

// FieldKeys lists the declared record fields, sorted. Empty without a GoType.
func (c Collection) FieldKeys() []string {
	if c.GoType == nil {
		return nil
	}
	return Keys(jsonschema.New(c.GoType))
}

// Source is a registry of collections sharing one upstream and one config
// shape.
type Source struct {
	config interface{}
	colls  []Collection
}

func NewSource(config interface{}) *Source {
	return &Source{config: config}
}

func (s *Source) Collection(c Collection) *Source {
	s.colls = append(s.colls, c)
	return s
}

func (s *Source) Collections() []Collection {
	return s.colls
}

func (s *Source) Lookup(name string) (Collection, bool) {
	for _, c := range s.colls {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

// Spec exposes the config shape as a JSON schema, secrets masked.
func (s *Source) Spec() *jsonschema.Document {
	return jsonschema.New(s.config)
}

func (s *Source) Validate() error {
	seen := map[string]bool{}
	for _, c := range s.colls {
		if c.Name == "" || c.Path == "" {
			return fmt.Errorf("collection %q: name and path are required", c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("collection %q registered twice", c.Name)
		}
		seen[c.Name] = true
		if c.Schema != nil {
			if err := c.Schema.Validate(); err != nil {
				return fmt.Errorf("collection %q: %w", c.Name, err)
			}
			if _, ok := c.Schema.Field(c.Key()); !ok {
				return fmt.Errorf("collection %q: declared schema misses merge key %q", c.Name, c.Key())
			}
		}
	}
	return nil
}

// catalogEntry is the per-collection override shape of the YAML catalog file.
type catalogEntry struct {
	Disabled bool              `yaml:"disabled"`
	Params   map[string]string `yaml:"params"`
}

// ApplyCatalog overlays a YAML catalog (disabled flags, extra fixed params)
// onto the registered collections. Unknown names are rejected so typos in the
// file surface instead of silently syncing everything.
func (s *Source) ApplyCatalog(r io.Reader) error {
	var doc struct {
		Collections map[string]catalogEntry `yaml:"collections"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	for name, e := range doc.Collections {
		idx := -1
		for i, c := range s.colls {
			if c.Name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("catalog: unknown collection %q", name)
		}
		c := s.colls[idx]
		c.Disabled = e.Disabled
		if len(e.Params) > 0 {
			merged := map[string]string{}
			for k, v := range c.Params {
				merged[k] = v
			}
			for k, v := range e.Params {
				merged[k] = v
			}
			c.Params = merged
		}
		s.colls[idx] = c
	}
	return nil
}
