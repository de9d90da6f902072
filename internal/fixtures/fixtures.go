package fixtures

import (
	"fmt"
	"sort"
)

// Record is a single fixture record. Records are parsed once at load time
// and treated as read-only from then on.
type Record = map[string]any

// Collection is a named set of fixture items with O(1) key lookup.
// Array-form collections key items by their "id" field and preserve file
// order; object-form collections key items by map key in sorted order.
type Collection struct {
	name  string
	keys  []string
	items map[string]any
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Len returns the number of items in the collection.
func (c *Collection) Len() int { return len(c.keys) }

// Keys returns the item keys in collection order.
func (c *Collection) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Get returns the item stored under key.
func (c *Collection) Get(key string) (any, bool) {
	v, ok := c.items[key]
	return v, ok
}

// Record returns the item under key if it is an object record.
func (c *Collection) Record(key string) (Record, bool) {
	v, ok := c.items[key]
	if !ok {
		return nil, false
	}
	rec, ok := v.(map[string]any)
	return rec, ok
}

// Records returns all object items in collection order.
func (c *Collection) Records() []Record {
	out := make([]Record, 0, len(c.keys))
	for _, k := range c.keys {
		if rec, ok := c.items[k].(map[string]any); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Set holds every fixture collection and text document for one scenario.
// A Set is built once at scenario activation and never mutated afterwards:
// Lookup is a pure function of (scenario, collection, key).
type Set struct {
	scenario    string
	collections map[string]*Collection
	documents   map[string]string
}

// Scenario returns the scenario identifier the set was loaded for.
func (s *Set) Scenario() string { return s.scenario }

// Collection returns the named collection.
func (s *Set) Collection(name string) (*Collection, bool) {
	c, ok := s.collections[name]
	return c, ok
}

// Records returns the object records of the named collection, or nil if the
// collection is absent. Absent collections are not an error on the read
// path: required collections are enforced at load time.
func (s *Set) Records(name string) []Record {
	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	return c.Records()
}

// Lookup returns the item stored under key in the named collection.
func (s *Set) Lookup(collection, key string) (any, bool) {
	c, ok := s.collections[collection]
	if !ok {
		return nil, false
	}
	return c.Get(key)
}

// Document returns the text document stored under the given relative path.
func (s *Set) Document(path string) (string, bool) {
	d, ok := s.documents[path]
	return d, ok
}

// DocumentPaths returns all document paths in sorted order.
func (s *Set) DocumentPaths() []string {
	paths := make([]string, 0, len(s.documents))
	for p := range s.documents {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// NotFoundError reports a required fixture collection missing at load time.
// It fails scenario activation; it never surfaces mid-episode.
type NotFoundError struct {
	Scenario string
	Name     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("fixture not found: scenario %q requires collection %q", e.Scenario, e.Name)
}
