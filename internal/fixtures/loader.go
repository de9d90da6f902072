package fixtures

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Load reads every fixture file under dir into a Set. JSON files become
// collections named after their base name; markdown and plain-text files
// (including those in subdirectories) become text documents keyed by their
// path relative to dir. Returns *NotFoundError if any collection named in
// required is absent.
func Load(dir, scenario string, required []string) (*Set, error) {
	set := &Set{
		scenario:    scenario,
		collections: make(map[string]*Collection),
		documents:   make(map[string]string),
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			// Nested JSON files are not collections; skip them so a
			// scenario.yaml sibling layout stays uncluttered.
			if strings.Contains(rel, "/") {
				return nil
			}
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			col, err := loadCollection(name, path)
			if err != nil {
				return err
			}
			set.collections[name] = col
		case ".md", ".txt":
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			set.documents[rel] = string(raw)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load fixtures for %s: %w", scenario, err)
	}

	for _, name := range required {
		if _, ok := set.collections[name]; !ok {
			return nil, &NotFoundError{Scenario: scenario, Name: name}
		}
	}

	return set, nil
}

// loadCollection parses one fixture file. Two shapes are accepted:
// a JSON array of records (each carrying a stable "id") or a JSON object
// keying items directly.
func loadCollection(name, path string) (*Collection, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	col := &Collection{name: name, items: make(map[string]any)}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var records []map[string]any
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("fixture %s: %w", path, err)
		}
		for i, rec := range records {
			id := recordID(rec)
			if id == "" {
				return nil, fmt.Errorf("fixture %s: record %d has no id", path, i)
			}
			if _, dup := col.items[id]; dup {
				return nil, fmt.Errorf("fixture %s: duplicate record id %q", path, id)
			}
			col.keys = append(col.keys, id)
			col.items[id] = rec
		}
		return col, nil
	}

	var keyed map[string]any
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	for k, v := range keyed {
		col.keys = append(col.keys, k)
		col.items[k] = v
	}
	sort.Strings(col.keys)
	return col, nil
}

// recordID extracts the stable identifier from a record. Numeric ids are
// normalized to their decimal string form.
func recordID(rec map[string]any) string {
	switch v := rec["id"].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return ""
	}
}
