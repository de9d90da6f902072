package resolver

import "fmt"

// resolveWebSearch serves search results from the "searches" keyed
// collection, falling back to a deterministic placeholder result so an
// unfixtured query still resolves.
func (r *Resolver) resolveWebSearch(args map[string]any) Resolution {
	query := stringArg(args, "query")
	count := intArg(args, "count", 5)

	if v, ok := r.fixtures.Lookup("searches", query); ok {
		if items, ok := v.([]any); ok {
			if len(items) > count {
				items = items[:count]
			}
			return Resolution{Body: map[string]any{
				"query":   query,
				"count":   len(items),
				"cached":  false,
				"results": items,
			}}
		}
	}

	return Resolution{Body: map[string]any{
		"query":  query,
		"count":  1,
		"cached": false,
		"results": []map[string]any{
			{
				"title":       fmt.Sprintf("Search result for: %s", query),
				"url":         fmt.Sprintf("https://example.com/search?q=%s", query),
				"description": fmt.Sprintf("Mock search result for %q.", query),
			},
		},
	}}
}

// resolveWebFetch serves page content from the "pages" keyed collection.
// Unknown URLs resolve to a not-found body rather than an error.
func (r *Resolver) resolveWebFetch(args map[string]any) Resolution {
	url := stringArg(args, "url")

	if rec, ok := r.lookupRecord("pages", url); ok {
		text := stringValue(rec["text"])
		return Resolution{Body: map[string]any{
			"url":    url,
			"status": 200,
			"title":  rec["title"],
			"length": len(text),
			"text":   text,
		}}
	}

	return Resolution{Body: map[string]any{
		"url":    url,
		"status": 404,
		"title":  "Not Found",
		"length": 0,
		"text":   "",
		"error":  "Not Found",
	}}
}
