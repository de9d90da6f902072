package resolver

import (
	"fmt"
	"strings"
)

// memoryDoc reports whether a fixture document belongs to the agent's
// memory surface.
func memoryDoc(path string) bool {
	return strings.HasPrefix(path, "memory/") || path == "MEMORY.md"
}

// resolveMemorySearch does keyword matching over memory documents and
// returns snippets with line citations. Documents are visited in sorted
// path order so results are stable.
func (r *Resolver) resolveMemorySearch(args map[string]any) Resolution {
	query := strings.ToLower(stringArg(args, "query"))
	maxResults := intArg(args, "maxResults", 5)
	words := strings.Fields(query)

	results := make([]map[string]any, 0)
	for _, path := range r.fixtures.DocumentPaths() {
		if !memoryDoc(path) {
			continue
		}
		content, _ := r.fixtures.Document(path)
		lines := strings.Split(content, "\n")
		for i, line := range lines {
			if !anyWordIn(strings.ToLower(line), words) {
				continue
			}
			start := max(0, i-1)
			end := min(len(lines), i+3)
			results = append(results, map[string]any{
				"snippet":   strings.Join(lines[start:end], "\n"),
				"path":      path,
				"startLine": start + 1,
				"endLine":   end,
				"score":     0.85,
				"citation":  fmt.Sprintf("%s#L%d-L%d", path, start+1, end),
			})
			if len(results) >= maxResults {
				break
			}
		}
		if len(results) >= maxResults {
			break
		}
	}

	return Resolution{Body: map[string]any{
		"results":  results,
		"provider": "fixture",
	}}
}

// resolveMemoryGet reads a slice of one memory document.
func (r *Resolver) resolveMemoryGet(args map[string]any) Resolution {
	path := stringArg(args, "path")
	from := intArg(args, "from", 1)
	count := intArg(args, "lines", 100)

	for _, candidate := range []string{path, "memory/" + path} {
		content, ok := r.fixtures.Document(candidate)
		if !ok {
			continue
		}
		lines := strings.Split(content, "\n")
		start := max(0, from-1)
		end := min(len(lines), start+count)
		if start > len(lines) {
			start = len(lines)
		}
		return Resolution{Body: map[string]any{
			"path": path,
			"text": strings.Join(lines[start:end], "\n"),
		}}
	}

	return Resolution{Body: map[string]any{
		"path":  path,
		"text":  "",
		"error": fmt.Sprintf("file not found: %s", path),
	}}
}

func anyWordIn(line string, words []string) bool {
	for _, w := range words {
		if strings.Contains(line, w) {
			return true
		}
	}
	return false
}
