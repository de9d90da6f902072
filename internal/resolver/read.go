package resolver

import (
	"fmt"
	"path"
	"strings"
)

// resolveRead serves a workspace or fixture text file. Markdown files get
// {{KEY}} placeholders filled from the user context before slicing, so a
// scenario can serve persona-specific files without mutating fixtures.
// Output is numbered like cat -n, matching what the agent would see from a
// real file read.
func (r *Resolver) resolveRead(args map[string]any, userCtx map[string]string) Resolution {
	reqPath := stringArg(args, "path")
	from := intArg(args, "from", 1)
	count := intArg(args, "lines", 2000)

	for _, candidate := range []string{reqPath, path.Base(reqPath)} {
		content, ok := r.fixtures.Document(candidate)
		if !ok {
			continue
		}
		if strings.HasSuffix(candidate, ".md") {
			content = fillTemplates(content, userCtx)
		}

		lines := strings.Split(content, "\n")
		start := max(0, from-1)
		if start > len(lines) {
			start = len(lines)
		}
		end := min(len(lines), start+count)

		numbered := make([]string, 0, end-start)
		for i, line := range lines[start:end] {
			numbered = append(numbered, fmt.Sprintf("  %d\t%s", start+i+1, line))
		}
		return Resolution{Body: map[string]any{
			"path":    reqPath,
			"content": strings.Join(numbered, "\n"),
		}}
	}

	return Resolution{Body: map[string]any{
		"path":    reqPath,
		"content": "",
		"error":   fmt.Sprintf("file not found: %s", reqPath),
	}}
}
