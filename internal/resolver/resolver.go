// Package resolver maps tool invocations to deterministic fixture-backed
// responses. Resolution is a pure function of (fixture set, user context,
// invocation): no randomness, no wall clock, no external state. The caller
// records every resolution; the resolver itself keeps nothing.
package resolver

import (
	"fmt"
	"hash/fnv"
	"regexp"

	"github.com/trajectoryRL/trajectory-sandbox/internal/fixtures"
)

// Resolution is the outcome of resolving one tool invocation.
//
// Irreversible is a static property of the tool/action/rule that matched,
// never of the arguments. Fallback marks the deterministic catch-all
// response for unrecognized commands and tools, so rubric checks can detect
// unhandled invocations; a fallback is not an error and never aborts an
// episode.
type Resolution struct {
	Body         map[string]any
	Irreversible bool
	Fallback     bool
}

// Resolver resolves tool calls against one scenario's fixture set.
type Resolver struct {
	fixtures *fixtures.Set
}

// New creates a resolver over the given fixture set.
func New(set *fixtures.Set) *Resolver {
	return &Resolver{fixtures: set}
}

// Resolve dispatches a tool invocation. Structured tools dispatch on tool
// name (plus an "action" discriminator where one tool multiplexes several
// operations); the exec tool pattern-matches its command string against an
// ordered rule table. Unknown tools take the fallback path.
func (r *Resolver) Resolve(tool string, args map[string]any, userCtx map[string]string) Resolution {
	if args == nil {
		args = map[string]any{}
	}
	switch tool {
	case "chat":
		return r.resolveChat(args)
	case "exec":
		return r.resolveCommand(stringArg(args, "command"))
	case "memory_search":
		return r.resolveMemorySearch(args)
	case "memory_get":
		return r.resolveMemoryGet(args)
	case "web_search":
		return r.resolveWebSearch(args)
	case "web_fetch":
		return r.resolveWebFetch(args)
	case "read":
		return r.resolveRead(args, userCtx)
	default:
		return fallbackResolution(fmt.Sprintf("unknown tool: %s", tool))
	}
}

// fallbackResolution builds the flagged deterministic response returned when
// no handler or rule claims an invocation.
func fallbackResolution(detail string) Resolution {
	return Resolution{
		Body: map[string]any{
			"status":   "completed",
			"output":   fmt.Sprintf("(mock output: %s)", detail),
			"fallback": true,
		},
		Fallback: true,
	}
}

// stableID derives a deterministic identifier from the invocation itself,
// so resolving the same call twice yields the identical response. Never
// derive ids from the wall clock; that breaks replay comparisons.
func stableID(prefix string, parts ...string) string {
	h := fnv.New32a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s_%08x", prefix, h.Sum32())
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

var templateRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// fillTemplates replaces {{KEY}} markers with values from the user context,
// leaving unknown markers intact.
func fillTemplates(content string, ctx map[string]string) string {
	if len(ctx) == 0 {
		return content
	}
	return templateRe.ReplaceAllStringFunc(content, func(m string) string {
		key := templateRe.FindStringSubmatch(m)[1]
		if v, ok := ctx[key]; ok {
			return v
		}
		return m
	})
}
