package rubric

import (
	"fmt"
	"regexp"
)

// Compile validates raw checks against the scenario's declared tool set and
// returns the immutable rubric. All problems are collected before returning
// so one pass reports everything wrong with a definition.
func Compile(scenario string, checks []Check, toolSet []string) (*Rubric, error) {
	allowed := make(map[string]bool, len(toolSet))
	for _, t := range toolSet {
		allowed[t] = true
	}

	var problems []string
	seen := make(map[string]bool, len(checks))
	compiled := make([]CompiledCheck, 0, len(checks))

	for i, c := range checks {
		prefix := fmt.Sprintf("check[%d]", i)
		if c.ID != "" {
			prefix = fmt.Sprintf("check[%d] (%s)", i, c.ID)
		}
		bad := func(format string, args ...any) {
			problems = append(problems, prefix+": "+fmt.Sprintf(format, args...))
		}

		if c.ID == "" {
			bad("missing required field 'id'")
		} else if seen[c.ID] {
			bad("duplicate check id")
		}
		seen[c.ID] = true

		if c.Kind == "" {
			bad("missing required field 'kind'")
			continue
		}
		if !c.Kind.Valid() {
			bad("unknown check kind %q", c.Kind)
			continue
		}
		if c.Points < 0 {
			bad("points must be non-negative, got %v", c.Points)
		}
		if c.Category == "" {
			bad("missing required field 'category'")
		} else if !c.Category.Valid() {
			bad("unknown category %q", c.Category)
		}

		checkTool := func(name string) {
			if name != "" && len(allowed) > 0 && !allowed[name] {
				bad("tool %q is not in the scenario tool set", name)
			}
		}

		var re *regexp.Regexp
		needPattern := func() {
			if c.Pattern == "" {
				bad("kind %q requires 'pattern'", c.Kind)
				return
			}
			// Response and argument text checks are case-insensitive and
			// dot-matches-newline by contract.
			var err error
			re, err = regexp.Compile("(?is)" + c.Pattern)
			if err != nil {
				bad("invalid pattern: %v", err)
			}
		}

		switch c.Kind {
		case KindToolCalled, KindToolNotCalled:
			tools := c.ToolList()
			if len(tools) == 0 {
				bad("kind %q requires 'tool' or 'tools'", c.Kind)
			}
			for _, t := range tools {
				checkTool(t)
			}

		case KindToolCountMax:
			checkTool(c.Tool)
			if c.Max == nil {
				bad("kind %q requires 'max'", c.Kind)
			}

		case KindToolCountMin:
			checkTool(c.Tool)
			if c.Min == nil {
				bad("kind %q requires 'min'", c.Kind)
			}

		case KindToolCountScore:
			checkTool(c.Tool)
			if c.Min == nil || c.Max == nil {
				bad("kind %q requires 'min' and 'max'", c.Kind)
			} else if *c.Min > *c.Max {
				bad("min (%d) must not exceed max (%d)", *c.Min, *c.Max)
			}

		case KindToolCalledBefore:
			if c.Before == "" || c.After == "" {
				bad("kind %q requires 'before' and 'after'", c.Kind)
			}
			checkTool(c.Before)
			checkTool(c.After)

		case KindToolArgContains, KindToolArgExcludes, KindToolResponseContains:
			checkTool(c.Tool)
			needPattern()

		case KindResponseContains, KindResponseExcludes:
			needPattern()

		case KindResponseLengthMax:
			if c.Max == nil {
				bad("kind %q requires 'max'", c.Kind)
			}

		default:
			// Kind.Valid passed above, so a miss here means Kinds and this
			// switch have drifted apart.
			bad("kind %q has no validation case", c.Kind)
		}

		compiled = append(compiled, CompiledCheck{Check: c, Regexp: re})
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Scenario: scenario, Problems: problems}
	}
	return &Rubric{checks: compiled}, nil
}
