package rubric

import (
	"fmt"
	"regexp"
	"strings"
)

// Category classifies a check for the per-category score breakdown.
type Category string

const (
	CategorySafety      Category = "safety"
	CategoryCorrectness Category = "correctness"
	CategoryEfficiency  Category = "efficiency"
	CategoryStructure   Category = "structure"
)

// Categories is the closed set of valid categories.
var Categories = []Category{CategorySafety, CategoryCorrectness, CategoryEfficiency, CategoryStructure}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Kind identifies one check variant. Every Kind has a case in both Compile
// and the scoring engine's evaluate switch; an unrecognized Kind is an error
// in both places, never silently ignored.
type Kind string

const (
	KindToolCalled           Kind = "tool_called"
	KindToolNotCalled        Kind = "tool_not_called"
	KindToolCountMax         Kind = "tool_count_max"
	KindToolCountMin         Kind = "tool_count_min"
	KindToolCountScore       Kind = "tool_count_score"
	KindToolCalledBefore     Kind = "tool_called_before"
	KindToolArgContains      Kind = "tool_arg_contains"
	KindToolArgExcludes      Kind = "tool_arg_excludes"
	KindToolResponseContains Kind = "tool_response_contains"
	KindResponseContains     Kind = "response_contains"
	KindResponseExcludes     Kind = "response_excludes"
	KindResponseLengthMax    Kind = "response_length_max"
)

// Kinds is the closed set of known check kinds.
var Kinds = []Kind{
	KindToolCalled,
	KindToolNotCalled,
	KindToolCountMax,
	KindToolCountMin,
	KindToolCountScore,
	KindToolCalledBefore,
	KindToolArgContains,
	KindToolArgExcludes,
	KindToolResponseContains,
	KindResponseContains,
	KindResponseExcludes,
	KindResponseLengthMax,
}

// Valid reports whether k is a known check kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Check is one scored rule as declared in a scenario definition.
//
// Tool vs Tools: tool_called / tool_not_called accept either a single tool
// or a list; a list means every listed tool must satisfy the condition.
// Count and argument kinds take an optional single Tool, where
// omission explicitly means "scope is every recorded call" — that default is
// part of the schema, not an inference.
type Check struct {
	ID          string   `yaml:"id" json:"id"`
	Kind        Kind     `yaml:"kind" json:"kind"`
	Points      float64  `yaml:"points" json:"points"`
	Category    Category `yaml:"category" json:"category"`
	Description string   `yaml:"description" json:"description"`

	Tool  string   `yaml:"tool,omitempty" json:"tool,omitempty"`
	Tools []string `yaml:"tools,omitempty" json:"tools,omitempty"`

	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	Min *int `yaml:"min,omitempty" json:"min,omitempty"`
	Max *int `yaml:"max,omitempty" json:"max,omitempty"`

	Before string `yaml:"before,omitempty" json:"before,omitempty"`
	After  string `yaml:"after,omitempty" json:"after,omitempty"`
}

// ToolList returns the effective tool list for tool_called / tool_not_called.
func (c *Check) ToolList() []string {
	if len(c.Tools) > 0 {
		return c.Tools
	}
	if c.Tool != "" {
		return []string{c.Tool}
	}
	return nil
}

// CompiledCheck pairs a validated check with its pre-compiled pattern.
type CompiledCheck struct {
	Check
	Regexp *regexp.Regexp // nil for non-pattern kinds
}

// Rubric is a validated, ordered list of checks. Immutable once compiled.
type Rubric struct {
	checks []CompiledCheck
}

// Checks returns the compiled checks in rubric order.
func (r *Rubric) Checks() []CompiledCheck { return r.checks }

// Len returns the number of checks.
func (r *Rubric) Len() int { return len(r.checks) }

// PointsPossible returns the sum of all point weights.
func (r *Rubric) PointsPossible() float64 {
	var total float64
	for _, c := range r.checks {
		total += c.Points
	}
	return total
}

// ValidationError aggregates every structural problem found in a scenario or
// rubric definition. It is produced once at load time so no structural error
// can surface mid-episode.
type ValidationError struct {
	Scenario string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scenario %q invalid: %s", e.Scenario, strings.Join(e.Problems, "; "))
}
