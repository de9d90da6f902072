// Package scenario loads and validates scenario definitions and holds the
// active episode context. A scenario definition is a YAML document pairing a
// tool allow-list with a scoring rubric; it is validated twice at load time,
// first against an embedded JSON Schema and then structurally, so no invalid
// definition can ever become active.
package scenario

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/trajectoryRL/trajectory-sandbox/internal/rubric"
)

//go:embed schema.json
var schemaJSON []byte

var definitionSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		panic(fmt.Sprintf("embedded scenario schema is not valid JSON: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("scenario.schema.json", doc); err != nil {
		panic(fmt.Sprintf("adding scenario schema: %v", err))
	}
	sch, err := c.Compile("scenario.schema.json")
	if err != nil {
		panic(fmt.Sprintf("compiling scenario schema: %v", err))
	}
	return sch
}

// Definition is the raw YAML shape of a scenario file.
type Definition struct {
	Name      string            `yaml:"name" json:"name"`
	Prompt    string            `yaml:"prompt" json:"prompt"`
	Tools     []string          `yaml:"tools" json:"tools"`
	Variants  map[string]string `yaml:"variants" json:"variants"`
	Workspace map[string]string `yaml:"workspace" json:"workspace"`
	Fixtures  struct {
		Required []string `yaml:"required" json:"required"`
	} `yaml:"fixtures" json:"fixtures"`
	Scoring struct {
		Checks []rubric.Check `yaml:"checks" json:"checks"`
	} `yaml:"scoring" json:"scoring"`
}

// Scenario is a fully validated scenario. Immutable once loaded.
type Scenario struct {
	Name             string
	Prompt           string
	Tools            []string
	Variants         map[string]string
	Workspace        map[string]string
	RequiredFixtures []string
	Rubric           *rubric.Rubric
}

// AllowsTool reports whether the scenario's tool allow-list contains name.
func (s *Scenario) AllowsTool(name string) bool {
	for _, t := range s.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// Load reads, schema-validates, and structurally validates one scenario
// definition file. Every validation failure comes back as a
// *rubric.ValidationError so callers report all problems in one pass.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario definition: %w", err)
	}
	return Parse(path, data)
}

// Parse validates a scenario definition document.
func Parse(name string, data []byte) (*Scenario, error) {
	// Normalize YAML through JSON so the schema validator sees plain JSON
	// values (map[string]any, []any, float64).
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &rubric.ValidationError{Scenario: name, Problems: []string{fmt.Sprintf("invalid YAML: %v", err)}}
	}
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, &rubric.ValidationError{Scenario: name, Problems: []string{fmt.Sprintf("definition is not JSON-representable: %v", err)}}
	}
	var doc any
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return nil, &rubric.ValidationError{Scenario: name, Problems: []string{err.Error()}}
	}
	if err := definitionSchema.Validate(doc); err != nil {
		return nil, &rubric.ValidationError{Scenario: name, Problems: []string{fmt.Sprintf("schema validation: %v", err)}}
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &rubric.ValidationError{Scenario: name, Problems: []string{fmt.Sprintf("decoding definition: %v", err)}}
	}

	compiled, err := rubric.Compile(def.Name, def.Scoring.Checks, def.Tools)
	if err != nil {
		return nil, err
	}

	return &Scenario{
		Name:             def.Name,
		Prompt:           def.Prompt,
		Tools:            def.Tools,
		Variants:         def.Variants,
		Workspace:        def.Workspace,
		RequiredFixtures: def.Fixtures.Required,
		Rubric:           compiled,
	}, nil
}
