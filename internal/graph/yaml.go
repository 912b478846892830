package graph

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is the declarative YAML form of a graph. Node behavior is
// bound at build time from a handler registry; the file carries only the
// topology.
//
//	start: triage
//	finish: report
//	max_iterations: 20
//	nodes:
//	  - triage
//	  - fix
//	  - report
//	edges:
//	  - from: triage
//	    to: fix
//	    when: "contains:bug"
//	  - from: triage
//	    to: report
//	  - from: fix
//	    to: report
type Definition struct {
	Start         string           `yaml:"start"`
	Finish        string           `yaml:"finish"`
	MaxIterations int              `yaml:"max_iterations,omitempty"`
	Nodes         []string         `yaml:"nodes"`
	Edges         []EdgeDefinition `yaml:"edges"`
}

// EdgeDefinition declares one edge. The optional When clause is one of
// "always" (the default), "equals:<text>" or "contains:<text>".
type EdgeDefinition struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	When string `yaml:"when,omitempty"`
}

// ParseDefinition decodes a YAML graph definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse graph definition: %w", err)
	}
	return &def, nil
}

// LoadDefinition reads and decodes a YAML graph definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph definition: %w", err)
	}
	return ParseDefinition(data)
}

// Build binds the definition's nodes to the given handlers and validates
// the result. Every declared node needs a handler; topology problems
// surface as a BuildError.
func (d *Definition) Build(handlers map[string]NodeFunc) (*Graph, error) {
	builder := NewBuilder().Start(d.Start).Finish(d.Finish)
	if d.MaxIterations > 0 {
		builder.MaxIterations(d.MaxIterations)
	}

	for _, name := range d.Nodes {
		handler, ok := handlers[name]
		if !ok {
			return nil, fmt.Errorf("no handler registered for node %q", name)
		}
		builder.AddNode(name, handler)
	}

	for _, edge := range d.Edges {
		when, err := parsePredicate(edge.When)
		if err != nil {
			return nil, fmt.Errorf("edge %s -> %s: %w", edge.From, edge.To, err)
		}
		builder.AddEdge(edge.From, edge.To, when, nil)
	}

	return builder.Build()
}

func parsePredicate(clause string) (Predicate, error) {
	switch {
	case clause == "" || clause == "always":
		return Always(), nil
	case strings.HasPrefix(clause, "equals:"):
		return OutputEquals(strings.TrimPrefix(clause, "equals:")), nil
	case strings.HasPrefix(clause, "contains:"):
		return OutputContains(strings.TrimPrefix(clause, "contains:")), nil
	default:
		return nil, fmt.Errorf("unknown predicate clause %q", clause)
	}
}
