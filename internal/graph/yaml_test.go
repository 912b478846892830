package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/agentloop/internal/loop"
)

const triageDefinition = `
start: triage
finish: report
max_iterations: 10
nodes:
  - triage
  - fix
  - report
edges:
  - from: triage
    to: fix
    when: "contains:bug"
  - from: triage
    to: report
  - from: fix
    to: report
`

func triageHandlers(triageOutput string) map[string]NodeFunc {
	return map[string]NodeFunc{
		"triage": func(_ context.Context, _ *Context, _ string) (string, error) {
			return triageOutput, nil
		},
		"fix":    echoNode("-fixed"),
		"report": echoNode("-reported"),
	}
}

func TestDefinitionBuildAndExecute(t *testing.T) {
	def, err := ParseDefinition([]byte(triageDefinition))
	require.NoError(t, err)
	assert.Equal(t, "triage", def.Start)
	assert.Len(t, def.Edges, 3)

	t.Run("bug output routes through fix", func(t *testing.T) {
		g, err := def.Build(triageHandlers("found a bug"))
		require.NoError(t, err)

		result := g.Execute(context.Background(), "")
		require.Equal(t, loop.ReasonWorkflowComplete, result.Reason)
		assert.Equal(t, []string{"triage", "fix", "report"}, result.Path)
	})

	t.Run("clean output skips fix", func(t *testing.T) {
		g, err := def.Build(triageHandlers("all clean"))
		require.NoError(t, err)

		result := g.Execute(context.Background(), "")
		require.Equal(t, loop.ReasonWorkflowComplete, result.Reason)
		assert.Equal(t, []string{"triage", "report"}, result.Path)
	})
}

func TestDefinitionMissingHandler(t *testing.T) {
	def, err := ParseDefinition([]byte(triageDefinition))
	require.NoError(t, err)

	handlers := triageHandlers("x")
	delete(handlers, "fix")

	_, err = def.Build(handlers)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"fix"`)
}

func TestDefinitionUnknownPredicate(t *testing.T) {
	def := &Definition{
		Start:  "a",
		Finish: "a",
		Nodes:  []string{"a"},
		Edges:  []EdgeDefinition{{From: "a", To: "a", When: "regex:.*"}},
	}

	_, err := def.Build(map[string]NodeFunc{"a": echoNode("")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown predicate clause")
}

func TestParseDefinitionInvalidYAML(t *testing.T) {
	_, err := ParseDefinition([]byte("nodes: [unterminated"))
	assert.Error(t, err)
}
