package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/agentloop/internal/loop"
)

func echoNode(suffix string) NodeFunc {
	return func(_ context.Context, _ *Context, input string) (string, error) {
		return input + suffix, nil
	}
}

func TestGraphLinearExecution(t *testing.T) {
	g, err := NewBuilder().
		AddNode("first", echoNode("-a")).
		AddNode("second", echoNode("-b")).
		AddNode("last", echoNode("-c")).
		AddEdge("first", "second", nil, nil).
		AddEdge("second", "last", nil, nil).
		Start("first").
		Finish("last").
		Build()
	require.NoError(t, err)

	result := g.Execute(context.Background(), "in")
	require.Equal(t, loop.ReasonWorkflowComplete, result.Reason)
	assert.True(t, result.Success)
	assert.Equal(t, "in-a-b-c", result.Output)
	assert.Equal(t, []string{"first", "second", "last"}, result.Path)
	assert.Equal(t, 3, result.Iterations)
}

func TestGraphFirstMatchingEdgeWins(t *testing.T) {
	// Both predicates accept every output; only registration order decides.
	build := func(reversed bool) *Graph {
		b := NewBuilder().
			AddNode("source", echoNode("")).
			AddNode("left", echoNode("-left")).
			AddNode("right", echoNode("-right")).
			AddNode("done", echoNode("")).
			AddEdge("left", "done", nil, nil).
			AddEdge("right", "done", nil, nil).
			Start("source").
			Finish("done")
		if reversed {
			b.AddEdge("source", "right", Always(), nil)
			b.AddEdge("source", "left", Always(), nil)
		} else {
			b.AddEdge("source", "left", Always(), nil)
			b.AddEdge("source", "right", Always(), nil)
		}
		g, err := b.Build()
		require.NoError(t, err)
		return g
	}

	result := build(false).Execute(context.Background(), "x")
	require.True(t, result.Success)
	assert.Equal(t, []string{"source", "left", "done"}, result.Path)

	result = build(true).Execute(context.Background(), "x")
	require.True(t, result.Success)
	assert.Equal(t, []string{"source", "right", "done"}, result.Path)
}

func TestGraphStuckInNode(t *testing.T) {
	g, err := NewBuilder().
		AddNode("start", echoNode("")).
		AddNode("middle", echoNode("")).
		AddNode("end", echoNode("")).
		AddEdge("start", "middle", nil, nil).
		AddEdge("middle", "end", OutputEquals("never matches"), nil).
		Start("start").
		Finish("end").
		Build()
	require.NoError(t, err)

	result := g.Execute(context.Background(), "x")
	require.Equal(t, loop.ReasonStuck, result.Reason)
	assert.False(t, result.Success)
	assert.Equal(t, "middle", result.StuckNode)
	assert.Equal(t, []string{"start", "middle"}, result.Path)
	assert.Contains(t, result.Message, `"middle"`)
	assert.Contains(t, result.Message, "start -> middle")
}

func TestGraphFinishBeforeEdges(t *testing.T) {
	// The finish node has an outgoing edge, but finishing wins.
	g, err := NewBuilder().
		AddNode("a", echoNode("")).
		AddNode("b", echoNode("")).
		AddEdge("a", "b", nil, nil).
		AddEdge("b", "a", nil, nil).
		Start("a").
		Finish("b").
		Build()
	require.NoError(t, err)

	result := g.Execute(context.Background(), "x")
	require.Equal(t, loop.ReasonWorkflowComplete, result.Reason)
	assert.Equal(t, []string{"a", "b"}, result.Path)
}

func TestGraphMaxIterationsOnCycle(t *testing.T) {
	g, err := NewBuilder().
		AddNode("a", echoNode("")).
		AddNode("b", echoNode("")).
		AddNode("end", echoNode("")).
		AddEdge("a", "b", nil, nil).
		AddEdge("b", "a", nil, nil).
		Start("a").
		Finish("end").
		MaxIterations(5).
		Build()
	require.NoError(t, err)

	result := g.Execute(context.Background(), "x")
	require.Equal(t, loop.ReasonMaxIterations, result.Reason)
	assert.False(t, result.Success)
	assert.Equal(t, 5, result.Iterations)
	assert.Equal(t, []string{"a", "b", "a", "b", "a"}, result.Path)
}

func TestGraphNodeError(t *testing.T) {
	nodeErr := errors.New("disk full")
	g, err := NewBuilder().
		AddNode("a", echoNode("")).
		AddNode("boom", func(_ context.Context, _ *Context, _ string) (string, error) {
			return "", nodeErr
		}).
		AddEdge("a", "boom", nil, nil).
		Start("a").
		Finish("boom").
		Build()
	require.NoError(t, err)

	result := g.Execute(context.Background(), "x")
	require.Equal(t, loop.ReasonError, result.Reason)
	assert.ErrorIs(t, result.Err, nodeErr)
	assert.Contains(t, result.Message, `"boom"`)
}

func TestGraphTransformer(t *testing.T) {
	upper := func(output string) string { return "transformed:" + output }

	g, err := NewBuilder().
		AddNode("a", echoNode("")).
		AddNode("b", echoNode("")).
		AddEdge("a", "b", nil, upper).
		Start("a").
		Finish("b").
		Build()
	require.NoError(t, err)

	result := g.Execute(context.Background(), "x")
	require.True(t, result.Success)
	assert.Equal(t, "transformed:x", result.Output)
}

func TestGraphContextSharedWithinRun(t *testing.T) {
	g, err := NewBuilder().
		AddNode("writer", func(_ context.Context, gctx *Context, input string) (string, error) {
			gctx.Set("note", "from writer")
			return input, nil
		}).
		AddNode("reader", func(_ context.Context, gctx *Context, input string) (string, error) {
			value, ok := gctx.Get("note")
			if !ok {
				return "", errors.New("scratch value missing")
			}
			return value.(string), nil
		}).
		AddEdge("writer", "reader", nil, nil).
		Start("writer").
		Finish("reader").
		Build()
	require.NoError(t, err)

	result := g.Execute(context.Background(), "x")
	require.True(t, result.Success)
	assert.Equal(t, "from writer", result.Output)

	// A second execution gets a fresh context and a fresh run ID.
	second := g.Execute(context.Background(), "x")
	require.True(t, second.Success)
	assert.NotEqual(t, result.RunID, second.RunID)
}

func TestGraphBuildValidation(t *testing.T) {
	t.Run("collects all problems", func(t *testing.T) {
		_, err := NewBuilder().
			AddNode("a", echoNode("")).
			AddNode("a", echoNode("")).
			AddEdge("a", "ghost", nil, nil).
			Start("missing").
			Build()
		require.Error(t, err)

		var buildErr *BuildError
		require.ErrorAs(t, err, &buildErr)
		assert.Contains(t, err.Error(), `duplicate node name "a"`)
		assert.Contains(t, err.Error(), `edge target "ghost" does not exist`)
		assert.Contains(t, err.Error(), `start node "missing" does not exist`)
		assert.Contains(t, err.Error(), "no finish node designated")
	})

	t.Run("valid graph builds", func(t *testing.T) {
		_, err := NewBuilder().
			AddNode("only", echoNode("")).
			Start("only").
			Finish("only").
			Build()
		assert.NoError(t, err)
	})
}

func TestTurnLoopNode(t *testing.T) {
	gen := &loop.MockGenerator{Generations: []*loop.Generation{
		{Text: "wrapped loop output", TokensUsed: 5},
	}}

	node := TurnLoopNode(loop.DefaultTurnConfig(), loop.TurnDeps{Generator: gen})
	g, err := NewBuilder().
		AddNode("agent", node).
		Start("agent").
		Finish("agent").
		Build()
	require.NoError(t, err)

	result := g.Execute(context.Background(), "solve it")
	require.True(t, result.Success, "reason: %s message: %s", result.Reason, result.Message)
	assert.Equal(t, "wrapped loop output", result.Output)
}
