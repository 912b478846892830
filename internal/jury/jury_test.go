package jury

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/agentloop/internal/llm"
	"github.com/codefionn/agentloop/internal/loop"
)

type fakeClient struct {
	reply string
	err   error

	lastPrompt string
}

func (f *fakeClient) CompleteWithRequest(_ context.Context, _ *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: f.reply}, f.err
}

func (f *fakeClient) Complete(_ context.Context, prompt string) (string, error) {
	f.lastPrompt = prompt
	return f.reply, f.err
}

func (f *fakeClient) GetModelName() string { return "fake-model" }

func TestLLMJuryEvaluate(t *testing.T) {
	client := &fakeClient{reply: "SCORE: 0.85\nVERDICT: PASS\nREASONING: solves the task cleanly"}

	j, err := NewLLMJury(client, WithCriteria("code must compile"))
	require.NoError(t, err)

	verdict, err := j.Evaluate(context.Background(), loop.NewRunState("run-1"), "final diff", "/tmp/ws")
	require.NoError(t, err)
	assert.Equal(t, 0.85, verdict.Score)
	assert.True(t, verdict.Passed)
	assert.Equal(t, "solves the task cleanly", verdict.Reasoning)

	assert.Contains(t, client.lastPrompt, "code must compile")
	assert.Contains(t, client.lastPrompt, "final diff")
	assert.Contains(t, client.lastPrompt, "/tmp/ws")
}

func TestLLMJuryClientError(t *testing.T) {
	clientErr := errors.New("connection refused")
	j, err := NewLLMJury(&fakeClient{err: clientErr})
	require.NoError(t, err)

	_, err = j.Evaluate(context.Background(), loop.NewRunState("run-1"), "out", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, clientErr)
}

func TestParseVerdict(t *testing.T) {
	t.Run("valid reply", func(t *testing.T) {
		v, err := parseVerdict("SCORE: 0.5\nVERDICT: FAIL\nREASONING: tests missing")
		require.NoError(t, err)
		assert.Equal(t, 0.5, v.Score)
		assert.False(t, v.Passed)
		assert.Equal(t, "tests missing", v.Reasoning)
	})

	t.Run("think tags stripped", func(t *testing.T) {
		v, err := parseVerdict("<think>hmm, looks fine</think>SCORE: 1.0\nVERDICT: PASS\nREASONING: done")
		require.NoError(t, err)
		assert.Equal(t, 1.0, v.Score)
		assert.True(t, v.Passed)
	})

	t.Run("case-insensitive labels", func(t *testing.T) {
		v, err := parseVerdict("score: 0.25\nverdict: pass\nreasoning: ok")
		require.NoError(t, err)
		assert.Equal(t, 0.25, v.Score)
		assert.True(t, v.Passed)
	})

	t.Run("missing score", func(t *testing.T) {
		_, err := parseVerdict("VERDICT: PASS\nREASONING: no score line")
		assert.Error(t, err)
	})

	t.Run("score out of range", func(t *testing.T) {
		_, err := parseVerdict("SCORE: 1.5\nVERDICT: PASS\nREASONING: x")
		assert.Error(t, err)
	})

	t.Run("unparseable score", func(t *testing.T) {
		_, err := parseVerdict("SCORE: excellent\nVERDICT: PASS\nREASONING: x")
		assert.Error(t, err)
	})
}

func TestStaticJury(t *testing.T) {
	j := NewStaticJury(
		loop.Verdict{Score: 0.2},
		loop.Verdict{Score: 0.9, Passed: true},
	)

	state := loop.NewRunState("run-1")

	v, err := j.Evaluate(context.Background(), state, "", "")
	require.NoError(t, err)
	assert.Equal(t, 0.2, v.Score)

	v, err = j.Evaluate(context.Background(), state, "", "")
	require.NoError(t, err)
	assert.True(t, v.Passed)

	// The last verdict repeats.
	v, err = j.Evaluate(context.Background(), state, "", "")
	require.NoError(t, err)
	assert.True(t, v.Passed)
}

func TestStaticJuryEmpty(t *testing.T) {
	j := NewStaticJury()
	v, err := j.Evaluate(context.Background(), loop.NewRunState("run-1"), "", "")
	require.NoError(t, err)
	assert.Zero(t, v.Score)
	assert.False(t, v.Passed)
}
