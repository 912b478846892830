// Package jury provides evaluation collaborators that judge a loop's latest
// output: an LLM-backed judge and a static one for tests and fixed rubrics.
package jury

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/codefionn/agentloop/internal/llm"
	"github.com/codefionn/agentloop/internal/logger"
	"github.com/codefionn/agentloop/internal/loop"
)

// DefaultTimeout bounds a single judge call.
const DefaultTimeout = 30 * time.Second

// LLMJury judges an output by prompting a model and parsing a structured
// SCORE/VERDICT/REASONING reply.
type LLMJury struct {
	client   llm.Client
	criteria string
	timeout  time.Duration
	log      *logger.Logger
}

// Option customizes an LLMJury.
type Option func(*LLMJury)

// WithCriteria sets the task-specific evaluation criteria included in the
// judge prompt.
func WithCriteria(criteria string) Option {
	return func(j *LLMJury) { j.criteria = criteria }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(j *LLMJury) { j.timeout = d }
}

// NewLLMJury wraps an llm.Client as a Jury.
func NewLLMJury(client llm.Client, opts ...Option) (*LLMJury, error) {
	if client == nil {
		return nil, fmt.Errorf("llm jury: client is required")
	}
	j := &LLMJury{
		client:  client,
		timeout: DefaultTimeout,
		log:     logger.Global().WithPrefix("jury"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Evaluate prompts the judge model and parses its reply into a Verdict.
func (j *LLMJury) Evaluate(ctx context.Context, state loop.RunState, latestOutput string, workspace string) (*loop.Verdict, error) {
	prompt := buildJudgePrompt(j.criteria, latestOutput, workspace, state.CurrentStep())

	judgeCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	j.log.Debug("evaluating run %s at step %d", state.RunID(), state.CurrentStep())
	reply, err := j.client.Complete(judgeCtx, prompt)
	if err != nil {
		return nil, fmt.Errorf("judge call failed: %w", err)
	}

	verdict, err := parseVerdict(reply)
	if err != nil {
		return nil, fmt.Errorf("judge reply unparseable: %w", err)
	}

	j.log.Debug("run %s scored %.2f (passed=%t)", state.RunID(), verdict.Score, verdict.Passed)
	return verdict, nil
}

// buildJudgePrompt creates the evaluation prompt. The reply format is kept
// rigid so parsing stays trivial.
func buildJudgePrompt(criteria, output, workspace string, step int) string {
	var sb strings.Builder
	sb.WriteString("You are an evaluation judge for an AI agent's work. Assess the latest output below.\n")
	sb.WriteString("Reply with exactly three lines, nothing else:\n")
	sb.WriteString("SCORE: <a number between 0.0 and 1.0>\n")
	sb.WriteString("VERDICT: <PASS or FAIL>\n")
	sb.WriteString("REASONING: <one sentence>\n\n")

	if criteria != "" {
		sb.WriteString("Evaluation criteria:\n")
		sb.WriteString(criteria)
		sb.WriteString("\n\n")
	}
	if workspace != "" {
		sb.WriteString("Workspace: ")
		sb.WriteString(workspace)
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("Completed steps so far: %d\n\n", step))

	sb.WriteString("Latest output:\n")
	sb.WriteString("---\n")
	output = strings.TrimSpace(output)
	if output == "" {
		output = "(no output)"
	}
	sb.WriteString(output)
	sb.WriteString("\n---\n")
	return sb.String()
}

// parseVerdict extracts the SCORE/VERDICT/REASONING lines from a judge
// reply. Reasoning-model think tags are stripped first.
func parseVerdict(reply string) (*loop.Verdict, error) {
	reply = stripThinkTags(reply)

	verdict := &loop.Verdict{}
	scoreSeen := false

	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(strings.ToUpper(line), "SCORE:"):
			raw := strings.TrimSpace(line[len("SCORE:"):])
			score, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("bad score %q", raw)
			}
			if score < 0 || score > 1 {
				return nil, fmt.Errorf("score %f out of [0, 1]", score)
			}
			verdict.Score = score
			scoreSeen = true

		case strings.HasPrefix(strings.ToUpper(line), "VERDICT:"):
			raw := strings.ToUpper(strings.TrimSpace(line[len("VERDICT:"):]))
			verdict.Passed = raw == "PASS"

		case strings.HasPrefix(strings.ToUpper(line), "REASONING:"):
			verdict.Reasoning = strings.TrimSpace(line[len("REASONING:"):])
		}
	}

	if !scoreSeen {
		return nil, fmt.Errorf("no SCORE line in %q", strings.TrimSpace(reply))
	}
	return verdict, nil
}

// stripThinkTags removes <think>...</think> blocks emitted by reasoning
// models before the structured reply.
func stripThinkTags(text string) string {
	for {
		start := strings.Index(text, "<think>")
		if start < 0 {
			break
		}
		end := strings.Index(text[start:], "</think>")
		if end < 0 {
			text = text[:start]
			break
		}
		text = text[:start] + text[start+end+len("</think>"):]
	}
	return text
}

// StaticJury returns pre-configured verdicts in sequence, repeating the
// last one. It exists for tests and for fixed-rubric pipelines that score
// without a model.
type StaticJury struct {
	verdicts []loop.Verdict
	calls    int
}

// NewStaticJury creates a jury replaying the given verdicts.
func NewStaticJury(verdicts ...loop.Verdict) *StaticJury {
	return &StaticJury{verdicts: verdicts}
}

// Evaluate returns the next configured verdict.
func (s *StaticJury) Evaluate(_ context.Context, _ loop.RunState, _ string, _ string) (*loop.Verdict, error) {
	if len(s.verdicts) == 0 {
		return &loop.Verdict{}, nil
	}
	idx := s.calls
	if idx >= len(s.verdicts) {
		idx = len(s.verdicts) - 1
	}
	s.calls++
	v := s.verdicts[idx]
	return &v, nil
}
