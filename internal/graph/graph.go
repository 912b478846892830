// Package graph composes loops and plain computation steps into directed
// workflows with conditional edges. Nodes are named functions; outgoing
// edges are tried in registration order and the first whose predicate
// accepts the node's output is taken. Structural validity is checked once
// at build time, never mid-run.
package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/agentloop/internal/logger"
	"github.com/codefionn/agentloop/internal/loop"
)

// DefaultMaxIterations guards cyclic graphs that never reach the finish
// node.
const DefaultMaxIterations = 100

// NodeFunc executes one node: shared context plus the current input in,
// output out.
type NodeFunc func(ctx context.Context, gctx *Context, input string) (string, error)

// Predicate decides whether an edge accepts the source node's output. A nil
// predicate always accepts.
type Predicate func(output string) bool

// Transformer rewrites a node's output into the next node's input. A nil
// transformer passes the output through unchanged.
type Transformer func(output string) string

// Node is a named unit of work in the graph.
type Node struct {
	Name string
	Run  NodeFunc
}

// Edge connects a source node to a target node, guarded by a predicate.
type Edge struct {
	From      string
	To        string
	When      Predicate
	Transform Transformer
}

// Context is the scratch space shared by all nodes within one execution. A
// fresh context is created per Execute call; nothing is shared across
// executions.
type Context struct {
	RunID     string
	StartedAt time.Time

	mu      sync.Mutex
	scratch map[string]interface{}
}

func newContext(runID string) *Context {
	return &Context{
		RunID:     runID,
		StartedAt: time.Now(),
		scratch:   make(map[string]interface{}),
	}
}

// Set stores a value in the shared scratch space.
func (c *Context) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scratch[key] = value
}

// Get reads a value from the shared scratch space.
func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.scratch[key]
	return value, ok
}

// BuildError collects every structural problem found at build time.
type BuildError struct {
	Problems []string
}

// Error returns all problems joined into one message.
func (e *BuildError) Error() string {
	return fmt.Sprintf("invalid graph: %s", strings.Join(e.Problems, "; "))
}

// Builder assembles a Graph. Structural validity is checked in Build, not
// incrementally.
type Builder struct {
	nodes         []Node
	edges         []Edge
	start         string
	finish        string
	maxIterations int
	problems      []string
}

// NewBuilder creates an empty graph builder.
func NewBuilder() *Builder {
	return &Builder{maxIterations: DefaultMaxIterations}
}

// AddNode registers a named node. Names must be unique within the graph.
func (b *Builder) AddNode(name string, run NodeFunc) *Builder {
	if name == "" {
		b.problems = append(b.problems, "node name must not be empty")
		return b
	}
	if run == nil {
		b.problems = append(b.problems, fmt.Sprintf("node %q has no function", name))
		return b
	}
	b.nodes = append(b.nodes, Node{Name: name, Run: run})
	return b
}

// AddEdge registers an outgoing edge. Edges from the same node are tried in
// the order they were added; the first accepting predicate wins.
func (b *Builder) AddEdge(from, to string, when Predicate, transform Transformer) *Builder {
	b.edges = append(b.edges, Edge{From: from, To: to, When: when, Transform: transform})
	return b
}

// Start designates the start node.
func (b *Builder) Start(name string) *Builder {
	b.start = name
	return b
}

// Finish designates the finish node.
func (b *Builder) Finish(name string) *Builder {
	b.finish = name
	return b
}

// MaxIterations overrides the cyclic-execution guard.
func (b *Builder) MaxIterations(n int) *Builder {
	b.maxIterations = n
	return b
}

// Build validates the graph structure and returns an executable Graph. All
// problems are collected into a single BuildError.
func (b *Builder) Build() (*Graph, error) {
	problems := append([]string(nil), b.problems...)

	byName := make(map[string]Node, len(b.nodes))
	for _, node := range b.nodes {
		if _, dup := byName[node.Name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node name %q", node.Name))
			continue
		}
		byName[node.Name] = node
	}

	if b.start == "" {
		problems = append(problems, "no start node designated")
	} else if _, ok := byName[b.start]; !ok {
		problems = append(problems, fmt.Sprintf("start node %q does not exist", b.start))
	}
	if b.finish == "" {
		problems = append(problems, "no finish node designated")
	} else if _, ok := byName[b.finish]; !ok {
		problems = append(problems, fmt.Sprintf("finish node %q does not exist", b.finish))
	}

	outgoing := make(map[string][]Edge)
	for _, edge := range b.edges {
		if _, ok := byName[edge.From]; !ok {
			problems = append(problems, fmt.Sprintf("edge source %q does not exist", edge.From))
			continue
		}
		if _, ok := byName[edge.To]; !ok {
			problems = append(problems, fmt.Sprintf("edge target %q does not exist", edge.To))
			continue
		}
		outgoing[edge.From] = append(outgoing[edge.From], edge)
	}

	if b.maxIterations < 1 {
		problems = append(problems, fmt.Sprintf("MaxIterations must be >= 1, got %d", b.maxIterations))
	}

	if len(problems) > 0 {
		return nil, &BuildError{Problems: problems}
	}

	return &Graph{
		nodes:         byName,
		outgoing:      outgoing,
		start:         b.start,
		finish:        b.finish,
		maxIterations: b.maxIterations,
		log:           logger.Global().WithPrefix("graph"),
	}, nil
}

// Result is the structured outcome of one graph execution.
type Result struct {
	RunID   string
	Reason  loop.Reason
	Message string
	Success bool

	// Output is the finish node's output on success, the last node's output
	// otherwise
	Output string

	// Path is the ordered list of visited node names
	Path []string

	// Iterations is the number of node executions performed
	Iterations int

	// StuckNode names the node with no matching outgoing edge, for topology
	// failures
	StuckNode string

	// Err is set when Reason is ReasonError
	Err error
}

// Graph is a validated, executable workflow. It is immutable after Build
// and safe to execute repeatedly; each execution gets a fresh Context.
type Graph struct {
	nodes         map[string]Node
	outgoing      map[string][]Edge
	start         string
	finish        string
	maxIterations int
	log           *logger.Logger
}

// Execute runs the graph from the start node with the given input.
func (g *Graph) Execute(ctx context.Context, input string) *Result {
	runID := uuid.NewString()
	gctx := newContext(runID)
	result := &Result{RunID: runID}

	current := g.start
	g.log.Info("run %s started (start=%s finish=%s)", runID, g.start, g.finish)

	for iteration := 1; iteration <= g.maxIterations; iteration++ {
		if ctx.Err() != nil {
			result.Reason = loop.ReasonAborted
			result.Message = "abort requested"
			return result
		}

		node := g.nodes[current]
		result.Path = append(result.Path, current)
		result.Iterations = iteration

		output, err := node.Run(ctx, gctx, input)
		if err != nil {
			g.log.Error("run %s: node %q failed: %v", runID, current, err)
			result.Reason = loop.ReasonError
			result.Message = fmt.Sprintf("node %q failed", current)
			result.Err = err
			return result
		}
		result.Output = output

		// The finish node terminates before edges are considered.
		if current == g.finish {
			result.Reason = loop.ReasonWorkflowComplete
			result.Message = fmt.Sprintf("reached finish node %q", current)
			result.Success = true
			g.log.Info("run %s finished after %d iterations: %s", runID, iteration, strings.Join(result.Path, " -> "))
			return result
		}

		edge, ok := g.matchEdge(current, output)
		if !ok {
			// Topology failure: distinct from finishing, never a crash.
			result.Reason = loop.ReasonStuck
			result.StuckNode = current
			result.Message = fmt.Sprintf("stuck in node %q: no outgoing edge matched (path: %s)",
				current, strings.Join(result.Path, " -> "))
			g.log.Warn("run %s: %s", runID, result.Message)
			return result
		}

		input = output
		if edge.Transform != nil {
			input = edge.Transform(output)
		}
		current = edge.To
	}

	result.Reason = loop.ReasonMaxIterations
	result.Message = fmt.Sprintf("no finish within %d iterations (path: %s)",
		g.maxIterations, strings.Join(result.Path, " -> "))
	return result
}

// matchEdge returns the first outgoing edge, in registration order, whose
// predicate accepts the output.
func (g *Graph) matchEdge(from, output string) (Edge, bool) {
	for _, edge := range g.outgoing[from] {
		if edge.When == nil || edge.When(output) {
			return edge, true
		}
	}
	return Edge{}, false
}
