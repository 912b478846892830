package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/codefionn/agentloop/internal/config"
	"github.com/codefionn/agentloop/internal/graph"
	"github.com/codefionn/agentloop/internal/history"
	"github.com/codefionn/agentloop/internal/jury"
	"github.com/codefionn/agentloop/internal/llm"
	"github.com/codefionn/agentloop/internal/logger"
	"github.com/codefionn/agentloop/internal/loop"
)

type options struct {
	configPath string
	graphPath  string
	mode       string
	trials     int
	criteria   string
	noHistory  bool
	logLevel   string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts, task, err := parseArgs(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogFile); err != nil {
		return err
	}
	defer logger.Global().Close()

	// Route slog-based library logging through the application logger.
	slog.SetDefault(slog.New(logger.NewSlogHandler(logger.Global())))

	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	var listeners []loop.Listener
	if !opts.noHistory && cfg.HistoryPath != "" {
		store, err := history.NewStore(cfg.HistoryPath)
		if err != nil {
			return err
		}
		defer store.Close()
		listeners = append(listeners, store)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch opts.mode {
	case "turn":
		return runTurnLoop(ctx, cfg, opts, client, listeners, task)
	case "evaluator":
		return runEvaluatorLoop(ctx, cfg, opts, client, listeners, task)
	case "graph":
		return runGraph(ctx, cfg, opts, client, listeners, task)
	default:
		return fmt.Errorf("unknown mode %q (want turn, evaluator or graph)", opts.mode)
	}
}

func parseArgs(args []string) (*options, string, error) {
	opts := &options{}

	fs := flag.NewFlagSet("agentloop", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", defaultConfigPath(), "path to the JSON config file")
	fs.StringVar(&opts.mode, "mode", "turn", "loop mode: turn, evaluator or graph")
	fs.StringVar(&opts.graphPath, "graph", "", "YAML graph definition (mode graph)")
	fs.IntVar(&opts.trials, "trials", 0, "override the evaluator trial budget")
	fs.StringVar(&opts.criteria, "criteria", "", "evaluation criteria for the jury")
	fs.BoolVar(&opts.noHistory, "no-history", false, "disable the run history store")
	fs.StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: agentloop [flags] <task>\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	task := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if task == "" {
		fs.Usage()
		return nil, "", fmt.Errorf("no task given")
	}
	return opts, task, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agentloop.json"
	}
	return home + "/.agentloop/config.json"
}

func newClient(cfg *config.Config) (llm.Client, error) {
	key := cfg.APIKey()
	if key == "" {
		return nil, fmt.Errorf("no API key configured for provider %s", cfg.Provider.Provider)
	}
	switch cfg.Provider.Provider {
	case "anthropic":
		return llm.NewAnthropicClient(key, cfg.Provider.Model)
	case "openai":
		return llm.NewOpenAIClient(key, cfg.Provider.Model)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Provider)
	}
}

func newJury(cfg *config.Config, opts *options, client llm.Client) (loop.Jury, error) {
	if opts.criteria == "" {
		return nil, nil
	}
	return jury.NewLLMJury(client, jury.WithCriteria(opts.criteria))
}

func turnConfig(cfg *config.Config) loop.TurnConfig {
	tc := loop.DefaultTurnConfig()
	tc.MaxSteps = cfg.Loop.MaxSteps
	tc.Timeout = cfg.LoopTimeout()
	tc.CostLimit = cfg.Loop.CostLimit
	tc.StuckThreshold = cfg.Loop.StuckThreshold
	tc.EvaluateEvery = cfg.Loop.EvaluateEvery
	tc.ScoreThreshold = cfg.Loop.ScoreThreshold
	tc.CostPerKiloTokens = cfg.Loop.CostPerKiloTokens
	return tc
}

func runTurnLoop(ctx context.Context, cfg *config.Config, opts *options, client llm.Client, listeners []loop.Listener, task string) error {
	j, err := newJury(cfg, opts, client)
	if err != nil {
		return err
	}

	gen, err := loop.NewLLMGenerator(client)
	if err != nil {
		return err
	}

	l, err := loop.NewTurnLimitedLoop(turnConfig(cfg), loop.TurnDeps{
		Generator:    gen,
		Conversation: loop.NewTranscript(task),
		Jury:         j,
		Workspace:    cfg.Workspace,
		ModelID:      cfg.Provider.Model,
		Listeners:    listeners,
	})
	if err != nil {
		return err
	}

	result := l.Execute(ctx)
	printOutcome(string(result.Reason), result.Message, result.Output, result.Success)
	if result.Err != nil {
		return result.Err
	}
	return nil
}

// cliOptimizer drives the evaluator mode: the actor solves the task
// (seeded with the previous critique) and the reflector critiques the
// attempt.
type cliOptimizer struct {
	client llm.Client
	task   string
}

func (o *cliOptimizer) Produce(ctx context.Context, trial int, reflection string) (*loop.Generation, error) {
	prompt := o.task
	if reflection != "" {
		prompt = fmt.Sprintf("%s\n\nCritique of your previous attempt:\n%s\n\nProduce an improved attempt.", o.task, reflection)
	}
	resp, err := o.client.CompleteWithRequest(ctx, &llm.CompletionRequest{
		Messages:    []*llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.7,
		MaxTokens:   4096,
	})
	if err != nil {
		return nil, err
	}
	return &loop.Generation{Text: resp.Content, ToolCalls: resp.ToolCalls, TokensUsed: resp.TokensUsed}, nil
}

func (o *cliOptimizer) Reflect(ctx context.Context, trial int, output string, verdict *loop.Verdict) (string, error) {
	var sb strings.Builder
	sb.WriteString("Critique the following attempt at the task. Name concrete weaknesses and how to fix them.\n\n")
	sb.WriteString("Task:\n")
	sb.WriteString(o.task)
	if verdict != nil {
		sb.WriteString(fmt.Sprintf("\n\nAn evaluator scored it %.2f: %s", verdict.Score, verdict.Reasoning))
	}
	sb.WriteString("\n\nAttempt:\n")
	sb.WriteString(output)
	return o.client.Complete(ctx, sb.String())
}

func runEvaluatorLoop(ctx context.Context, cfg *config.Config, opts *options, client llm.Client, listeners []loop.Listener, task string) error {
	j, err := newJury(cfg, opts, client)
	if err != nil {
		return err
	}

	ec := loop.DefaultEvalConfig()
	ec.Timeout = cfg.LoopTimeout()
	ec.ScoreThreshold = cfg.Loop.ScoreThreshold
	ec.CostPerKiloTokens = cfg.Loop.CostPerKiloTokens
	if opts.trials > 0 {
		ec.MaxTrials = opts.trials
	}

	l, err := loop.NewEvaluatorOptimizerLoop(ec, loop.EvalDeps{
		Optimizer: &cliOptimizer{client: client, task: task},
		Jury:      j,
		Workspace: cfg.Workspace,
		ModelID:   cfg.Provider.Model,
		Listeners: listeners,
	})
	if err != nil {
		return err
	}

	result := l.Execute(ctx)
	output := ""
	if result.Best != nil {
		output = result.Best.Output
	}
	printOutcome(string(result.Reason), result.Message, output, result.Success)
	if result.Err != nil {
		return result.Err
	}
	return nil
}

func runGraph(ctx context.Context, cfg *config.Config, opts *options, client llm.Client, listeners []loop.Listener, task string) error {
	if opts.graphPath == "" {
		return fmt.Errorf("mode graph requires -graph <file>")
	}

	def, err := graph.LoadDefinition(opts.graphPath)
	if err != nil {
		return err
	}

	gen, err := loop.NewLLMGenerator(client)
	if err != nil {
		return err
	}

	// Every declared node runs a turn-limited loop over the node's input.
	handlers := make(map[string]graph.NodeFunc, len(def.Nodes))
	for _, name := range def.Nodes {
		handlers[name] = graph.TurnLoopNode(turnConfig(cfg), loop.TurnDeps{
			Generator: gen,
			Workspace: cfg.Workspace,
			ModelID:   cfg.Provider.Model,
			Listeners: listeners,
		})
	}

	g, err := def.Build(handlers)
	if err != nil {
		return err
	}

	result := g.Execute(ctx, task)
	printOutcome(string(result.Reason), result.Message, result.Output, result.Success)
	fmt.Printf("Path: %s\n", strings.Join(result.Path, " -> "))
	if result.Err != nil {
		return result.Err
	}
	return nil
}

func printOutcome(reason, message, output string, success bool) {
	status := "FAILED"
	if success {
		status = "OK"
	}
	fmt.Printf("[%s] %s", status, reason)
	if message != "" {
		fmt.Printf(": %s", message)
	}
	fmt.Println()
	if output != "" {
		fmt.Println()
		fmt.Println(output)
	}
}
