package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/warpmetrics/coder/internal/config"
	"github.com/warpmetrics/coder/internal/lifecycle"
	"github.com/warpmetrics/coder/internal/workspace"
	"github.com/warpmetrics/coder/pkg/capabilities"
	"github.com/warpmetrics/coder/pkg/discovery"
	"github.com/warpmetrics/coder/pkg/dispatch"
	"github.com/warpmetrics/coder/pkg/durable"
	"github.com/warpmetrics/coder/pkg/graph"
	"github.com/warpmetrics/coder/pkg/httpapi"
	"github.com/warpmetrics/coder/pkg/memory"
	"github.com/warpmetrics/coder/pkg/model"
	"github.com/warpmetrics/coder/pkg/scheduler"
	"github.com/warpmetrics/coder/pkg/telemetry"
)

// combineEffects runs every handler in order, continuing past a failing
// one (an effect must be safe to skip) and returning the first error.
func combineEffects(handlers ...dispatch.EffectHandler) dispatch.EffectHandler {
	return func(ctx context.Context, run *model.Run, result dispatch.Result, ectx *dispatch.Context) error {
		var firstErr error
		for _, h := range handlers {
			if err := h(ctx, run, result, ectx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
}

// reflectOnTerminal enqueues the run for memory reflection once its
// outcome has been durably recorded. Enqueue is a no-op when the
// reflector has no provider (memory.enabled = false).
func reflectOnTerminal(reflector *memory.Reflector) dispatch.EffectHandler {
	return func(ctx context.Context, run *model.Run, result dispatch.Result, ectx *dispatch.Context) error {
		reflector.Enqueue(memory.Request{Run: run})
		return nil
	}
}

func newRunCmd() *cobra.Command {
	var addr string
	var jsonLogs bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the supervisor: poll the board and dispatch acts until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervisor(cmd.Context(), addr, jsonLogs)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address for the /healthz and /metrics endpoints")
	cmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "emit telemetry events as JSON lines instead of text")
	return cmd
}

func runSupervisor(ctx context.Context, addr string, jsonLogs bool) error {
	logger := newLogger()

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	doc, err := lifecycle.Load(flagLifecyclePath)
	if err != nil {
		return fmt.Errorf("load lifecycle document: %w", err)
	}
	g, err := graph.Compile(doc, "implement")
	if err != nil {
		return fmt.Errorf("compile lifecycle graph: %w", err)
	}

	client, err := newDurableClient(cfg)
	if err != nil {
		return fmt.Errorf("build durable client: %w", err)
	}

	repoFor := cfg.RepoForIssue
	reposFor := cfg.ReposForIssue

	board, issues, prs, notifier, err := newCollaborators(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build collaborators: %w", err)
	}

	codegen := &capabilities.SubprocessRunner{
		Command: func(req capabilities.RunRequest) []string {
			argv := []string{"warp-codegen", "--prompt", req.Prompt}
			if req.Resume != "" {
				argv = append(argv, "--resume", req.Resume)
			}
			return argv
		},
	}

	hookSpecs := buildHookSpecs(cfg)
	hooks := capabilities.NewHooks(hookSpecs, time.Duration(cfg.Hooks.Timeout)*time.Second)
	shell := capabilities.NewShellRunner(10 * time.Minute)

	ws, err := workspace.New("")
	if err != nil {
		return fmt.Errorf("build workspace manager: %w", err)
	}

	dispatchCfg := dispatch.Config{
		Deploy:          buildDeployConfig(cfg),
		MaxRevisions:    cfg.MaxRevisions,
		MaxTurnsRetries: cfg.MaxTurnsRetries,
		RepoFor:         repoFor,
	}
	d := dispatch.New(g, client, dispatchCfg, logger)
	d.Board = board
	d.Issues = issues
	d.PRs = prs
	d.Codegen = codegen
	d.Notifier = notifier
	d.Workspace = ws

	replyGate := discovery.NewReplyGate(issues)
	deployGate := discovery.NewDeployColumnGate(board, "deploy")

	d.Register("implement_exec", dispatch.NewImplementExecutor(repoFor, hooks, cfg.MaxTurnsRetries))
	d.Register("await_reply_exec", dispatch.NewAwaitReplyExecutor(replyGate, issues))
	d.Register("await_review_exec", dispatch.NewAwaitReviewExecutor())
	d.Register("revise_exec", dispatch.NewReviseExecutor(client, cfg.MaxRevisions))
	d.Register("merge_exec", dispatch.NewMergeExecutor(hooks, reposFor))
	d.Register("await_deploy_exec", dispatch.NewAwaitDeployExecutor(deployGate))
	d.Register("run_deploy_exec", dispatch.NewRunDeployExecutor(dispatchCfg, shell))
	d.Register("release_exec", dispatch.NewReleaseExecutor(notifier))

	reflector := buildReflector(cfg)
	defer reflector.Close()

	d.RegisterEffect("implement", "error", combineEffects(dispatch.NewErrorCommentEffect(notifier), reflectOnTerminal(reflector)))
	d.RegisterEffect("implement", "ask_user", dispatch.NewAskUserCommentEffect(notifier))
	d.RegisterEffect("await_reply", "error", combineEffects(dispatch.NewErrorCommentEffect(notifier), reflectOnTerminal(reflector)))
	d.RegisterEffect("await_review", "error", combineEffects(dispatch.NewErrorCommentEffect(notifier), reflectOnTerminal(reflector)))
	d.RegisterEffect("revise", "error", combineEffects(dispatch.NewErrorCommentEffect(notifier), reflectOnTerminal(reflector)))
	d.RegisterEffect("revise", "max_retries", combineEffects(dispatch.NewMaxRetriesCommentEffect(notifier), reflectOnTerminal(reflector)))
	d.RegisterEffect("merge", "error", combineEffects(dispatch.NewErrorCommentEffect(notifier), reflectOnTerminal(reflector)))
	d.RegisterEffect("await_deploy", "error", combineEffects(dispatch.NewErrorCommentEffect(notifier), reflectOnTerminal(reflector)))
	d.RegisterEffect("run_deploy", "error", combineEffects(dispatch.NewErrorCommentEffect(notifier), reflectOnTerminal(reflector)))
	d.RegisterEffect("release", "error", combineEffects(dispatch.NewErrorCommentEffect(notifier), reflectOnTerminal(reflector)))
	d.RegisterEffect("release", "success", reflectOnTerminal(reflector))

	if missing := d.Missing(); len(missing) > 0 {
		return fmt.Errorf("dispatcher: acts with no registered executor: %v", missing)
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	var emitter telemetry.Emitter = telemetry.NewLogEmitter(os.Stdout, jsonLogs)

	reconciler := discovery.New(client, board, g, "todo")
	sched := scheduler.New(reconciler, d.Dispatch, emitter, metrics, cfg.Concurrency, time.Duration(cfg.PollInterval)*time.Second)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthy := func() bool { return true }
	router := httpapi.NewRouter(reg, healthy)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpapi.Serve(ctx, addr, router)
	}()

	logger.Info("supervisor started", "addr", addr, "concurrency", cfg.Concurrency)
	if err := sched.Run(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func newDurableClient(cfg *config.Config) (durable.Client, error) {
	switch cfg.DurableBackend() {
	case "http":
		return durable.NewHTTPClient(cfg.Durable.BaseURL, cfg.WarpmetricsAPIKey), nil
	case "sqlite":
		return durable.NewSQLiteClient(cfg.Durable.DSN)
	case "mysql":
		return durable.NewMySQLClient(cfg.Durable.DSN)
	default:
		return durable.NewMemoryClient(), nil
	}
}

func newCollaborators(ctx context.Context, cfg *config.Config) (capabilities.Board, capabilities.IssueClient, capabilities.PRClient, capabilities.Notifier, error) {
	owner, repo, err := splitRepo(cfg.PrimaryRepo())
	if err != nil {
		return nil, nil, nil, nil, err
	}

	var board capabilities.Board
	var issues capabilities.IssueClient
	var prs capabilities.PRClient

	switch cfg.Codehost.Provider {
	case "github":
		adapter, err := capabilities.NewGitHubAdapter(ctx, capabilities.GitHubConfig{
			Token: os.Getenv("GITHUB_TOKEN"),
		}, owner, repo, cfg.Board.Columns)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("github adapter: %w", err)
		}
		board, issues, prs = adapter, adapter, adapter
	case "gitlab":
		adapter, err := capabilities.NewGitLabAdapter(capabilities.GitLabConfig{
			Token: os.Getenv("GITLAB_TOKEN"),
		}, cfg.PrimaryRepo(), cfg.Board.Columns)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("gitlab adapter: %w", err)
		}
		board, issues, prs = adapter, adapter, adapter
	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown codehost provider %q", cfg.Codehost.Provider)
	}

	board = capabilities.NewBreakerBoard(board, "board")

	var notifier capabilities.Notifier = issueNotifier{issues: issues}
	if token := os.Getenv("SLACK_TOKEN"); token != "" {
		if channel := os.Getenv("SLACK_CHANNEL"); channel != "" {
			notifier = capabilities.NewSlackNotifier(token, channel)
		}
	}
	notifier = capabilities.NewBreakerNotifier(notifier, "notifier")

	return board, issues, prs, notifier, nil
}

// issueNotifier posts comments straight onto the issue, the default
// notification channel unless both SLACK_TOKEN and SLACK_CHANNEL are set.
type issueNotifier struct {
	issues capabilities.IssueClient
}

func (n issueNotifier) Comment(ctx context.Context, issueID string, body string, _, _ string) error {
	return n.issues.CommentOnIssue(ctx, issueID, body)
}

func splitRepo(fullRepo string) (owner, repo string, err error) {
	for i := len(fullRepo) - 1; i >= 0; i-- {
		if fullRepo[i] == '/' {
			return fullRepo[:i], fullRepo[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("repo %q is not of the form owner/name", fullRepo)
}

func buildDeployConfig(cfg *config.Config) map[string]dispatch.DeployStep {
	steps := make(map[string]dispatch.DeployStep, len(cfg.Deploy))
	for repo, step := range cfg.Deploy {
		steps[repo] = dispatch.DeployStep{Command: step.Command, DependsOn: step.DependsOn}
	}
	return steps
}

func buildHookSpecs(cfg *config.Config) map[capabilities.HookPoint][]capabilities.HookSpec {
	add := func(specs map[capabilities.HookPoint][]capabilities.HookSpec, point capabilities.HookPoint, command string) {
		if command == "" {
			return
		}
		specs[point] = append(specs[point], capabilities.HookSpec{Command: command})
	}
	specs := map[capabilities.HookPoint][]capabilities.HookSpec{}
	add(specs, capabilities.HookOnBranchCreate, cfg.Hooks.OnBranchCreate)
	add(specs, capabilities.HookOnBeforePush, cfg.Hooks.OnBeforePush)
	add(specs, capabilities.HookOnPRCreated, cfg.Hooks.OnPRCreated)
	add(specs, capabilities.HookOnBeforeMerge, cfg.Hooks.OnBeforeMerge)
	add(specs, capabilities.HookOnMerged, cfg.Hooks.OnMerged)
	return specs
}

// buildReflector constructs the memory reflector from config, returning
// a no-op Reflector (Enqueue is a no-op, Close returns immediately) when
// memory.enabled is false or no provider could be built.
func buildReflector(cfg *config.Config) *memory.Reflector {
	if !cfg.Memory.Enabled {
		return memory.New(nil, "", 0)
	}
	path := cfg.Memory.Path
	if path == "" {
		path = "warpcoder-memory.md"
	}
	provider, err := newReflectionProvider(cfg.Memory)
	if err != nil {
		return memory.New(nil, "", 0)
	}
	return memory.New(provider, path, cfg.Memory.MaxLines)
}

func newReflectionProvider(cfg config.Memory) (memory.ReflectionProvider, error) {
	switch cfg.Provider {
	case "openai":
		return memory.NewOpenAIProvider(cfg.APIKey, cfg.Model), nil
	case "google":
		return memory.NewGoogleProvider(context.Background(), cfg.APIKey, cfg.Model)
	case "anthropic", "":
		return memory.NewAnthropicProvider(cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown memory provider %q", cfg.Provider)
	}
}
