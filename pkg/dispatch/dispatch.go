// Package dispatch maps a pending act to its registered executor,
// records the outcome and follow-up act the executor's result implies,
// and runs that act's side effects. It is the one component that
// touches every other package: the graph for transition rules, the
// durable client for recording, discovery's ActionableRun for the unit
// of work, the scheduler's Dispatch signature for wiring, and deploy
// for the run_deploy/await_deploy acts.
package dispatch

import (
	"context"
	"fmt"

	charmlog "github.com/charmbracelet/log"

	"github.com/warpmetrics/coder/pkg/capabilities"
	"github.com/warpmetrics/coder/pkg/deploy"
	"github.com/warpmetrics/coder/pkg/discovery"
	"github.com/warpmetrics/coder/pkg/durable"
	"github.com/warpmetrics/coder/pkg/graph"
	"github.com/warpmetrics/coder/pkg/model"
)

// DeployStep is one repo's configured deploy command and its
// dependencies, the typed form of the config file's `deploy` map.
type DeployStep struct {
	Command   string
	DependsOn []string
}

// Config is the slice of runtime configuration the dispatcher's own
// executors consult directly, decoupled from internal/config's file
// format so this package has no dependency on the config loader.
type Config struct {
	Deploy          map[string]DeployStep
	MaxRevisions    int
	MaxTurnsRetries int
	// RepoFor resolves the target repository for an issue id, the same
	// mapping the implement/merge executors close over, so a newly
	// started run's Opts carry "repo" for Run.Repo() to read back.
	RepoFor func(issueID string) string
}

// Dispatcher owns the act-name -> executor registry and the capability
// bundle every executor runs with.
type Dispatcher struct {
	Graph   *graph.Graph
	Durable durable.Client
	Config  Config
	Logger  *charmlog.Logger

	Board     capabilities.Board
	Issues    capabilities.IssueClient
	PRs       capabilities.PRClient
	Codegen   capabilities.CodegenRunner
	Notifier  capabilities.Notifier
	Workspace Workspace

	executors map[string]Executor
	effects   map[string]EffectHandler
}

// New returns a Dispatcher with empty executor and effect registries.
func New(g *graph.Graph, client durable.Client, cfg Config, logger *charmlog.Logger) *Dispatcher {
	if logger == nil {
		logger = charmlog.Default()
	}
	return &Dispatcher{
		Graph:     g,
		Durable:   client,
		Config:    cfg,
		Logger:    logger,
		executors: map[string]Executor{},
		effects:   map[string]EffectHandler{},
	}
}

// Register binds an executor implementation under the identifier named
// by a graph node's `executor` field. Several act nodes may share one
// executor identifier (e.g. two differently-gated review acts both
// running the same review logic).
func (d *Dispatcher) Register(executorID string, exec Executor) {
	d.executors[executorID] = exec
}

// RegisterEffect binds a side-effect handler to one act's result type.
func (d *Dispatcher) RegisterEffect(actName, resultType string, handler EffectHandler) {
	d.effects[actName+":"+resultType] = handler
}

// Missing returns the act nodes the graph references whose declared
// executor identifier has no registered implementation, for a
// startup-time completeness check.
func (d *Dispatcher) Missing() []string {
	var missing []string
	for name, node := range d.Graph.Nodes {
		if node.IsGroup() {
			continue
		}
		if _, ok := d.executors[node.Executor]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Dispatch runs one unit of discovery's work to completion: either
// starting a brand-new run for a synthesized "start" record, or running
// the pending act's executor and recording what it decides. It matches
// scheduler.Dispatch so it plugs directly into the worker pool.
func (d *Dispatcher) Dispatch(ctx context.Context, work discovery.ActionableRun, setStep func(string)) error {
	if work.StartAct {
		setStep("start")
		return d.dispatchStart(ctx, work)
	}
	setStep(work.Act.Name)
	return d.dispatchAct(ctx, work)
}

// dispatchStart materialises a durable run for a board item that has no
// run yet: an orphan "Started" outcome (permitted for externally
// originated events) followed by the graph's root act. There is no
// prior pending act to link as a follow-up producer here — the run
// itself is the thing being created.
func (d *Dispatcher) dispatchStart(ctx context.Context, work discovery.ActionableRun) error {
	opts := model.Opts{"issueId": work.IssueID}
	if d.Config.RepoFor != nil {
		opts["repo"] = d.Config.RepoFor(work.IssueID)
	}
	runID, err := d.Durable.StartRun(ctx, "", "Issue", opts)
	if err != nil {
		return fmt.Errorf("dispatch: start run for issue %s: %w", work.IssueID, err)
	}
	outcomeID, err := d.Durable.RecordOutcome(ctx, runID, "Started", model.Opts{})
	if err != nil {
		return fmt.Errorf("dispatch: record Started outcome for issue %s: %w", work.IssueID, err)
	}
	if _, err := d.Durable.RecordAct(ctx, outcomeID, "", d.Graph.Root, model.Opts{}); err != nil {
		return fmt.Errorf("dispatch: record root act for issue %s: %w", work.IssueID, err)
	}
	return nil
}

func (d *Dispatcher) dispatchAct(ctx context.Context, work discovery.ActionableRun) error {
	act := work.Act
	node := d.Graph.Node(act.Name)
	if node == nil {
		return fmt.Errorf("dispatch: act %q has no graph node", act.Name)
	}
	exec, ok := d.executors[node.Executor]
	if !ok {
		return fmt.Errorf("dispatch: act %q (executor %q) has no registered implementation", act.Name, node.Executor)
	}

	ectx := &Context{
		IssueID:   work.IssueID,
		Run:       work.Run,
		Board:     d.Board,
		Issues:    d.Issues,
		PRs:       d.PRs,
		Codegen:   d.Codegen,
		Notifier:  d.Notifier,
		Durable:   d.Durable,
		Workspace: d.Workspace,
		Logger:    d.Logger.With("issue", work.IssueID, "act", act.Name),
		ActOpts:   act.Opts,
	}

	if act.Name == "run_deploy" || act.Name == "await_deploy" {
		batch, err := d.resolveDeployBatch(ctx, work.Run)
		if err != nil {
			return err
		}
		ectx.DeployBatch = batch
	}

	result := d.runExecutor(exec, ctx, ectx)

	// "waiting" is not a graph-level result: an act gated on an external
	// observation (await_reply, await_deploy, await_review) that isn't
	// satisfied yet records nothing and simply stays pending, so the next
	// poll tick re-dispatches the same act.
	if result.Type == "waiting" {
		d.runEffect(ctx, act.Name, result, work.Run, ectx)
		return nil
	}

	edges := node.Results[result.Type]
	if len(edges) == 0 {
		return fmt.Errorf("dispatch: act %q result type %q has no outcome edges", act.Name, result.Type)
	}

	for _, edge := range edges {
		container, err := d.resolveContainer(ctx, work.Run, edge.In)
		if err != nil {
			return fmt.Errorf("dispatch: resolve container for act %q outcome %q: %w", act.Name, edge.Outcome, err)
		}
		outcomeID, err := d.Durable.RecordOutcome(ctx, container.ContainerID(), edge.Outcome, result.OutcomeOpts)
		if err != nil {
			return fmt.Errorf("dispatch: record outcome %q: %w", edge.Outcome, err)
		}

		if edge.Next == "" {
			continue
		}
		if _, err := d.Durable.RecordAct(ctx, outcomeID, "", edge.Next, result.NextActOpts); err != nil {
			return fmt.Errorf("dispatch: record act %q: %w", edge.Next, err)
		}
		if err := d.Durable.RecordFollowup(ctx, act.ID, runIDFor(container, work.Run)); err != nil {
			return fmt.Errorf("dispatch: record followup for act %s: %w", act.ID, err)
		}
	}

	if act.Name == "run_deploy" && result.Type == "success" && ectx.DeployBatch != nil {
		if err := d.propagateDeployOutcome(ctx, work.Run, ectx.DeployBatch, edges, result.OutcomeOpts); err != nil {
			return err
		}
	}

	d.runEffect(ctx, act.Name, result, work.Run, ectx)
	return nil
}

// propagateDeployOutcome replays run_deploy's success edges on every
// other run folded into the same deploy batch, so a merged deploy that
// was only dispatched against the trigger still emits DEPLOYED (and
// the follow-up release act) on every batched issue, not just the one
// that happened to carry the pending run_deploy act.
func (d *Dispatcher) propagateDeployOutcome(ctx context.Context, trigger *model.Run, batch *deploy.Batch, edges []graph.OutcomeEdge, opts model.Opts) error {
	for _, run := range batch.Issues {
		if run.IssueID() == trigger.IssueID() {
			continue
		}
		act, _, ok := run.PendingAct()
		if !ok {
			continue
		}
		for _, edge := range edges {
			container, err := d.resolveContainer(ctx, run, edge.In)
			if err != nil {
				return fmt.Errorf("dispatch: resolve container for batched run %s outcome %q: %w", run.IssueID(), edge.Outcome, err)
			}
			outcomeID, err := d.Durable.RecordOutcome(ctx, container.ContainerID(), edge.Outcome, opts)
			if err != nil {
				return fmt.Errorf("dispatch: record batched outcome %q for run %s: %w", edge.Outcome, run.IssueID(), err)
			}
			if edge.Next == "" {
				continue
			}
			if _, err := d.Durable.RecordAct(ctx, outcomeID, "", edge.Next, opts); err != nil {
				return fmt.Errorf("dispatch: record batched act %q for run %s: %w", edge.Next, run.IssueID(), err)
			}
			if err := d.Durable.RecordFollowup(ctx, act.ID, runIDFor(container, run)); err != nil {
				return fmt.Errorf("dispatch: record followup for batched act %s: %w", act.ID, err)
			}
		}
	}
	return nil
}

// runExecutor recovers from an executor panic and converts it into the
// same error shape a well-behaved executor would return, so one
// misbehaving act never crashes the worker pool.
func (d *Dispatcher) runExecutor(exec Executor, ctx context.Context, ectx *Context) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			d.Logger.Error("executor panicked", "issue", ectx.IssueID, "panic", r)
			result = Result{Type: "error", OutcomeOpts: model.Opts{"error": fmt.Sprintf("panic: %v", r)}}
		}
	}()
	return exec(ctx, ectx)
}

func (d *Dispatcher) runEffect(ctx context.Context, actName string, result Result, run *model.Run, ectx *Context) {
	handler, ok := d.effects[actName+":"+result.Type]
	if !ok {
		return
	}
	if err := handler(ctx, run, result, ectx); err != nil {
		d.Logger.Error("effect handler failed", "act", actName, "result", result.Type, "error", err)
	}
}

// resolveContainer maps a graph edge's `in` group-node name to the
// run's live group, creating it on first use. An empty groupNodeName
// means the outcome attaches to the run itself.
func (d *Dispatcher) resolveContainer(ctx context.Context, run *model.Run, groupNodeName string) (model.Container, error) {
	if groupNodeName == "" {
		return run, nil
	}
	node := d.Graph.Node(groupNodeName)
	if node == nil {
		return nil, fmt.Errorf("unknown group node %q", groupNodeName)
	}
	if existing := run.GroupByLabel(node.Label); existing != nil {
		return existing, nil
	}
	groupID, err := d.Durable.CreateGroup(ctx, run.ID, node.Label, model.Opts{})
	if err != nil {
		return nil, fmt.Errorf("create group %s: %w", node.Label, err)
	}
	group := &model.PhaseGroup{ID: groupID, RunID: run.ID, Label: node.Label}
	run.Groups = append(run.Groups, group)
	return group, nil
}

func runIDFor(c model.Container, run *model.Run) string {
	if group, ok := c.(*model.PhaseGroup); ok {
		return group.RunID
	}
	return run.ID
}

// resolveDeployBatch finds every other open run whose pending act is
// run_deploy or await_deploy and hands them to deploy.BatchFor along
// with the triggering run.
func (d *Dispatcher) resolveDeployBatch(ctx context.Context, trigger *model.Run) (*deploy.Batch, error) {
	runs, err := d.Durable.FindOpenIssueRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list open runs for deploy batch: %w", err)
	}
	var awaiting []*model.Run
	for _, r := range runs {
		if r.IssueID() == trigger.IssueID() {
			continue
		}
		act, _, ok := r.PendingAct()
		if !ok {
			continue
		}
		if act.Name == "await_deploy" || act.Name == "run_deploy" {
			awaiting = append(awaiting, r)
		}
	}
	return deploy.BatchFor(trigger, awaiting), nil
}
