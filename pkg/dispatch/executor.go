package dispatch

import (
	"context"

	charmlog "github.com/charmbracelet/log"

	"github.com/warpmetrics/coder/pkg/capabilities"
	"github.com/warpmetrics/coder/pkg/deploy"
	"github.com/warpmetrics/coder/pkg/durable"
	"github.com/warpmetrics/coder/pkg/model"
)

// Result is what an executor hands back to the Dispatcher: a result
// type drawn from that executor's own fixed vocabulary, the options to
// attach to the outcome the graph records for that type, and the
// options to forward into whatever act follows.
type Result struct {
	Type        string
	OutcomeOpts model.Opts
	NextActOpts model.Opts
}

// Workspace hands an executor a local checkout directory for an issue.
// The concrete implementation lives in internal/workspace; executors
// only see this narrow interface.
type Workspace interface {
	Dir(issueID string) (string, error)
}

// Context is the capability bundle an executor runs with: everything
// the act might need to do its work, plus the pending act's own
// options.
type Context struct {
	IssueID string
	Run     *model.Run

	Board     capabilities.Board
	Issues    capabilities.IssueClient
	PRs       capabilities.PRClient
	Codegen   capabilities.CodegenRunner
	Notifier  capabilities.Notifier
	Durable   durable.Client
	Workspace Workspace
	Logger    *charmlog.Logger

	ActOpts     model.Opts
	DeployBatch *deploy.Batch
}

// Executor runs one act to completion and reports what happened. It
// must never panic across the Dispatcher boundary; the Dispatcher
// recovers defensively, but a well-behaved executor converts its own
// errors into a Result{Type: "error"}.
type Executor func(ctx context.Context, ectx *Context) Result

// EffectHandler runs after an executor's result has been durably
// recorded as an outcome. Its errors are logged and swallowed — an
// effect must be safe to skip or repeat, never a source of truth.
type EffectHandler func(ctx context.Context, run *model.Run, result Result, ectx *Context) error
