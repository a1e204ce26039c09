package capabilities

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// HookPoint names a point in the lifecycle a shell command can run at.
type HookPoint string

const (
	HookOnBranchCreate HookPoint = "onBranchCreate"
	HookOnBeforePush   HookPoint = "onBeforePush"
	HookOnPRCreated    HookPoint = "onPRCreated"
	HookOnBeforeMerge  HookPoint = "onBeforeMerge"
	HookOnMerged       HookPoint = "onMerged"
)

// HookSpec is one configured hook: a shell command, optionally scoped
// to repos matching a glob pattern (so a monorepo hook config can target
// a subset of the configured repo list).
type HookSpec struct {
	Command string
	RepoGlob string // empty matches every repo
}

// Hooks runs configured shell commands at named lifecycle points. A
// point with no configured command is a no-op success, per the
// boundary behaviour that a step with no configured command logs and
// skips rather than erroring.
type Hooks struct {
	specs   map[HookPoint][]HookSpec
	timeout time.Duration
}

// NewHooks builds a Hooks runner. timeout bounds every hook invocation
// (config hooks.timeout, default 60s).
func NewHooks(specs map[HookPoint][]HookSpec, timeout time.Duration) *Hooks {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Hooks{specs: specs, timeout: timeout}
}

// Run executes every hook configured at point whose RepoGlob matches
// repo (or has no glob), passing runID/issueID/repo as environment
// variables. The first failing hook's error is returned; later hooks at
// the same point still run so operators see every failure in one pass.
func (h *Hooks) Run(ctx context.Context, point HookPoint, runID, issueID, repo string) error {
	specs := h.specs[point]
	if len(specs) == 0 {
		return nil
	}
	var firstErr error
	for _, spec := range specs {
		if spec.RepoGlob != "" {
			matched, err := doublestar.Match(spec.RepoGlob, repo)
			if err != nil {
				return fmt.Errorf("hooks: invalid glob %q: %w", spec.RepoGlob, err)
			}
			if !matched {
				continue
			}
		}
		if err := h.runOne(ctx, spec.Command, runID, issueID, repo); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("hook %s (%s): %w", point, spec.Command, err)
		}
	}
	return firstErr
}

func (h *Hooks) runOne(ctx context.Context, command, runID, issueID, repo string) error {
	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Env = append(cmd.Environ(),
		"WARPCODER_RUN_ID="+runID,
		"WARPCODER_ISSUE_ID="+issueID,
		"WARPCODER_REPO="+repo,
	)
	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return fmt.Errorf("timed out after %s", h.timeout)
		}
		return err
	}
	return nil
}
