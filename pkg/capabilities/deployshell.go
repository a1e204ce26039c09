package capabilities

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// ShellRunner runs a repo's configured deploy command as a subprocess,
// the same bounded-timeout shell-out Hooks uses for lifecycle hooks.
type ShellRunner struct {
	timeout time.Duration
}

// NewShellRunner returns a ShellRunner. timeout bounds each deploy
// command (default 10 minutes).
func NewShellRunner(timeout time.Duration) *ShellRunner {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &ShellRunner{timeout: timeout}
}

// Deploy runs command in a shell with repo available as an environment
// variable, bounded by s's configured timeout.
func (s *ShellRunner) Deploy(ctx context.Context, repo, command string) error {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Env = append(cmd.Environ(), "WARPCODER_DEPLOY_REPO="+repo)
	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return fmt.Errorf("deploy %s: timed out after %s", repo, s.timeout)
		}
		return fmt.Errorf("deploy %s: %w", repo, err)
	}
	return nil
}
