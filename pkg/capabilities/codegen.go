package capabilities

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/tidwall/gjson"
)

// SubprocessRunner wraps an external code-generation CLI, invoked once
// per act, streaming a JSON-lines event protocol on stdout: each line
// is one event of kind "assistant", "tool_use", or "result". Only the
// terminal "result" line is consumed for RunResult; earlier lines are
// available to a progress callback for status-line updates.
type SubprocessRunner struct {
	// Command builds the argv for one invocation, given the request.
	Command func(req RunRequest) []string
	// OnEvent, if set, is called for every decoded line before the
	// terminal result (e.g. to update the scheduler's status table).
	OnEvent func(kind string, line gjson.Result)
}

func (s *SubprocessRunner) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	timeout := time.Duration(req.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := s.Command(req)
	if len(argv) == 0 {
		return RunResult{}, fmt.Errorf("codegen runner: empty command")
	}
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = req.Workdir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return RunResult{}, fmt.Errorf("codegen runner: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return RunResult{}, fmt.Errorf("codegen runner: start: %w", err)
	}

	var result RunResult
	var sawResult bool
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !gjson.ValidBytes(line) {
			continue
		}
		parsed := gjson.ParseBytes(line)
		kind := parsed.Get("type").String()
		if s.OnEvent != nil {
			s.OnEvent(kind, parsed)
		}
		if kind == "result" {
			sawResult = true
			result = RunResult{
				Result:    parsed.Get("result").String(),
				SessionID: parsed.Get("session_id").String(),
				CostUSD:   parsed.Get("cost_usd").Float(),
				Subtype:   parsed.Get("subtype").String(),
				NumTurns:  int(parsed.Get("num_turns").Int()),
			}
		}
	}

	waitErr := cmd.Wait()
	if runCtx.Err() != nil {
		return RunResult{}, fmt.Errorf("codegen runner: timed out after %s", timeout)
	}
	if waitErr != nil {
		return RunResult{}, fmt.Errorf("codegen runner: subprocess failed: %w", waitErr)
	}
	if !sawResult {
		return RunResult{}, fmt.Errorf("codegen runner: subprocess exited without a result event")
	}
	return result, nil
}
