package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/warpmetrics/coder/pkg/model"
)

// Request is one terminal run queued for reflection.
type Request struct {
	Run *model.Run
}

// Reflector is the installation's single process-wide memory writer: one
// goroutine consumes a channel of terminal-run Requests, so the memory
// document is never written by two goroutines at once even though many
// workers finish runs concurrently.
type Reflector struct {
	provider ReflectionProvider
	path     string
	maxLines int

	queue chan Request
	done  chan struct{}

	mu sync.Mutex // guards file writes triggered by Flush/Close races
}

// New returns a Reflector. provider may be nil, in which case Enqueue is
// a no-op (memory.enabled = false).
func New(provider ReflectionProvider, path string, maxLines int) *Reflector {
	r := &Reflector{
		provider: provider,
		path:     path,
		maxLines: maxLines,
		queue:    make(chan Request, 64),
		done:     make(chan struct{}),
	}
	if provider != nil {
		go r.loop()
	} else {
		close(r.done)
	}
	return r
}

// Enqueue submits a terminal run for reflection. Never blocks the caller
// on the LLM call itself; it only blocks if the queue is full, which
// back-pressures a runaway producer rather than silently dropping runs.
func (r *Reflector) Enqueue(req Request) {
	if r.provider == nil {
		return
	}
	r.queue <- req
}

// Close stops accepting new requests and waits for the queue to drain.
func (r *Reflector) Close() {
	if r.provider == nil {
		return
	}
	close(r.queue)
	<-r.done
}

func (r *Reflector) loop() {
	defer close(r.done)
	for req := range r.queue {
		if err := r.reflect(context.Background(), req); err != nil {
			log.Error("memory reflection failed", "run", req.Run.ID, "err", err)
		}
	}
}

func (r *Reflector) reflect(ctx context.Context, req Request) error {
	prompt := buildPrompt(req.Run)
	summary, err := r.provider.Summarize(ctx, prompt)
	if err != nil {
		return fmt.Errorf("summarize run %s: %w", req.Run.ID, err)
	}
	return r.appendAndTrim(req.Run.ID, summary)
}

func (r *Reflector) appendAndTrim(runID, summary string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open memory file: %w", err)
	}
	entry := fmt.Sprintf("## run %s\n%s\n\n", runID, strings.TrimSpace(summary))
	if _, err := f.WriteString(entry); err != nil {
		f.Close()
		return fmt.Errorf("write memory file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close memory file: %w", err)
	}
	return r.trimToMaxLines()
}

// trimToMaxLines keeps only the last maxLines lines of the memory
// document, dropping the oldest entries first. A non-positive maxLines
// disables trimming.
func (r *Reflector) trimToMaxLines() error {
	if r.maxLines <= 0 {
		return nil
	}
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open memory file: %w", err)
	}
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan memory file: %w", err)
	}
	if len(lines) <= r.maxLines {
		return nil
	}
	lines = lines[len(lines)-r.maxLines:]
	return os.WriteFile(r.path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

func buildPrompt(run *model.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize this issue run's outcome history in 3-5 sentences for a future operator's reference. Issue: %s\n\n", run.IssueID())
	for _, o := range run.Outcomes {
		fmt.Fprintf(&b, "- %s\n", o.Name)
	}
	for _, g := range run.Groups {
		fmt.Fprintf(&b, "group %s:\n", g.Label)
		for _, o := range g.Outcomes {
			fmt.Fprintf(&b, "  - %s\n", o.Name)
		}
	}
	return b.String()
}
