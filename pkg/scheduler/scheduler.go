// Package scheduler owns the bounded worker pool that turns actionable
// runs into dispatched work: one poll tick's discovery output, filtered
// to issues not already in flight, claimed onto free worker slots, and
// drained in full on shutdown.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/warpmetrics/coder/pkg/discovery"
	"github.com/warpmetrics/coder/pkg/telemetry"
)

// Dispatch runs one actionable run to completion and reports the step
// name it is currently on via the setStep callback, so the scheduler can
// keep the status table current without the dispatcher importing this
// package.
type Dispatch func(ctx context.Context, work discovery.ActionableRun, setStep func(string)) error

// Scheduler owns the poll loop: invoke discovery, claim free slots for
// issues not already in flight, dispatch a worker per claimed run, and
// on shutdown stop claiming new work but let in-flight workers run to
// completion with no deadline — an act that records an outcome partway
// through a shutdown must still finish recording it.
type Scheduler struct {
	reconciler *discovery.Reconciler
	dispatch   Dispatch
	emitter    telemetry.Emitter
	metrics    *telemetry.Metrics
	poll       time.Duration

	sem    *semaphore.Weighted
	status *StatusTable

	mu       sync.Mutex
	inFlight map[string]bool
	wg       sync.WaitGroup
}

// New returns a Scheduler with the given concurrency bound and poll
// interval.
func New(reconciler *discovery.Reconciler, dispatch Dispatch, emitter telemetry.Emitter, metrics *telemetry.Metrics, concurrency int, poll time.Duration) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		reconciler: reconciler,
		dispatch:   dispatch,
		emitter:    emitter,
		metrics:    metrics,
		poll:       poll,
		sem:        semaphore.NewWeighted(int64(concurrency)),
		status:     newStatusTable(),
		inFlight:   map[string]bool{},
	}
}

// Run drives the poll loop until ctx is cancelled. On cancellation it
// stops dispatching new work immediately and blocks until every
// in-flight worker has recorded its outcome and returned.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.emitter.Emit(telemetry.Event{Msg: "poll_tick_error", Meta: map[string]any{"error": err.Error()}})
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	start := time.Now()
	work, err := s.reconciler.Tick(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: discovery tick: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ObservePollTick(time.Since(start).Seconds())
		s.metrics.SetQueueDepth(len(work))
	}

	for _, item := range work {
		if ctx.Err() != nil {
			return nil
		}
		if !s.claim(item.IssueID) {
			continue
		}
		if !s.sem.TryAcquire(1) {
			s.release(item.IssueID)
			continue
		}
		s.wg.Add(1)
		if s.metrics != nil {
			s.metrics.ActStarted()
		}
		go s.runWorker(ctx, item)
	}
	return nil
}

func (s *Scheduler) runWorker(ctx context.Context, item discovery.ActionableRun) {
	defer s.wg.Done()
	defer s.sem.Release(1)
	defer s.release(item.IssueID)
	if s.metrics != nil {
		defer s.metrics.ActFinished()
	}

	start := time.Now()
	setStep := func(step string) {
		s.mu.Lock()
		s.status.set(item.IssueID, step)
		s.mu.Unlock()
	}
	setStep("dispatch")

	err := s.dispatch(ctx, item, setStep)

	s.mu.Lock()
	s.status.remove(item.IssueID)
	s.mu.Unlock()

	result := "ok"
	if err != nil {
		result = "error"
		s.emitter.Emit(telemetry.Event{IssueID: item.IssueID, Msg: "dispatch_error", Meta: map[string]any{"error": err.Error()}})
	}
	if s.metrics != nil {
		s.metrics.ObserveAct(actName(item), result, time.Since(start).Seconds())
	}
}

func actName(item discovery.ActionableRun) string {
	if item.StartAct {
		return "start"
	}
	if item.Act != nil {
		return item.Act.Name
	}
	return "unknown"
}

func (s *Scheduler) claim(issueID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[issueID] {
		return false
	}
	s.inFlight[issueID] = true
	return true
}

func (s *Scheduler) release(issueID string) {
	s.mu.Lock()
	delete(s.inFlight, issueID)
	s.mu.Unlock()
}

// RenderStatus writes the current in-flight status table to w.
func (s *Scheduler) RenderStatus(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Render(w)
}
