package capabilities

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// NewBreaker returns a circuit breaker named after the collaborator it
// guards, tripping after 5 consecutive failures and probing again after
// 30 seconds. Wrapping collaborator calls this way turns a sustained
// outage into fast "error" results instead of workers hanging on
// repeated timeouts.
func NewBreaker[T any](name string) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// BreakerBoard wraps a Board so that a failing board adapter degrades
// to fast errors rather than blocking discovery indefinitely.
type BreakerBoard struct {
	inner Board
	list  *gobreaker.CircuitBreaker[[]Item]
	move  *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerBoard wraps inner with a circuit breaker named for logging.
func NewBreakerBoard(inner Board, name string) *BreakerBoard {
	return &BreakerBoard{inner: inner, list: NewBreaker[[]Item](name + ".list"), move: NewBreaker[struct{}](name + ".move")}
}

func (b *BreakerBoard) ListColumn(ctx context.Context, name string) ([]Item, error) {
	items, err := b.list.Execute(func() ([]Item, error) { return b.inner.ListColumn(ctx, name) })
	if err != nil {
		return nil, fmt.Errorf("breaker board: list column %s: %w", name, err)
	}
	return items, nil
}

func (b *BreakerBoard) MoveTo(ctx context.Context, item Item, columnKey string) error {
	_, err := b.move.Execute(func() (struct{}, error) {
		return struct{}{}, b.inner.MoveTo(ctx, item, columnKey)
	})
	if err != nil {
		return fmt.Errorf("breaker board: move %s to %s: %w", item.ID, columnKey, err)
	}
	return nil
}

// BreakerNotifier wraps a Notifier; notification failures never block
// the act they are an effect of, but repeated outages fail fast.
type BreakerNotifier struct {
	inner Notifier
	cb    *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerNotifier wraps inner with a circuit breaker named for logging.
func NewBreakerNotifier(inner Notifier, name string) *BreakerNotifier {
	return &BreakerNotifier{inner: inner, cb: NewBreaker[struct{}](name)}
}

func (b *BreakerNotifier) Comment(ctx context.Context, issueID, body, runID, title string) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.inner.Comment(ctx, issueID, body, runID, title)
	})
	if err != nil {
		return fmt.Errorf("breaker notifier: comment on %s: %w", issueID, err)
	}
	return nil
}
