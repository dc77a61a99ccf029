// Package dispatch delivers built notifications to configured sinks with
// bounded retry. Delivery is at-most-once from the pipeline's point of view:
// the event is marked seen before dispatch, so a notification that exhausts
// its attempts is dropped, never replayed.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/groblegark/bullhorn/internal/notify"
)

// Sink delivers a notification to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, n *notify.Notification) error
}

const (
	defaultAttempts = 3
	defaultBackoff  = 2 * time.Second
	maxBackoff      = 30 * time.Second
)

// Dispatcher fans a notification out to every sink, retrying each sink
// independently up to the attempt ceiling.
type Dispatcher struct {
	sinks    []Sink
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// New builds a dispatcher. attempts <= 0 and backoff <= 0 fall back to the
// defaults (3 attempts, 2s initial backoff).
func New(sinks []Sink, attempts int, backoff time.Duration, logger *slog.Logger) *Dispatcher {
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Dispatcher{sinks: sinks, attempts: attempts, backoff: backoff, logger: logger}
}

// Dispatch sends n to every sink concurrently and blocks until each has
// either succeeded or exhausted its attempts. It reports whether at least one
// sink accepted the notification.
func (d *Dispatcher) Dispatch(ctx context.Context, n *notify.Notification) bool {
	if len(d.sinks) == 0 {
		return false
	}
	correlation := uuid.NewString()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered bool
	)
	for _, s := range d.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if d.deliver(ctx, s, n, correlation) {
				mu.Lock()
				delivered = true
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return delivered
}

func (d *Dispatcher) deliver(ctx context.Context, s Sink, n *notify.Notification, correlation string) bool {
	backoff := d.backoff
	for attempt := 1; attempt <= d.attempts; attempt++ {
		err := s.Send(ctx, n)
		if err == nil {
			d.logger.Info("notification delivered",
				"sink", s.Name(), "notification", n.ID, "kind", n.Kind,
				"correlation", correlation, "attempt", attempt)
			return true
		}
		if ctx.Err() != nil {
			d.logger.Warn("notification abandoned on shutdown",
				"sink", s.Name(), "notification", n.ID, "correlation", correlation)
			return false
		}
		if attempt == d.attempts {
			d.logger.Error("notification dropped after retries",
				"sink", s.Name(), "notification", n.ID, "kind", n.Kind,
				"correlation", correlation, "attempts", attempt, "error", err)
			return false
		}
		d.logger.Warn("notification delivery failed",
			"sink", s.Name(), "notification", n.ID,
			"correlation", correlation, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return false
}
