// Package watch runs the event pipeline: raw relay events in, classified and
// built notifications out through the dispatcher. It owns the pipeline
// counters and the two time-based behaviors layered on top of single-event
// notifications, zap aggregation and live-event reminders.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/groblegark/bullhorn/internal/classify"
	"github.com/groblegark/bullhorn/internal/dispatch"
	"github.com/groblegark/bullhorn/internal/notify"
)

// shutdownFlushTimeout bounds the final zap flush when the pipeline stops
// with an aggregation window open.
const shutdownFlushTimeout = 10 * time.Second

// Counters are the pipeline's monotonic event counts.
type Counters struct {
	received   atomic.Uint64
	duplicates atomic.Uint64
	ignored    atomic.Uint64
	notified   atomic.Uint64
	dropped    atomic.Uint64
}

// Snapshot returns a point-in-time copy keyed for the status endpoint.
func (c *Counters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"received":   c.received.Load(),
		"duplicates": c.duplicates.Load(),
		"ignored":    c.ignored.Load(),
		"notified":   c.notified.Load(),
		"dropped":    c.dropped.Load(),
	}
}

// Watcher consumes raw events and drives them through classification,
// building, and dispatch.
type Watcher struct {
	classifier *classify.Classifier
	builder    *notify.Builder
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	// aggregateWindow batches zap notifications; 0 dispatches each zap
	// individually. remindBefore schedules a second notification ahead of
	// an announced live event start; 0 disables reminders.
	aggregateWindow time.Duration
	remindBefore    time.Duration

	// onNotify observes every built notification after its dispatch
	// attempt, delivered or not. Used for the SSE stream.
	onNotify func(*notify.Notification)

	counters Counters
	wg       sync.WaitGroup

	zapMu        sync.Mutex
	zapPending   *notify.Notification
	zapCount     int
	zapTotalMsat uint64
}

// Options tune the pipeline's time-based behaviors.
type Options struct {
	AggregateWindow time.Duration
	RemindBefore    time.Duration
	OnNotify        func(*notify.Notification)
}

func New(classifier *classify.Classifier, builder *notify.Builder, dispatcher *dispatch.Dispatcher, opts Options, logger *slog.Logger) *Watcher {
	return &Watcher{
		classifier:      classifier,
		builder:         builder,
		dispatcher:      dispatcher,
		logger:          logger,
		aggregateWindow: opts.AggregateWindow,
		remindBefore:    opts.RemindBefore,
		onNotify:        opts.OnNotify,
	}
}

// Counters exposes the pipeline counts for the status endpoint.
func (w *Watcher) Counters() *Counters { return &w.counters }

// Run consumes events until the channel closes or ctx is cancelled. It
// returns a non-nil error only when the seen store fails; at that point the
// at-most-once guarantee is gone and the process should exit rather than
// re-notify on restart.
func (w *Watcher) Run(ctx context.Context, events <-chan *nostr.Event) error {
	defer w.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev == nil {
				continue
			}
			w.counters.received.Add(1)

			decision, kind, err := w.classifier.Classify(ctx, ev)
			if err != nil {
				return err
			}
			switch decision {
			case classify.DecisionDuplicate:
				w.counters.duplicates.Add(1)
			case classify.DecisionDrop:
				w.counters.ignored.Add(1)
			case classify.DecisionNotify:
				w.handle(ctx, ev, kind)
			}
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev *nostr.Event, kind notify.Kind) {
	n := w.builder.Build(ev, kind)

	if kind == notify.KindPaymentReceived && w.aggregateWindow > 0 {
		w.bufferZap(ctx, n)
		return
	}

	w.send(ctx, n)

	if kind == notify.KindLiveEventStarted {
		w.scheduleReminder(ctx, n)
	}
}

// send dispatches and counts one notification, then feeds observers.
func (w *Watcher) send(ctx context.Context, n *notify.Notification) {
	if w.dispatcher.Dispatch(ctx, n) {
		w.counters.notified.Add(1)
	} else {
		w.counters.dropped.Add(1)
	}
	if w.onNotify != nil {
		w.onNotify(n)
	}
}

// bufferZap accumulates zaps inside the aggregation window. The first zap
// opens the window; at expiry a single zap goes out as built (attachment
// included), several collapse into one summary.
func (w *Watcher) bufferZap(ctx context.Context, n *notify.Notification) {
	w.zapMu.Lock()
	first := w.zapCount == 0
	w.zapCount++
	w.zapTotalMsat += n.AmountMsat
	if first {
		w.zapPending = n
	}
	w.zapMu.Unlock()

	if !first {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case <-ctx.Done():
			// Shutting down with the window open; flush what we have on a
			// detached deadline so buffered zaps are not silently lost.
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownFlushTimeout)
			defer cancel()
			w.flushZaps(flushCtx)
		case <-time.After(w.aggregateWindow):
			w.flushZaps(ctx)
		}
	}()
}

func (w *Watcher) flushZaps(ctx context.Context) {
	w.zapMu.Lock()
	pending := w.zapPending
	count := w.zapCount
	total := w.zapTotalMsat
	w.zapPending = nil
	w.zapCount = 0
	w.zapTotalMsat = 0
	w.zapMu.Unlock()

	if count == 0 {
		return
	}
	if count == 1 {
		w.send(ctx, pending)
		return
	}
	w.logger.Info("aggregated zaps", "count", count, "total_msat", total)
	w.send(ctx, w.builder.ZapSummary(count, total))
}

// scheduleReminder arranges a follow-up notification shortly before an
// announced start time. Events starting sooner than the lead time need no
// reminder, the announcement itself is fresh enough.
func (w *Watcher) scheduleReminder(ctx context.Context, n *notify.Notification) {
	if w.remindBefore <= 0 || n.StartsAt.IsZero() {
		return
	}
	wait := time.Until(n.StartsAt) - w.remindBefore
	if wait <= 0 {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case <-ctx.Done():
		case <-time.After(wait):
			w.send(ctx, w.builder.Reminder(n))
		}
	}()
}
