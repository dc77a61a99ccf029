package watch

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/groblegark/bullhorn/internal/classify"
	"github.com/groblegark/bullhorn/internal/dispatch"
	"github.com/groblegark/bullhorn/internal/notify"
	"github.com/groblegark/bullhorn/internal/seen"
)

const (
	primary = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"
	other   = "82341f882b6eabcd2ba7f1ef90aad961cf074af15b9ef44a09f9d2a8fbfbe6a2"

	// 2500u invoice from the BOLT11 test vectors, 250000 sats.
	coffeeBolt11 = "lnbc2500u1pvjluezsp5zyg3zyg3zyg3zyg3zyg3zyg3zyg3zyg3zyg3zyg3zyg3zyg3zygspp5qqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqypqdq5xysxxatsyp3k7enxv4jsxqzpu9qrsgquk0rl77nj30yxdy8j9vdx85fkpmdla2087ne0xh8nhedh8w27kyke0lp53ut353s06fv3qfegext0eh0ymjpf39tuven09sam30g4vgpfna3rh"
)

func eventID(prefix byte) string {
	id := make([]byte, 64)
	for i := range id {
		id[i] = 'a'
	}
	id[0] = prefix
	return string(id)
}

type captureSink struct {
	mu   sync.Mutex
	sent []*notify.Notification
	errs int
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Send(_ context.Context, n *notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs > 0 {
		s.errs--
		return errors.New("sink down")
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *captureSink) notifications() []*notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*notify.Notification, len(s.sent))
	copy(out, s.sent)
	return out
}

func newTestWatcher(t *testing.T, store seen.Store, sink dispatch.Sink, opts Options) *Watcher {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	classifier := classify.New(store, primary, []string{other}, classify.ZapMatchPTag, logger)
	builder := notify.NewBuilder(logger)
	dispatcher := dispatch.New([]dispatch.Sink{sink}, 3, time.Millisecond, logger)
	return New(classifier, builder, dispatcher, opts, logger)
}

// runEvents feeds the events through a watcher and waits for Run to return.
func runEvents(t *testing.T, w *Watcher, events ...*nostr.Event) error {
	t.Helper()
	ch := make(chan *nostr.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return w.Run(context.Background(), ch)
}

func liveEvent(id, author string, tags ...nostr.Tag) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		PubKey:    author,
		Kind:      classify.KindLiveEvent,
		CreatedAt: nostr.Now(),
		Tags:      append(nostr.Tags{{"d", "stream-1"}, {"title", "Morning Show"}}, tags...),
	}
}

func zapEvent(id string) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		PubKey:    other,
		Kind:      classify.KindZapReceipt,
		CreatedAt: nostr.Now(),
		Tags: nostr.Tags{
			{"p", primary},
			{"bolt11", coffeeBolt11},
		},
	}
}

func TestRun_LiveEventNotifies(t *testing.T) {
	sink := &captureSink{}
	w := newTestWatcher(t, seen.NewMemory(), sink, Options{})

	if err := runEvents(t, w, liveEvent(eventID('1'), other)); err != nil {
		t.Fatalf("run: %v", err)
	}

	sent := sink.notifications()
	if len(sent) != 1 {
		t.Fatalf("got %d notifications, want 1", len(sent))
	}
	if sent[0].Kind != notify.KindLiveEventStarted {
		t.Errorf("kind = %s", sent[0].Kind)
	}
	if got := w.Counters().Snapshot(); got["notified"] != 1 || got["received"] != 1 {
		t.Errorf("counters = %v", got)
	}
}

func TestRun_DuplicateSuppressed(t *testing.T) {
	sink := &captureSink{}
	w := newTestWatcher(t, seen.NewMemory(), sink, Options{})

	ev := liveEvent(eventID('1'), other)
	if err := runEvents(t, w, ev, ev, ev); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(sink.notifications()) != 1 {
		t.Fatalf("duplicates must not re-notify, got %d", len(sink.notifications()))
	}
	got := w.Counters().Snapshot()
	if got["duplicates"] != 2 {
		t.Errorf("counters = %v", got)
	}
}

func TestRun_RestartDoesNotRenotify(t *testing.T) {
	store := seen.NewMemory()
	ev := liveEvent(eventID('1'), other)

	first := &captureSink{}
	if err := runEvents(t, newTestWatcher(t, store, first, Options{}), ev); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Same durable store, fresh pipeline, relay replays the event.
	second := &captureSink{}
	if err := runEvents(t, newTestWatcher(t, store, second, Options{}), ev); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(first.notifications()) != 1 {
		t.Errorf("first run sent %d", len(first.notifications()))
	}
	if len(second.notifications()) != 0 {
		t.Errorf("replay after restart sent %d notifications, want 0", len(second.notifications()))
	}
}

func TestRun_UnwatchedAuthorIgnored(t *testing.T) {
	sink := &captureSink{}
	w := newTestWatcher(t, seen.NewMemory(), sink, Options{})

	stranger := "c0ffeec0ffeec0ffeec0ffeec0ffeec0ffeec0ffeec0ffeec0ffeec0ffee123"
	if err := runEvents(t, w, liveEvent(eventID('1'), stranger)); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(sink.notifications()) != 0 {
		t.Fatal("unwatched author must not notify")
	}
	if got := w.Counters().Snapshot(); got["ignored"] != 1 {
		t.Errorf("counters = %v", got)
	}
}

func TestRun_ZapWithoutAggregation(t *testing.T) {
	sink := &captureSink{}
	w := newTestWatcher(t, seen.NewMemory(), sink, Options{})

	if err := runEvents(t, w, zapEvent(eventID('1'))); err != nil {
		t.Fatalf("run: %v", err)
	}

	sent := sink.notifications()
	if len(sent) != 1 {
		t.Fatalf("got %d notifications, want 1", len(sent))
	}
	if sent[0].Kind != notify.KindPaymentReceived {
		t.Errorf("kind = %s", sent[0].Kind)
	}
	if sent[0].AmountMsat != 250_000_000 {
		t.Errorf("amount = %d msat", sent[0].AmountMsat)
	}
	if sent[0].Attachment == nil {
		t.Error("payment notification should carry the scannable code")
	}
}

func TestRun_ZapAggregation(t *testing.T) {
	sink := &captureSink{}
	w := newTestWatcher(t, seen.NewMemory(), sink, Options{AggregateWindow: 50 * time.Millisecond})

	err := runEvents(t, w, zapEvent(eventID('1')), zapEvent(eventID('2')), zapEvent(eventID('3')))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	sent := sink.notifications()
	if len(sent) != 1 {
		t.Fatalf("got %d notifications, want 1 summary", len(sent))
	}
	if sent[0].AmountMsat != 3*250_000_000 {
		t.Errorf("summary amount = %d msat", sent[0].AmountMsat)
	}
	if sent[0].Attachment != nil {
		t.Error("aggregate summary has no single invoice to attach")
	}
}

func TestRun_SingleZapInWindowKeepsAttachment(t *testing.T) {
	sink := &captureSink{}
	w := newTestWatcher(t, seen.NewMemory(), sink, Options{AggregateWindow: 30 * time.Millisecond})

	if err := runEvents(t, w, zapEvent(eventID('1'))); err != nil {
		t.Fatalf("run: %v", err)
	}

	sent := sink.notifications()
	if len(sent) != 1 {
		t.Fatalf("got %d notifications, want 1", len(sent))
	}
	if sent[0].Attachment == nil {
		t.Error("lone zap in the window should keep its built notification")
	}
}

func TestRun_LiveEventReminder(t *testing.T) {
	sink := &captureSink{}
	w := newTestWatcher(t, seen.NewMemory(), sink, Options{RemindBefore: 100 * time.Millisecond})

	starts := time.Now().Add(200 * time.Millisecond).Unix()
	ev := liveEvent(eventID('1'), other, nostr.Tag{"starts", strconv.FormatInt(starts, 10)})
	if err := runEvents(t, w, ev); err != nil {
		t.Fatalf("run: %v", err)
	}

	sent := sink.notifications()
	if len(sent) != 2 {
		t.Fatalf("got %d notifications, want announcement plus reminder", len(sent))
	}
	if sent[0].SourceEventID != sent[1].SourceEventID {
		t.Error("reminder should reference the same source event")
	}
	if sent[0].ID == sent[1].ID {
		t.Error("reminder must be a distinct notification")
	}
}

func TestRun_SeenStoreFailureStopsPipeline(t *testing.T) {
	sink := &captureSink{}
	w := newTestWatcher(t, failingStore{}, sink, Options{})

	err := runEvents(t, w, liveEvent(eventID('1'), other))
	if err == nil {
		t.Fatal("a seen-store failure must stop the pipeline")
	}
	if len(sink.notifications()) != 0 {
		t.Error("nothing may be dispatched without the dedup guarantee")
	}
}

func TestRun_UndeliverableCountsDropped(t *testing.T) {
	sink := &captureSink{errs: 100}
	w := newTestWatcher(t, seen.NewMemory(), sink, Options{})

	if err := runEvents(t, w, liveEvent(eventID('1'), other)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := w.Counters().Snapshot(); got["dropped"] != 1 {
		t.Errorf("counters = %v", got)
	}
}

type failingStore struct{}

func (failingStore) TryMarkSeen(context.Context, string) (bool, error) {
	return false, errors.New("store unavailable")
}
func (failingStore) Dump(context.Context) ([]string, error) { return nil, nil }
func (failingStore) Close() error                           { return nil }

