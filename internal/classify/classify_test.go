package classify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/groblegark/bullhorn/internal/notify"
	"github.com/groblegark/bullhorn/internal/seen"
)

const (
	pubkeyA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	pubkeyB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	pubkeyC = "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
)

func testClassifier(t *testing.T, store seen.Store) *Classifier {
	t.Helper()
	if store == nil {
		store = seen.NewMemory()
	}
	return New(store, pubkeyA, []string{pubkeyB}, ZapMatchPTag, slog.New(slog.DiscardHandler))
}

func liveEvent(id, author, title string) *nostr.Event {
	tags := nostr.Tags{{"d", "room"}}
	if title != "" {
		tags = append(tags, nostr.Tag{"title", title})
	}
	return &nostr.Event{ID: id, PubKey: author, Kind: KindLiveEvent, Tags: tags}
}

func TestClassify_Scenario(t *testing.T) {
	// primary = A, allowed = {B}. Event1 from B notifies once, its duplicate
	// delivery is suppressed, and C's event is ignored.
	c := testClassifier(t, nil)
	ctx := context.Background()

	d, kind, err := c.Classify(ctx, liveEvent("e1", pubkeyB, "Stream"))
	if err != nil {
		t.Fatalf("Classify e1: %v", err)
	}
	if d != DecisionNotify || kind != notify.KindLiveEventStarted {
		t.Errorf("e1: decision=%v kind=%q, want notify live event", d, kind)
	}

	d, _, err = c.Classify(ctx, liveEvent("e1", pubkeyB, "Stream"))
	if err != nil {
		t.Fatalf("Classify e1 duplicate: %v", err)
	}
	if d != DecisionDuplicate {
		t.Errorf("duplicate e1: decision=%v, want duplicate", d)
	}

	d, _, err = c.Classify(ctx, liveEvent("e2", pubkeyC, ""))
	if err != nil {
		t.Fatalf("Classify e2: %v", err)
	}
	if d != DecisionDrop {
		t.Errorf("e2 from unwatched author: decision=%v, want drop", d)
	}
}

func TestClassify_UnwatchedAuthorNeverNotifies(t *testing.T) {
	c := testClassifier(t, nil)
	ctx := context.Background()

	for i, ev := range []*nostr.Event{
		{ID: "u1", PubKey: pubkeyC, Kind: KindLiveEvent},
		{ID: "u2", PubKey: pubkeyC, Kind: KindZapReceipt},
		{ID: "u3", PubKey: pubkeyC, Kind: 1},
		{ID: "u4", PubKey: pubkeyC, Kind: KindEncryptedDM, Tags: nostr.Tags{{"p", pubkeyC}}},
	} {
		d, _, err := c.Classify(ctx, ev)
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if d == DecisionNotify {
			t.Errorf("event %d from unwatched author classified as notify", i)
		}
	}
}

func TestClassify_RestartDoesNotRenotify(t *testing.T) {
	store := seen.NewMemory()
	ctx := context.Background()

	c1 := testClassifier(t, store)
	if d, _, _ := c1.Classify(ctx, liveEvent("e1", pubkeyA, "first run")); d != DecisionNotify {
		t.Fatalf("first run: decision=%v, want notify", d)
	}

	// A new classifier over the same store models a process restart.
	c2 := testClassifier(t, store)
	if d, _, _ := c2.Classify(ctx, liveEvent("e1", pubkeyA, "first run")); d != DecisionDuplicate {
		t.Errorf("after restart: decision=%v, want duplicate", d)
	}
}

func TestClassify_ZapReceipt_PTagRule(t *testing.T) {
	c := testClassifier(t, nil)
	ctx := context.Background()

	// Receipt authored by a zap service key but p-tagged to the primary.
	d, kind, err := c.Classify(ctx, &nostr.Event{
		ID: "z1", PubKey: pubkeyC, Kind: KindZapReceipt,
		Tags: nostr.Tags{{"p", pubkeyA}, {"bolt11", "lnbc..."}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionNotify || kind != notify.KindPaymentReceived {
		t.Errorf("p-tagged receipt: decision=%v kind=%q", d, kind)
	}

	// Receipt p-tagged to someone else drops.
	d, _, _ = c.Classify(ctx, &nostr.Event{
		ID: "z2", PubKey: pubkeyC, Kind: KindZapReceipt,
		Tags: nostr.Tags{{"p", pubkeyB}},
	})
	if d != DecisionDrop {
		t.Errorf("foreign receipt: decision=%v, want drop", d)
	}
}

func TestClassify_ZapReceipt_AuthorRule(t *testing.T) {
	c := New(seen.NewMemory(), pubkeyA, nil, ZapMatchAuthor, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	d, _, _ := c.Classify(ctx, &nostr.Event{ID: "z1", PubKey: pubkeyA, Kind: KindZapReceipt})
	if d != DecisionNotify {
		t.Errorf("author-rule receipt from primary: decision=%v, want notify", d)
	}

	d, _, _ = c.Classify(ctx, &nostr.Event{
		ID: "z2", PubKey: pubkeyC, Kind: KindZapReceipt,
		Tags: nostr.Tags{{"p", pubkeyA}},
	})
	if d != DecisionDrop {
		t.Errorf("author-rule receipt from service key: decision=%v, want drop", d)
	}
}

func TestClassify_DM(t *testing.T) {
	c := testClassifier(t, nil)
	ctx := context.Background()

	d, kind, _ := c.Classify(ctx, &nostr.Event{
		ID: "d1", PubKey: pubkeyC, Kind: KindEncryptedDM,
		Tags: nostr.Tags{{"p", pubkeyA}},
	})
	if d != DecisionNotify || kind != notify.KindDMReceived {
		t.Errorf("DM to primary: decision=%v kind=%q", d, kind)
	}
}

type failingStore struct{}

func (failingStore) TryMarkSeen(context.Context, string) (bool, error) {
	return false, errors.New("database gone")
}
func (failingStore) Dump(context.Context) ([]string, error) { return nil, nil }
func (failingStore) Close() error                           { return nil }

func TestClassify_StoreErrorSurfaces(t *testing.T) {
	c := testClassifier(t, failingStore{})
	if _, _, err := c.Classify(context.Background(), liveEvent("e1", pubkeyA, "x")); err == nil {
		t.Error("Classify succeeded with failing store, want error")
	}
}
