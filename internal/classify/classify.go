// Package classify decides, for each incoming raw event, whether it is in
// scope and which notification variant it maps to. Classification runs after
// the seen-store check-and-set, so every event reaching the builder is new.
package classify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"

	"github.com/groblegark/bullhorn/internal/notify"
	"github.com/groblegark/bullhorn/internal/seen"
)

// Event kinds this watcher cares about.
const (
	KindEncryptedDM = 4     // NIP-04 direct message
	KindZapReceipt  = 9735  // NIP-57 zap receipt
	KindLiveEvent   = 30311 // NIP-53 live event
)

// ZapMatch selects how a zap receipt is attributed to the primary identity.
type ZapMatch string

const (
	// ZapMatchPTag matches receipts p-tagged with the primary pubkey. This
	// is the NIP-57 convention: receipts are authored by the recipient's
	// lightning service key, not by the recipient.
	ZapMatchPTag ZapMatch = "p-tag"

	// ZapMatchAuthor matches receipts authored by the primary pubkey, for
	// setups where the watched identity runs its own zap service.
	ZapMatchAuthor ZapMatch = "author"
)

// Decision is the outcome of classifying one raw event.
type Decision int

const (
	// DecisionDrop means the event is out of scope. Expected and frequent;
	// not an error.
	DecisionDrop Decision = iota

	// DecisionDuplicate means the event id was already seen.
	DecisionDuplicate

	// DecisionNotify means the event is new and in scope.
	DecisionNotify
)

// Classifier applies the dedup check followed by the kind/author rules.
type Classifier struct {
	store    seen.Store
	primary  string
	watched  map[string]struct{} // primary plus allow-list
	zapMatch ZapMatch
	logger   *slog.Logger
}

// New builds a classifier watching primary plus the allowed pubkeys.
func New(store seen.Store, primary string, allowed []string, zapMatch ZapMatch, logger *slog.Logger) *Classifier {
	watched := make(map[string]struct{}, len(allowed)+1)
	watched[primary] = struct{}{}
	for _, pk := range allowed {
		watched[pk] = struct{}{}
	}
	return &Classifier{
		store:    store,
		primary:  primary,
		watched:  watched,
		zapMatch: zapMatch,
		logger:   logger,
	}
}

// Classify marks the event seen and maps it to a notification kind. The
// store call happens first: even out-of-scope events are recorded, so a
// relay replaying them later costs one index lookup instead of re-filtering.
// A store error is returned unchanged; without the store the at-most-once
// guarantee is gone, and the caller decides how loudly to fail.
func (c *Classifier) Classify(ctx context.Context, ev *nostr.Event) (Decision, notify.Kind, error) {
	first, err := c.store.TryMarkSeen(ctx, ev.ID)
	if err != nil {
		return DecisionDrop, "", fmt.Errorf("seen store: %w", err)
	}
	if !first {
		return DecisionDuplicate, "", nil
	}

	switch ev.Kind {
	case KindLiveEvent:
		if _, ok := c.watched[ev.PubKey]; ok {
			return DecisionNotify, notify.KindLiveEventStarted, nil
		}
	case KindZapReceipt:
		if c.matchesZap(ev) {
			return DecisionNotify, notify.KindPaymentReceived, nil
		}
	case KindEncryptedDM:
		if taggedPubKey(ev, c.primary) {
			return DecisionNotify, notify.KindDMReceived, nil
		}
	}
	return DecisionDrop, "", nil
}

func (c *Classifier) matchesZap(ev *nostr.Event) bool {
	if c.zapMatch == ZapMatchAuthor {
		return ev.PubKey == c.primary
	}
	return taggedPubKey(ev, c.primary)
}

// taggedPubKey reports whether any p tag of ev names pk.
func taggedPubKey(ev *nostr.Event, pk string) bool {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "p" && tag[1] == pk {
			return true
		}
	}
	return false
}
