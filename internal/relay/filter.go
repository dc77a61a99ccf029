package relay

import (
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// liveEventLookback is how far back live-event announcements are requested
// on subscribe. Announcements are long-lived addressable events, so a fresh
// subscription would otherwise miss a stream that started just before the
// watcher did. Replayed events are absorbed by the seen store.
const liveEventLookback = 24 * time.Hour

// SubscriptionFilters builds the server-side filters for one relay
// subscription: receipts and DMs addressed to the primary identity, and
// live-event announcements from the full watch set.
func SubscriptionFilters(primary string, watched []string) nostr.Filters {
	now := nostr.Now()
	lookback := nostr.Timestamp(time.Now().Add(-liveEventLookback).Unix())

	return nostr.Filters{
		{
			Kinds: []int{9735, 4},
			Tags:  nostr.TagMap{"p": []string{primary}},
			Since: &now,
		},
		{
			Kinds:   []int{30311},
			Authors: watched,
			Since:   &lookback,
		},
	}
}
