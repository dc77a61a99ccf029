package notify

import (
	"encoding/json"
	"strconv"

	"github.com/nbd-wtf/go-nostr"
)

// zapRequest extracts and verifies the zap request (kind 9734) embedded in a
// zap receipt's description tag. Returns nil if the tag is missing, is not a
// valid event, or carries a bad signature; all three cases are expected in the
// wild and degrade to an amount-less notification.
func zapRequest(ev *nostr.Event) *nostr.Event {
	raw := firstTagValue(ev, "description")
	if raw == "" {
		return nil
	}
	var req nostr.Event
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil
	}
	if ok, err := req.CheckSignature(); err != nil || !ok {
		return nil
	}
	return &req
}

// zapRequestAmountMsat returns the amount tag of the embedded zap request in
// millisatoshis, or 0 when absent or unverifiable.
func zapRequestAmountMsat(ev *nostr.Event) uint64 {
	req := zapRequest(ev)
	if req == nil {
		return 0
	}
	amt := firstTagValue(req, "amount")
	if amt == "" {
		return 0
	}
	n, err := strconv.ParseUint(amt, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// firstTagValue returns the value of the first tag with the given name.
func firstTagValue(ev *nostr.Event, name string) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}
