package notify

import (
	"strconv"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// liveEvent is the subset of NIP-53 live-event tags the builder renders.
type liveEvent struct {
	Identifier string // "d" tag; addressable-event identity
	Title      string
	Summary    string
	Status     string // "planned", "live", "ended"
	Streaming  string
	Host       string // pubkey of the p tag marked "host"
	Starts     time.Time
	Ends       time.Time
}

// parseLiveEvent extracts the known tags; unknown tags are ignored. Every
// field is optional, matching how loosely live events appear in the wild.
func parseLiveEvent(ev *nostr.Event) liveEvent {
	var le liveEvent
	for _, tag := range ev.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "d":
			le.Identifier = tag[1]
		case "title":
			le.Title = tag[1]
		case "summary":
			le.Summary = tag[1]
		case "status":
			le.Status = tag[1]
		case "streaming":
			le.Streaming = tag[1]
		case "starts":
			le.Starts = parseUnix(tag[1])
		case "ends":
			le.Ends = parseUnix(tag[1])
		case "p":
			if len(tag) >= 4 && tag[3] == "host" && le.Host == "" {
				le.Host = tag[1]
			}
		}
	}
	return le
}

func parseUnix(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
