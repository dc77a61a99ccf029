// Package notify defines the notification model and the builder that turns
// classified relay events into renderable notifications.
package notify

import (
	"fmt"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Kind is the closed set of notification variants.
type Kind string

const (
	KindLiveEventStarted Kind = "live_event_started"
	KindPaymentReceived  Kind = "payment_received"
	KindDMReceived       Kind = "dm_received"
)

// Notification is the sink-agnostic payload handed to the dispatcher. It is
// consumed exactly once and never persisted.
type Notification struct {
	ID            string `json:"id"`
	Kind          Kind   `json:"kind"`
	SourceEventID string `json:"source_event_id,omitempty"`

	Title   string `json:"title"`             // short headline (ntfy X-Title)
	Subject string `json:"subject,omitempty"` // what the notification is about, without verb
	Body    string `json:"body"`
	Click   string `json:"click,omitempty"` // nostr: URI to open on tap
	Tags    string `json:"tags,omitempty"`  // ntfy emoji shortcodes

	AmountMsat uint64    `json:"amount_msat,omitempty"` // payment notifications only
	StartsAt   time.Time `json:"starts_at"`             // live events with an announced start
	CreatedAt  time.Time `json:"created_at"`

	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment is a rendered scannable code for the raw payment request.
type Attachment struct {
	PNG      []byte `json:"png,omitempty"` // base64 in JSON sinks
	Terminal string `json:"-"`             // character rendering, local output only
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewID returns a short unique notification id.
func NewID() string {
	id, err := nanoid.Generate(idAlphabet, 10)
	if err != nil {
		// crypto/rand failure; fall back to a timestamp id rather than abort
		// a notification that is already past dedup.
		return fmt.Sprintf("ntf-%d", time.Now().UnixNano())
	}
	return "ntf-" + id
}
