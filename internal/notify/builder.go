package notify

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/groblegark/bullhorn/internal/invoice"
)

// qrPNGSize is the pixel width of PNG attachments.
const qrPNGSize = 256

// Builder turns classified events into notifications. Decode problems inside
// an event degrade the notification (body only, no attachment); Build itself
// never fails for a classified event.
type Builder struct {
	logger *slog.Logger
}

func NewBuilder(logger *slog.Logger) *Builder {
	return &Builder{logger: logger}
}

// Build renders a notification for an event already classified as kind.
func (b *Builder) Build(ev *nostr.Event, kind Kind) *Notification {
	n := &Notification{
		ID:            NewID(),
		Kind:          kind,
		SourceEventID: ev.ID,
		Click:         clickURI(ev.ID),
		CreatedAt:     time.Now().UTC(),
	}

	switch kind {
	case KindLiveEventStarted:
		b.buildLiveEvent(n, ev)
	case KindPaymentReceived:
		b.buildPayment(n, ev)
	case KindDMReceived:
		n.Title = "New DM received"
		n.Body = "You've received a new nostr DM."
		n.Tags = "book"
	}
	return n
}

func (b *Builder) buildLiveEvent(n *Notification, ev *nostr.Event) {
	le := parseLiveEvent(ev)

	title := le.Title
	if title == "" {
		title = "Event " + shortID(ev.ID)
	}
	host := le.Host
	if host == "" {
		host = ev.PubKey
	}
	n.Title = "Event announcement"
	n.Tags = "spiral_calendar"
	n.Subject = fmt.Sprintf("%q by %s", title, shortNpub(host))
	n.StartsAt = le.Starts

	if !le.Starts.IsZero() && le.Starts.After(time.Now()) {
		n.Body = fmt.Sprintf("%s starts in %s", n.Subject, formatDuration(time.Until(le.Starts)))
	} else {
		n.Body = fmt.Sprintf("%s is live", n.Subject)
	}
	if le.Streaming != "" {
		n.Body += "\n" + le.Streaming
	}
}

func (b *Builder) buildPayment(n *Notification, ev *nostr.Event) {
	n.Title = "Zap received"
	n.Tags = "moneybag"

	bolt11 := firstTagValue(ev, "bolt11")
	var inv *invoice.Invoice
	if bolt11 != "" {
		var err error
		inv, err = invoice.Decode(bolt11)
		if err != nil {
			// Malformed or foreign-format payment requests must never abort
			// the pipeline; the notification goes out without an attachment.
			b.logger.Warn("undecodable payment request in zap receipt",
				"event_id", ev.ID, "error", err)
			inv = nil
		}
	}

	msat := uint64(0)
	if inv != nil {
		msat = inv.MilliSat
	}
	if msat == 0 {
		msat = zapRequestAmountMsat(ev)
	}
	n.AmountMsat = msat

	switch {
	case msat > 0 && inv != nil && inv.Description != "":
		n.Body = fmt.Sprintf("You received %d sats in zaps: %s", msat/1000, inv.Description)
	case msat > 0:
		n.Body = fmt.Sprintf("You received %d sats in zaps on your post!", msat/1000)
	default:
		n.Body = "You received a zap on your post!"
	}

	if inv != nil && bolt11 != "" {
		if att, err := renderQR(strings.ToUpper(bolt11)); err != nil {
			b.logger.Warn("rendering payment request code", "event_id", ev.ID, "error", err)
		} else {
			n.Attachment = att
		}
	}
}

// ZapSummary renders one aggregated notification for several zap receipts
// that arrived within the aggregation window.
func (b *Builder) ZapSummary(count int, totalMsat uint64) *Notification {
	body := fmt.Sprintf("You received %d sats across %d zaps!", totalMsat/1000, count)
	if count == 1 {
		body = fmt.Sprintf("You received %d sats in zaps on your post!", totalMsat/1000)
	}
	return &Notification{
		ID:         NewID(),
		Kind:       KindPaymentReceived,
		Title:      "Zaps received",
		Body:       body,
		Tags:       "moneybag",
		AmountMsat: totalMsat,
		CreatedAt:  time.Now().UTC(),
	}
}

// Reminder derives a fresh notification announcing that the subject of a
// previously dispatched live-event notification starts soon.
func (b *Builder) Reminder(n *Notification) *Notification {
	r := &Notification{
		ID:            NewID(),
		Kind:          n.Kind,
		SourceEventID: n.SourceEventID,
		Title:         n.Title,
		Subject:       n.Subject,
		Click:         n.Click,
		Tags:          n.Tags,
		StartsAt:      n.StartsAt,
		CreatedAt:     time.Now().UTC(),
	}
	until := time.Until(n.StartsAt)
	if until > 0 {
		r.Body = fmt.Sprintf("%s starts in %s", n.Subject, formatDuration(until))
	} else {
		r.Body = fmt.Sprintf("%s is starting now", n.Subject)
	}
	return r
}

func renderQR(content string) (*Attachment, error) {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encoding qr: %w", err)
	}
	png, err := qr.PNG(qrPNGSize)
	if err != nil {
		return nil, fmt.Errorf("rendering qr png: %w", err)
	}
	return &Attachment{
		PNG:      png,
		Terminal: qr.ToSmallString(false),
	}, nil
}

func clickURI(eventID string) string {
	note, err := nip19.EncodeNote(eventID)
	if err != nil {
		return ""
	}
	return "nostr:" + note
}

// shortNpub renders a pubkey as a truncated npub for display.
func shortNpub(pubkey string) string {
	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil {
		if len(pubkey) > 8 {
			return pubkey[:8]
		}
		return pubkey
	}
	return npub[:12] + "…" + npub[len(npub)-4:]
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatDuration renders a duration as "2h05m" or "42m" for notification
// bodies; sub-minute values round up to "1m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return "1m"
	}
	d = d.Round(time.Minute)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
