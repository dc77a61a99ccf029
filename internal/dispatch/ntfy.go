package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/groblegark/bullhorn/internal/notify"
)

// NtfySink pushes notifications to an ntfy topic over plain HTTP. The topic
// is effectively the credential, so it is generated locally and never logged.
type NtfySink struct {
	endpoint string
	topic    string
	client   *http.Client
}

func NewNtfySink(endpoint, topic string) *NtfySink {
	return &NtfySink{
		endpoint: strings.TrimRight(endpoint, "/"),
		topic:    topic,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *NtfySink) Name() string { return "ntfy" }

func (s *NtfySink) URL() string { return s.endpoint + "/" + s.topic }

func (s *NtfySink) Send(ctx context.Context, n *notify.Notification) error {
	var (
		body   io.Reader
		asFile bool
	)
	if n.Attachment != nil && len(n.Attachment.PNG) > 0 {
		body = bytes.NewReader(n.Attachment.PNG)
		asFile = true
	} else {
		body = strings.NewReader(n.Body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL(), body)
	if err != nil {
		return fmt.Errorf("building ntfy request: %w", err)
	}
	req.Header.Set("X-Title", headerSafe(n.Title))
	req.Header.Set("X-Priority", priorityFor(n.Kind))
	if n.Tags != "" {
		req.Header.Set("X-Tags", n.Tags)
	}
	if n.Click != "" {
		req.Header.Set("X-Click", n.Click)
	}
	if asFile {
		// ntfy treats a binary body as an attachment; the text moves to
		// the message header.
		req.Header.Set("X-Filename", "invoice.png")
		req.Header.Set("X-Message", headerSafe(n.Body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to ntfy: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ntfy returned %s", resp.Status)
	}
	return nil
}

func priorityFor(kind notify.Kind) string {
	switch kind {
	case notify.KindLiveEventStarted:
		return "high"
	default:
		return "default"
	}
}

// headerSafe collapses a multi-line string into a single header-safe line.
func headerSafe(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
