package dispatch

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/groblegark/bullhorn/internal/notify"
	"github.com/groblegark/bullhorn/internal/ui"
)

// TerminalSink prints notifications to a local writer, normally stdout.
// Payment attachments render as a character QR block under the body.
type TerminalSink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewTerminalSink(out io.Writer) *TerminalSink {
	return &TerminalSink{out: out}
}

func (s *TerminalSink) Name() string { return "terminal" }

func (s *TerminalSink) Send(_ context.Context, n *notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := n.CreatedAt.Local().Format(time.Kitchen)
	if _, err := fmt.Fprintf(s.out, "%s %s\n%s\n",
		ui.RenderMuted(ts), ui.RenderAccent(n.Title), n.Body); err != nil {
		return err
	}
	if n.Click != "" {
		if _, err := fmt.Fprintln(s.out, ui.RenderMuted(n.Click)); err != nil {
			return err
		}
	}
	if n.Attachment != nil && n.Attachment.Terminal != "" {
		if _, err := fmt.Fprintln(s.out, n.Attachment.Terminal); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(s.out)
	return err
}
