package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/groblegark/bullhorn/internal/notify"
)

// NATSSink publishes notifications as JSON to per-kind subjects under
// "bullhorn.notification.", for downstream consumers that want the raw
// payload rather than a rendered push.
type NATSSink struct {
	conn *nats.Conn
}

func NewNATSSink(url string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSink{conn: nc}, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject a notification of the given kind publishes to.
func Subject(kind notify.Kind) string {
	return "bullhorn.notification." + string(kind)
}

func (s *NATSSink) Send(_ context.Context, n *notify.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}
	return s.conn.Publish(Subject(n.Kind), data)
}

func (s *NATSSink) Close() error {
	s.conn.Close()
	return nil
}
