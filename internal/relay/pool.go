// Package relay maintains long-lived subscriptions to a set of nostr relays
// and fans their events into a single channel. Connection maintenance is kept
// out of the consuming pipeline: a dropped relay reconnects with backoff and
// re-issues the same filters, and the consumer only ever sees "the next
// event".
package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// State of one endpoint's connection loop.
type State string

const (
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateBackoff    State = "backoff"
	StateStopped    State = "stopped"
)

const (
	defaultInitialBackoff = 2 * time.Second
	defaultMaxBackoff     = time.Minute

	// eventBuffer absorbs bursts (a relay replaying recent events on
	// subscribe) without stalling the other connection loops.
	eventBuffer = 256
)

// EndpointStatus is a point-in-time snapshot of one relay connection.
type EndpointStatus struct {
	URL         string    `json:"url"`
	State       State     `json:"state"`
	LastError   string    `json:"last_error,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	Events      uint64    `json:"events"`
}

type endpoint struct {
	url string

	mu          sync.Mutex
	state       State
	lastError   string
	connectedAt time.Time
	events      atomic.Uint64
}

func (e *endpoint) setState(s State, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
	if err != nil {
		e.lastError = err.Error()
	}
	if s == StateConnected {
		e.connectedAt = time.Now().UTC()
		e.lastError = ""
	}
}

func (e *endpoint) status() EndpointStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EndpointStatus{
		URL:         e.url,
		State:       e.state,
		LastError:   e.lastError,
		ConnectedAt: e.connectedAt,
		Events:      e.events.Load(),
	}
}

// Pool runs one subscription loop per relay endpoint. A single endpoint
// failing is non-fatal; total failure of all endpoints keeps retrying
// indefinitely and is visible through Status.
type Pool struct {
	endpoints []*endpoint
	filters   nostr.Filters
	logger    *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration

	events chan *nostr.Event
	wg     sync.WaitGroup
}

// NewPool builds a pool over the given relay URLs with the subscription
// filters every connection (and reconnection) re-issues.
func NewPool(urls []string, filters nostr.Filters, logger *slog.Logger) *Pool {
	p := &Pool{
		filters:        filters,
		logger:         logger,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		events:         make(chan *nostr.Event, eventBuffer),
	}
	for _, u := range urls {
		p.endpoints = append(p.endpoints, &endpoint{url: u, state: StateConnecting})
	}
	return p
}

// Events is the fan-in stream of raw events from every connected relay. The
// channel closes after ctx is cancelled and all connection loops have
// stopped.
func (p *Pool) Events() <-chan *nostr.Event {
	return p.events
}

// Start launches the connection loops. The events channel closes once every
// loop has exited after ctx cancellation.
func (p *Pool) Start(ctx context.Context) {
	for _, ep := range p.endpoints {
		p.wg.Add(1)
		go func(ep *endpoint) {
			defer p.wg.Done()
			p.watch(ctx, ep)
		}(ep)
	}
	go func() {
		p.wg.Wait()
		close(p.events)
	}()
}

// Status reports a snapshot of every endpoint.
func (p *Pool) Status() []EndpointStatus {
	out := make([]EndpointStatus, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, ep.status())
	}
	return out
}

// watch is one endpoint's connect/subscribe/consume loop. It only returns
// when ctx is cancelled.
func (p *Pool) watch(ctx context.Context, ep *endpoint) {
	backoff := p.initialBackoff
	for {
		if ctx.Err() != nil {
			ep.setState(StateStopped, nil)
			return
		}

		ep.setState(StateConnecting, nil)
		started := time.Now()
		err := p.consume(ctx, ep)
		if ctx.Err() != nil {
			ep.setState(StateStopped, nil)
			return
		}
		if time.Since(started) > p.maxBackoff {
			// The connection held for a while, so this is a fresh outage.
			backoff = p.initialBackoff
		}

		ep.setState(StateBackoff, err)
		p.logger.Warn("relay connection lost", "relay", ep.url, "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			ep.setState(StateStopped, nil)
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, p.maxBackoff)
	}
}

// consume connects, subscribes, and forwards events until the subscription
// ends. A clean connect resets the caller's backoff via the returned nil
// error paired with StateConnected bookkeeping.
func (p *Pool) consume(ctx context.Context, ep *endpoint) error {
	r, err := nostr.RelayConnect(ctx, ep.url)
	if err != nil {
		return err
	}
	defer r.Close()

	sub, err := r.Subscribe(ctx, p.filters)
	if err != nil {
		return err
	}
	defer sub.Unsub()

	ep.setState(StateConnected, nil)
	p.logger.Info("relay connected", "relay", ep.url)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events:
			if !ok {
				// Subscription closed underneath us: connection dropped.
				return errSubscriptionClosed
			}
			if ev == nil {
				continue
			}
			ep.events.Add(1)
			select {
			case p.events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

var errSubscriptionClosed = &subscriptionClosedError{}

type subscriptionClosedError struct{}

func (*subscriptionClosedError) Error() string { return "subscription closed by relay" }

// nextBackoff doubles cur up to max.
func nextBackoff(cur, max time.Duration) time.Duration {
	if cur >= max {
		return max
	}
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}
