package status

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// sseKeepaliveInterval is how often keepalive comments are sent to prevent
// connection timeouts.
const sseKeepaliveInterval = 15 * time.Second

type streamEvent struct {
	ID   uint64
	Data []byte
}

// hub fans out dispatched notifications to connected SSE clients. There is a
// single stream and no replay: a client that reconnects starts at "now",
// which matches the pipeline's consume-once notification model.
type hub struct {
	mu      sync.RWMutex
	clients map[chan *streamEvent]struct{}
	nextID  atomic.Uint64
}

func newHub() *hub {
	return &hub{clients: make(map[chan *streamEvent]struct{})}
}

func (h *hub) broadcast(data []byte) {
	evt := &streamEvent{ID: h.nextID.Add(1), Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- evt:
		default:
			// Drop if the client is slow so the publisher never blocks.
		}
	}
}

func (h *hub) subscribe() chan *streamEvent {
	ch := make(chan *streamEvent, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan *streamEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// handleNotificationStream handles GET /v1/notifications/stream.
func (s *Server) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			fmt.Fprintf(w, "id:%d\n", evt.ID)
			fmt.Fprintf(w, "event:notification\n")
			fmt.Fprintf(w, "data:%s\n\n", evt.Data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}
