package status

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/groblegark/bullhorn/internal/relay"
)

func testServer() *Server {
	source := func() Snapshot {
		return Snapshot{
			Relays: []relay.EndpointStatus{
				{URL: "wss://relay.example", State: relay.StateConnected, Events: 7},
			},
			Counters: map[string]uint64{"received": 7, "notified": 2},
		}
	}
	return New("127.0.0.1:0", source, slog.New(slog.DiscardHandler))
}

func TestHealth(t *testing.T) {
	srv := testServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestStatusSnapshot(t *testing.T) {
	srv := testServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if snap.StartedAt.IsZero() {
		t.Error("started_at missing")
	}
	if len(snap.Relays) != 1 || snap.Relays[0].State != relay.StateConnected {
		t.Errorf("relays = %+v", snap.Relays)
	}
	if snap.Counters["received"] != 7 {
		t.Errorf("counters = %v", snap.Counters)
	}
}

func TestNotificationStream(t *testing.T) {
	srv := testServer()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/notifications/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connecting to stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// Give the handler a moment to register the client before broadcasting.
	time.Sleep(50 * time.Millisecond)
	srv.Broadcast(map[string]string{"id": "ntf-1", "kind": "payment_received"})

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			data = strings.TrimPrefix(line, "data:")
			break
		}
	}
	if data == "" {
		t.Fatal("no data line received on stream")
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		t.Fatalf("decoding stream payload: %v", err)
	}
	if payload["id"] != "ntf-1" {
		t.Errorf("payload = %v", payload)
	}
}
