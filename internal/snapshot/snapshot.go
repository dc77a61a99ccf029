// Package snapshot periodically exports the seen-event set so a rebuilt
// deployment can be seeded without re-notifying history.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/groblegark/bullhorn/internal/seen"
)

// Destination is a snapshot target (S3 or similar).
type Destination interface {
	// Write uploads the JSONL payload.
	Write(ctx context.Context, data []byte) error
}

// Scheduler exports the seen store to the destinations at a fixed interval,
// starting with one export immediately on Start.
type Scheduler struct {
	store        seen.Store
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(store seen.Store, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        store,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start begins periodic exports. The first export runs immediately.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for an in-flight export to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.exportOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.exportOnce(ctx)
		}
	}
}

func (s *Scheduler) exportOnce(ctx context.Context) {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, &buf); err != nil {
		s.logger.Error("snapshot export failed", "err", err)
		return
	}
	data := buf.Bytes()

	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			s.logger.Error("snapshot write failed", "destination", fmt.Sprintf("%d", i), "err", err)
		}
	}

	s.logger.Info("snapshot completed", "destinations", len(s.destinations), "bytes", len(data))
}

type seenLine struct {
	EventID string `json:"event_id"`
}

// ExportJSONL writes every seen event id as one JSON object per line.
func ExportJSONL(ctx context.Context, store seen.Store, buf *bytes.Buffer) error {
	ids, err := store.Dump(ctx)
	if err != nil {
		return fmt.Errorf("dumping seen store: %w", err)
	}
	enc := json.NewEncoder(buf)
	for _, id := range ids {
		if err := enc.Encode(seenLine{EventID: id}); err != nil {
			return fmt.Errorf("encoding seen event: %w", err)
		}
	}
	return nil
}
