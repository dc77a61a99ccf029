// Package seen tracks which event ids have already been processed, so that
// duplicate delivery across relays and across restarts never produces a
// second notification.
package seen

import "context"

// Store records processed event ids. TryMarkSeen is the only write path and
// must be atomic with respect to concurrent calls for the same id.
type Store interface {
	// TryMarkSeen marks id as seen and reports whether this call was the
	// first to do so. Exactly one concurrent caller observes true.
	TryMarkSeen(ctx context.Context, id string) (bool, error)

	// Dump returns all recorded ids, oldest first. Used by the snapshot
	// exporter; not on the hot path.
	Dump(ctx context.Context) ([]string, error)

	Close() error
}
