package ledger

import (
	"context"

	"ledger/internal/core"
)

// Snapshot is a detached copy of both views, keyed by account id.
type Snapshot struct {
	Current map[string]map[core.TransactionID]core.CurrentRecord
	History map[string][]core.HistoricalRecord
}

// NewSnapshot returns an empty snapshot with both maps allocated.
func NewSnapshot() Snapshot {
	return Snapshot{
		Current: make(map[string]map[core.TransactionID]core.CurrentRecord),
		History: make(map[string][]core.HistoricalRecord),
	}
}

// Ports for outbound adapters.
type (
	// Persister stores and restores both views. Load treats a missing
	// location as empty; a malformed one is reported in the returned error
	// while whatever did load is still returned.
	Persister interface {
		Load(ctx context.Context) (Snapshot, error)
		Save(ctx context.Context, snap Snapshot) error
	}

	// EventPublisher announces committed mutations, one call at a time and
	// in the order the mutations were applied. Failures are logged by the
	// store and never undo a mutation.
	EventPublisher interface {
		Publish(ctx context.Context, ev core.Event) error
	}
)
