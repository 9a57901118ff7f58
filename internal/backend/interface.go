package backend

import (
	"context"

	"ledger/internal/ledger"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the snapshot persister, the optional event
// publisher and a cleanup function releasing both.
type BackendResult struct {
	Persister ledger.Persister
	Publisher ledger.EventPublisher
	Cleanup   CleanupFunc
}

// Options returns the store options wiring this result into a ledger.Store.
func (r *BackendResult) Options() []ledger.Option {
	opts := []ledger.Option{ledger.WithPersister(r.Persister)}
	if r.Publisher != nil {
		opts = append(opts, ledger.WithEventPublisher(r.Publisher))
	}
	return opts
}

// Ping reports whether the persister's database is usable. Persisters without
// a database, like the JSON files, are always reachable.
func (r *BackendResult) Ping(ctx context.Context) error {
	if p, ok := r.Persister.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// File backend specific
	DataDirectory string
	CurrentFile   string
	HistoryFile   string

	// SQLite specific
	SQLiteDBPath string

	// Bolt specific
	BoltDBPath string

	// Event publishing, optional for every backend
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// ReadOnly skips the event publisher. Callers that never mutate the
	// ledger should not dial the broker.
	ReadOnly bool
}

// BackendType represents the type of backend
type BackendType string

const (
	FileBackend   BackendType = "file"
	SQLiteBackend BackendType = "sqlite"
	BoltBackend   BackendType = "bolt"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case FileBackend, SQLiteBackend, BoltBackend:
		return true
	default:
		return false
	}
}
