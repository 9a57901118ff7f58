package core

import "time"

// EventType names a ledger mutation.
type EventType string

const (
	EventTransactionCreated   EventType = "transaction.created"
	EventTransactionsImported EventType = "transactions.imported"
	EventMemoUpdated          EventType = "memo.updated"
)

// Event describes a committed mutation. Records holds the history entries
// appended (or, for memo updates, the entry that changed).
type Event struct {
	ID         string             `json:"id"`
	Type       EventType          `json:"type"`
	AccountID  string             `json:"account_id"`
	Records    []HistoricalRecord `json:"records"`
	OccurredAt time.Time          `json:"occurred_at"`
}
