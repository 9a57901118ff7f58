// Package ledger holds the transaction store: a deduplicated current view and
// an append-only history per account, flushed to a Persister after every
// successful mutation.
package ledger

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledger/internal/core"
	"ledger/internal/log"
)

// Store owns both views. All access goes through its methods.
//
// Lock order: commitMu, then mu. A mutation holds commitMu from start to
// finish, so snapshots and events leave in the order mutations were applied.
// mu is held only for the in-memory change; readers never wait on I/O.
type Store struct {
	mu      sync.RWMutex
	current map[string]map[core.TransactionID]core.CurrentRecord
	history map[string][]core.HistoricalRecord

	commitMu  sync.Mutex
	persister Persister
	events    EventPublisher
	logger    *log.Logger
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPersister sets where snapshots are written after each mutation.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithEventPublisher sets where committed mutations are announced.
func WithEventPublisher(p EventPublisher) Option {
	return func(s *Store) { s.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		current: make(map[string]map[core.TransactionID]core.CurrentRecord),
		history: make(map[string][]core.HistoricalRecord),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.FromSlog(nil, log.ComponentLedger)
	}
	return s
}

// Load replaces the in-memory state with the persisted snapshot. A partial
// load is applied and its error returned so the caller can warn and go on.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	snap, err := s.persister.Load(ctx)

	current := make(map[string]map[core.TransactionID]core.CurrentRecord, len(snap.Current))
	for account, txs := range snap.Current {
		m := make(map[core.TransactionID]core.CurrentRecord, len(txs))
		for _, rec := range txs {
			rec.ID = rec.ID.Normalized()
			m[rec.ID] = rec
		}
		current[account] = m
	}
	history := make(map[string][]core.HistoricalRecord, len(snap.History))
	for account, records := range snap.History {
		out := make([]core.HistoricalRecord, len(records))
		for i, rec := range records {
			rec.ID = rec.ID.Normalized()
			out[i] = rec
		}
		history[account] = out
	}

	s.mu.Lock()
	s.current = current
	s.history = history
	s.mu.Unlock()

	stats := s.Stats(ctx)
	s.logger.InfoContext(ctx, "Ledger loaded",
		log.FieldAccountsCount, stats.Accounts,
		log.FieldCurrentCount, stats.Current,
		log.FieldHistoryCount, stats.History)
	return err
}

// Insert adds a single transaction. It fails with core.ErrTransactionExists
// when the id is already in the account's current view.
func (s *Store) Insert(ctx context.Context, accountID string, id core.TransactionID) (core.CurrentRecord, error) {
	id = id.Normalized()
	rec := core.CurrentRecord{AccountID: accountID, ID: id}
	hist := core.HistoricalRecord{AccountID: accountID, ID: id}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	txs := s.current[accountID]
	if _, exists := txs[id]; exists {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "Duplicate transaction rejected",
			log.NewFields().WithAccount(accountID).WithTransaction(id).ToSlice()...)
		return core.CurrentRecord{}, core.ErrTransactionExists
	}
	if txs == nil {
		txs = make(map[core.TransactionID]core.CurrentRecord)
		s.current[accountID] = txs
	}
	txs[id] = rec
	s.history[accountID] = append(s.history[accountID], hist)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Transaction created",
		log.NewFields().WithAccount(accountID).WithTransaction(id).WithOperation(log.OpInsert).ToSlice()...)

	s.flush(ctx, log.OpInsert)
	s.publish(ctx, core.EventTransactionCreated, accountID, []core.HistoricalRecord{hist})
	return rec, nil
}

// BulkImport merges a parsed upload into the account.
//
// Every current entry whose timestamp falls within the batch's [min, max]
// timestamps is removed, then each candidate is written (a key repeated in
// the batch keeps its last occurrence) and appended to history. Row errors
// are passed back in the result. A batch without candidates fails with a
// bad-request error and changes nothing.
func (s *Store) BulkImport(ctx context.Context, accountID string, batch core.ImportBatch) (core.ImportResult, error) {
	rowErrors := append([]string{}, batch.Errors...)
	if len(batch.Candidates) == 0 {
		if len(rowErrors) > 0 {
			return core.ImportResult{Errors: rowErrors}, core.ImportFailed(len(rowErrors))
		}
		return core.ImportResult{Errors: rowErrors}, core.ErrNoValidTransactions
	}

	candidates := make([]core.TransactionID, len(batch.Candidates))
	appended := make([]core.HistoricalRecord, len(batch.Candidates))
	for i, id := range batch.Candidates {
		id = id.Normalized()
		candidates[i] = id
		appended[i] = core.HistoricalRecord{AccountID: accountID, ID: id}
	}
	from, to := timeRange(candidates)

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	txs := s.current[accountID]
	if txs == nil {
		txs = make(map[core.TransactionID]core.CurrentRecord)
		s.current[accountID] = txs
	}
	removed := 0
	for id := range txs {
		if id.Within(from, to) {
			delete(txs, id)
			removed++
		}
	}
	imported := 0
	for _, id := range candidates {
		txs[id] = core.CurrentRecord{AccountID: accountID, ID: id}
		imported++
	}
	s.history[accountID] = append(s.history[accountID], appended...)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Transactions imported",
		log.FieldAccountID, accountID,
		log.FieldImported, imported,
		log.FieldRemoved, removed,
		log.FieldRowErrors, len(rowErrors),
		log.FieldRangeFrom, from,
		log.FieldRangeTo, to)

	s.flush(ctx, log.OpBulkImport)
	s.publish(ctx, core.EventTransactionsImported, accountID, appended)

	return core.ImportResult{Imported: imported, Duplicates: 0, Errors: rowErrors}, nil
}

// UpdateMemo sets the memo of the first history record equal to id. Later
// records with the same id are left alone. The current view is not touched.
func (s *Store) UpdateMemo(ctx context.Context, accountID string, id core.TransactionID, memo *string) error {
	id = id.Normalized()

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	records, ok := s.history[accountID]
	if !ok {
		s.mu.Unlock()
		return core.ErrAccountNotFound
	}
	idx := slices.IndexFunc(records, func(r core.HistoricalRecord) bool { return r.ID == id })
	if idx < 0 {
		s.mu.Unlock()
		return core.ErrTransactionNotFound
	}
	records[idx] = records[idx].WithMemo(memo)
	updated := records[idx].Clone()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Memo updated",
		log.NewFields().WithAccount(accountID).WithTransaction(id).WithOperation(log.OpUpdateMemo).ToSlice()...)

	s.flush(ctx, log.OpUpdateMemo)
	s.publish(ctx, core.EventMemoUpdated, accountID, []core.HistoricalRecord{updated})
	return nil
}

// ListCurrent returns the current view of every account. Accounts are in
// id order and each account's records in key order.
func (s *Store) ListCurrent(_ context.Context) []core.CurrentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.CurrentRecord, 0)
	for _, account := range slices.Sorted(maps.Keys(s.current)) {
		start := len(out)
		for _, rec := range s.current[account] {
			out = append(out, rec)
		}
		slices.SortFunc(out[start:], func(a, b core.CurrentRecord) int { return a.ID.Compare(b.ID) })
	}
	return out
}

// ListHistory returns every history record, accounts in id order and records
// in insertion order.
func (s *Store) ListHistory(_ context.Context) []core.HistoricalRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.HistoricalRecord, 0)
	for _, account := range slices.Sorted(maps.Keys(s.history)) {
		for _, rec := range s.history[account] {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Stats counts accounts and records in both views.
type Stats struct {
	Accounts int `json:"accounts"`
	Current  int `json:"current"`
	History  int `json:"history"`
}

// Stats returns the sizes of both views.
func (s *Store) Stats(_ context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make(map[string]struct{}, len(s.history))
	var st Stats
	for account, txs := range s.current {
		accounts[account] = struct{}{}
		st.Current += len(txs)
	}
	for account, records := range s.history {
		accounts[account] = struct{}{}
		st.History += len(records)
	}
	st.Accounts = len(accounts)
	return st
}

// Snapshot returns a deep copy of both views.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := NewSnapshot()
	for account, txs := range s.current {
		snap.Current[account] = maps.Clone(txs)
	}
	for account, records := range s.history {
		out := make([]core.HistoricalRecord, len(records))
		for i, rec := range records {
			out[i] = rec.Clone()
		}
		snap.History[account] = out
	}
	return snap
}

// flush writes the whole snapshot. The caller holds commitMu. Errors are
// logged only: the mutation that triggered the flush stands either way.
func (s *Store) flush(ctx context.Context, op string) {
	if s.persister == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	if err := s.persister.Save(ctx, s.Snapshot()); err != nil {
		s.logger.ErrorContext(ctx, "Failed to save ledger snapshot",
			log.NewFields().WithOperation(op).WithError(err).ToSlice()...)
	}
}

// publish announces a committed mutation. The caller holds commitMu.
func (s *Store) publish(ctx context.Context, typ core.EventType, accountID string, records []core.HistoricalRecord) {
	if s.events == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	ev := core.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		AccountID:  accountID,
		Records:    records,
		OccurredAt: s.now().UTC(),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish ledger event",
			log.FieldEventType, string(typ),
			log.FieldEventID, ev.ID,
			log.FieldAccountID, accountID,
			log.FieldError, err)
	}
}

func timeRange(ids []core.TransactionID) (from, to time.Time) {
	from, to = ids[0].Timestamp, ids[0].Timestamp
	for _, id := range ids[1:] {
		if id.Timestamp.Before(from) {
			from = id.Timestamp
		}
		if id.Timestamp.After(to) {
			to = id.Timestamp
		}
	}
	return from, to
}
