// Package storage implements ledger.Persister over a JSON file pair, SQLite
// and bbolt.
package storage

import (
	"maps"
	"slices"

	"ledger/internal/core"
	"ledger/internal/ledger"
)

// currentLists flattens the current view to account -> records, the shape
// written to disk. Records are sorted so repeated saves are byte-stable.
func currentLists(snap ledger.Snapshot) map[string][]core.CurrentRecord {
	out := make(map[string][]core.CurrentRecord, len(snap.Current))
	for account, txs := range snap.Current {
		records := slices.Collect(maps.Values(txs))
		slices.SortFunc(records, func(a, b core.CurrentRecord) int { return a.ID.Compare(b.ID) })
		out[account] = records
	}
	return out
}

// currentMaps rebuilds the keyed current view from its list form.
func currentMaps(lists map[string][]core.CurrentRecord) map[string]map[core.TransactionID]core.CurrentRecord {
	out := make(map[string]map[core.TransactionID]core.CurrentRecord, len(lists))
	for account, records := range lists {
		txs := make(map[core.TransactionID]core.CurrentRecord, len(records))
		for _, rec := range records {
			rec.ID = rec.ID.Normalized()
			txs[rec.ID] = rec
		}
		out[account] = txs
	}
	return out
}
