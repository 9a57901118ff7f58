package sheets

import (
	"context"
	"time"

	"ledger/internal/core"
)

// Row is one history entry as mirrored to a spreadsheet.
type Row struct {
	AccountID        string
	Timestamp        time.Time
	AmountMinorUnits int64
	Currency         string
	Payee            string
	Memo             *string
	Event            core.EventType
}

// Header is the column order of a mirrored row.
var Header = []string{"account", "timestamp", "amount", "currency", "payee", "memo", "event"}

// Ports for outbound adapters.
type (
	// HistoryAppender appends rows at the end of the mirror sheet and returns
	// a reference to where they landed.
	HistoryAppender interface {
		AppendRows(ctx context.Context, rows []Row) (rowRef string, err error)
	}
)

// RowsFromEvent turns each record of an event into a row tagged with the
// event type.
func RowsFromEvent(ev core.Event) []Row {
	rows := make([]Row, 0, len(ev.Records))
	for _, rec := range ev.Records {
		rows = append(rows, Row{
			AccountID:        rec.AccountID,
			Timestamp:        rec.ID.Timestamp,
			AmountMinorUnits: rec.ID.AmountMinorUnits,
			Currency:         rec.ID.Currency,
			Payee:            rec.ID.Payee,
			Memo:             rec.Memo,
			Event:            ev.Type,
		})
	}
	return rows
}
