package google

import (
	"time"

	"ledger/internal/core"
	ports "ledger/internal/sheets"
)

// formatRow renders a row in Header order. Amounts are written as fixed
// two-decimal text so the sheet never sees a float.
func formatRow(r ports.Row) []any {
	memo := ""
	if r.Memo != nil {
		memo = *r.Memo
	}
	return []any{
		r.AccountID,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		core.FromMinorUnits(r.AmountMinorUnits).StringFixed(2),
		r.Currency,
		r.Payee,
		memo,
		string(r.Event),
	}
}

func lastColumn() string {
	return string(rune('A' + len(ports.Header) - 1))
}
