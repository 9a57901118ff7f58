package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Rhymond/go-money"

	"ledger/internal/core"
)

// formatAmount renders minor units in the currency's own notation when the
// currency is known and has two fraction digits. Anything else falls back to
// "12.34 XYZ" since minor units are always hundredths here.
func formatAmount(minor int64, currency string) string {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if cur := money.GetCurrency(code); cur != nil && cur.Fraction == 2 {
		return money.New(minor, code).Display()
	}
	return fmt.Sprintf("%s %s", core.FromMinorUnits(minor).StringFixed(2), currency)
}

func formatMemo(memo *string) string {
	if memo == nil {
		return "-"
	}
	return fmt.Sprintf("%q", *memo)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func writeCurrent(w io.Writer, records []core.CurrentRecord) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ACCOUNT\tTIMESTAMP\tAMOUNT\tPAYEE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			r.AccountID,
			r.ID.Timestamp.Format(time.RFC3339),
			formatAmount(r.ID.AmountMinorUnits, r.ID.Currency),
			r.ID.Payee)
	}
	return tw.Flush()
}

func writeHistory(w io.Writer, records []core.HistoricalRecord) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ACCOUNT\tTIMESTAMP\tAMOUNT\tPAYEE\tMEMO")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.AccountID,
			r.ID.Timestamp.Format(time.RFC3339),
			formatAmount(r.ID.AmountMinorUnits, r.ID.Currency),
			r.ID.Payee,
			formatMemo(r.Memo))
	}
	return tw.Flush()
}
