package core

import (
	"encoding/json"
	"strings"
	"time"
)

type (
	// TransactionID is the natural key of a transaction. Two transactions are
	// the same iff all four fields are equal, so the struct is used directly as
	// a map key. Construct it with NewTransactionID to keep the timestamp in UTC.
	TransactionID struct {
		Timestamp        time.Time
		AmountMinorUnits int64
		Currency         string
		Payee            string
	}

	// CurrentRecord is the deduplicated view of a transaction in an account.
	CurrentRecord struct {
		AccountID string        `json:"account_id"`
		ID        TransactionID `json:"id"`
	}

	// HistoricalRecord is an append-only log entry; the same ID may appear
	// more than once for an account.
	HistoricalRecord struct {
		AccountID string        `json:"account_id"`
		ID        TransactionID `json:"id"`
		Memo      *string       `json:"memo"`
	}

	// ImportBatch is the outcome of parsing a bulk upload: the rows that parsed,
	// in file order, and one message per row that did not.
	ImportBatch struct {
		Candidates []TransactionID
		Errors     []string
	}

	// ImportResult is returned by a successful bulk import. Duplicates is a
	// reserved wire field and is always zero.
	ImportResult struct {
		Imported   int      `json:"imported"`
		Duplicates int      `json:"duplicates"`
		Errors     []string `json:"errors"`
	}
)

// NewTransactionID builds a key with the timestamp normalized to UTC.
func NewTransactionID(ts time.Time, amountMinorUnits int64, currency, payee string) TransactionID {
	return TransactionID{
		Timestamp:        ts.UTC(),
		AmountMinorUnits: amountMinorUnits,
		Currency:         currency,
		Payee:            payee,
	}
}

// Normalized returns a copy whose timestamp is in UTC without a monotonic
// clock reading, which is what map-key equality relies on.
func (id TransactionID) Normalized() TransactionID {
	id.Timestamp = id.Timestamp.UTC()
	return id
}

// Within reports whether the timestamp lies in [from, to], both inclusive.
func (id TransactionID) Within(from, to time.Time) bool {
	return !id.Timestamp.Before(from) && !id.Timestamp.After(to)
}

// Compare orders keys by timestamp, then payee, currency and amount.
func (id TransactionID) Compare(other TransactionID) int {
	if c := id.Timestamp.Compare(other.Timestamp); c != 0 {
		return c
	}
	if c := strings.Compare(id.Payee, other.Payee); c != 0 {
		return c
	}
	if c := strings.Compare(id.Currency, other.Currency); c != 0 {
		return c
	}
	switch {
	case id.AmountMinorUnits < other.AmountMinorUnits:
		return -1
	case id.AmountMinorUnits > other.AmountMinorUnits:
		return 1
	}
	return 0
}

type transactionIDJSON struct {
	Timestamp   time.Time `json:"timestamp"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Payee       string    `json:"payee"`
}

// MarshalJSON writes the four key fields; the amount keeps the historical
// "amount_cents" name used by existing snapshot files.
func (id TransactionID) MarshalJSON() ([]byte, error) {
	return json.Marshal(transactionIDJSON{
		Timestamp:   id.Timestamp.UTC(),
		AmountCents: id.AmountMinorUnits,
		Currency:    id.Currency,
		Payee:       id.Payee,
	})
}

// UnmarshalJSON reads the four key fields and normalizes the timestamp.
func (id *TransactionID) UnmarshalJSON(data []byte) error {
	var raw transactionIDJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*id = NewTransactionID(raw.Timestamp, raw.AmountCents, raw.Currency, raw.Payee)
	return nil
}

// WithMemo returns a copy of the record carrying its own copy of memo.
func (r HistoricalRecord) WithMemo(memo *string) HistoricalRecord {
	if memo != nil {
		m := *memo
		memo = &m
	}
	r.Memo = memo
	return r
}

// Clone returns a copy that shares no memory with r.
func (r HistoricalRecord) Clone() HistoricalRecord {
	return r.WithMemo(r.Memo)
}

// ParseTimestamp parses an RFC 3339 timestamp (any offset, optional
// fractional seconds) and returns it in UTC. The date and time may also be
// separated by a space or a lowercase t, and Z may be lowercase, as RFC 3339
// section 5.6 allows.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, relaxRFC3339(strings.TrimSpace(s)))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func relaxRFC3339(s string) string {
	const sep = len("2006-01-02")
	if len(s) <= sep || (s[sep] != ' ' && s[sep] != 't' && !strings.HasSuffix(s, "z")) {
		return s
	}
	b := []byte(s)
	if b[sep] == ' ' || b[sep] == 't' {
		b[sep] = 'T'
	}
	if b[len(b)-1] == 'z' {
		b[len(b)-1] = 'Z'
	}
	return string(b)
}
