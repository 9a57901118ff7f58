// Package importer turns bulk CSV uploads into import batches.
package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"ledger/internal/core"
)

// Column names expected in the header row.
const (
	ColumnTimestamp = "timestamp"
	ColumnPayee     = "payee"
	ColumnAmount    = "amount"
	ColumnCurrency  = "currency"
)

var requiredColumns = []string{ColumnTimestamp, ColumnPayee, ColumnAmount, ColumnCurrency}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse reads a CSV upload. The first record is the header; columns are
// matched by name and extra columns are ignored. Rows that fail are reported
// as "Row N: ..." where N is the line-style number of the row (first data row
// is 2) and do not stop the rest of the file from being read.
func Parse(r io.Reader) (core.ImportBatch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return core.ImportBatch{}, fmt.Errorf("read csv: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes is Parse over an in-memory body.
func ParseBytes(data []byte) (core.ImportBatch, error) {
	if !utf8.Valid(data) {
		return core.ImportBatch{}, core.ErrInvalidUTF8
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1 // checked per row against the header

	batch := core.ImportBatch{
		Candidates: make([]core.TransactionID, 0),
		Errors:     make([]string, 0),
	}

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return batch, nil
	}
	if err != nil {
		return core.ImportBatch{}, core.BadRequest("CSV parsing error - %v", err)
	}
	cols := indexColumns(header)

	for idx := 0; ; idx++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row := idx + 2
		if err != nil {
			batch.Errors = append(batch.Errors, fmt.Sprintf("Row %d: CSV parsing error - %s", row, describe(err)))
			continue
		}
		id, rowErr := parseRecord(record, header, cols)
		if rowErr != "" {
			batch.Errors = append(batch.Errors, fmt.Sprintf("Row %d: %s", row, rowErr))
			continue
		}
		batch.Candidates = append(batch.Candidates, id)
	}

	return batch, nil
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, seen := cols[name]; !seen {
			cols[name] = i
		}
	}
	return cols
}

// parseRecord returns the row's key or a reason it was rejected.
func parseRecord(record, header []string, cols map[string]int) (core.TransactionID, string) {
	if len(record) != len(header) {
		return core.TransactionID{}, fmt.Sprintf(
			"CSV parsing error - found record with %d fields, but the previous record has %d fields",
			len(record), len(header))
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return core.TransactionID{}, fmt.Sprintf("CSV parsing error - missing field `%s`", name)
		}
	}

	rawAmount := record[cols[ColumnAmount]]
	amount, err := core.ParseAmount(rawAmount)
	if err != nil {
		return core.TransactionID{}, fmt.Sprintf("CSV parsing error - invalid amount %q", rawAmount)
	}
	cents, err := core.ToMinorUnits(amount)
	if err != nil {
		return core.TransactionID{}, fmt.Sprintf("CSV parsing error - amount out of range %q", rawAmount)
	}

	ts, err := core.ParseTimestamp(record[cols[ColumnTimestamp]])
	if err != nil {
		return core.TransactionID{}, fmt.Sprintf("Invalid timestamp format - %v", err)
	}

	return core.NewTransactionID(ts, cents, record[cols[ColumnCurrency]], record[cols[ColumnPayee]]), ""
}

func describe(err error) string {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	return err.Error()
}
