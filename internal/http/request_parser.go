// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"ledger/internal/core"
)

// CreateTransactionRequest is the body of POST /transactions. Pointers tell a
// missing field apart from a zero value.
type CreateTransactionRequest struct {
	AccountID *string  `json:"account_id"`
	Timestamp *string  `json:"timestamp"`
	Payee     *string  `json:"payee"`
	Amount    *float64 `json:"amount"`
	Currency  *string  `json:"currency"`
}

// UpdateMemoRequest is the body of PUT /transactions/{account_id}/memo. An
// absent or null memo clears it.
type UpdateMemoRequest struct {
	Memo *string `json:"memo"`
}

// decodeJSONBody decodes exactly one JSON value from the request body.
func decodeJSONBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return core.BadRequest("Invalid request body: empty body")
		}
		return core.BadRequest("Invalid request body: %v", err)
	}
	if dec.More() {
		return core.BadRequest("Invalid request body: unexpected data after JSON value")
	}
	return nil
}

// ParseCreateTransaction decodes and validates a create request.
func ParseCreateTransaction(r *http.Request) (string, core.TransactionID, error) {
	var req CreateTransactionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return "", core.TransactionID{}, err
	}

	missing := func(name string) error {
		return core.BadRequest("Invalid request body: missing field `%s`", name)
	}
	switch {
	case req.AccountID == nil:
		return "", core.TransactionID{}, missing("account_id")
	case req.Timestamp == nil:
		return "", core.TransactionID{}, missing("timestamp")
	case req.Payee == nil:
		return "", core.TransactionID{}, missing("payee")
	case req.Amount == nil:
		return "", core.TransactionID{}, missing("amount")
	case req.Currency == nil:
		return "", core.TransactionID{}, missing("currency")
	}

	ts, err := core.ParseTimestamp(*req.Timestamp)
	if err != nil {
		return "", core.TransactionID{}, core.ErrInvalidTimestamp
	}
	cents, err := core.FloatToMinorUnits(*req.Amount)
	if err != nil {
		return "", core.TransactionID{}, err
	}

	return *req.AccountID, core.NewTransactionID(ts, cents, *req.Currency, *req.Payee), nil
}

// ParseTransactionQuery reads the four key fields of a transaction from the
// query string. Parameters are checked for presence before any is parsed.
func ParseTransactionQuery(query url.Values) (core.TransactionID, error) {
	values := make(map[string]string, 4)
	for _, key := range []string{"timestamp", "amount", "currency", "payee"} {
		v, ok := query[key]
		if !ok || len(v) == 0 {
			return core.TransactionID{}, core.BadRequest("Missing %s parameter", key)
		}
		values[key] = v[0]
	}

	ts, err := core.ParseTimestamp(values["timestamp"])
	if err != nil {
		return core.TransactionID{}, core.ErrInvalidTimestamp
	}
	cents, err := core.ParseMinorUnits(values["amount"])
	if err != nil {
		return core.TransactionID{}, core.ErrInvalidAmount
	}

	return core.NewTransactionID(ts, cents, values["currency"], values["payee"]), nil
}

// ParseUpdateMemo decodes the memo body.
func ParseUpdateMemo(r *http.Request) (*string, error) {
	var req UpdateMemoRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	return req.Memo, nil
}

// readBody reads the whole (size-limited) body.
func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, err
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return data, nil
}
