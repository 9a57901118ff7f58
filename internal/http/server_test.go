package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/log"
)

func newTestServer(t *testing.T, opts Options) (*Server, *ledger.Store) {
	t.Helper()
	store := ledger.New(ledger.WithLogger(log.Discard()))
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	srv := NewServer(":0", store, opts)
	t.Cleanup(func() {
		if srv.limiter != nil {
			srv.limiter.Stop()
		}
	})
	return srv, store
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body.Error
}

const createBody = `{"account_id":"acc1","timestamp":"2024-01-15T10:30:00Z","payee":"Coffee Shop","amount":-4.5,"currency":"EUR"}`

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(t, srv, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s content type %q", path, ct)
		}
	}
}

func TestCreateTransaction(t *testing.T) {
	srv, store := newTestServer(t, Options{})

	rr := do(t, srv, http.MethodPost, "/transactions", createBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var rec core.CurrentRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.AccountID != "acc1" || rec.ID.AmountMinorUnits != -450 || rec.ID.Payee != "Coffee Shop" {
		t.Errorf("unexpected record %+v", rec)
	}
	if !strings.Contains(rr.Body.String(), `"amount_cents":-450`) {
		t.Errorf("body should carry amount_cents: %s", rr.Body.String())
	}
	if got := store.Stats(context.Background()); got.Current != 1 || got.History != 1 {
		t.Errorf("stats = %+v", got)
	}

	rr = do(t, srv, http.MethodPost, "/transactions", createBody)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rr.Code)
	}
	if msg := decodeError(t, rr); msg != "Transaction already exists" {
		t.Errorf("error = %q", msg)
	}
}

func TestCreateTransaction_BadRequests(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "malformed json", body: `{"account_id":`, wantErr: "Invalid request body"},
		{name: "empty body", body: "", wantErr: "Invalid request body: empty body"},
		{name: "missing payee", body: `{"account_id":"a","timestamp":"2024-01-15T10:30:00Z","amount":1,"currency":"EUR"}`, wantErr: "missing field `payee`"},
		{name: "missing amount", body: `{"account_id":"a","timestamp":"2024-01-15T10:30:00Z","payee":"p","currency":"EUR"}`, wantErr: "missing field `amount`"},
		{name: "bad timestamp", body: `{"account_id":"a","timestamp":"yesterday","payee":"p","amount":1,"currency":"EUR"}`, wantErr: "Invalid timestamp format"},
		{name: "amount as string", body: `{"account_id":"a","timestamp":"2024-01-15T10:30:00Z","payee":"p","amount":"1","currency":"EUR"}`, wantErr: "Invalid request body"},
	}

	srv, _ := newTestServer(t, Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/transactions", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
			if msg := decodeError(t, rr); !strings.Contains(msg, tt.wantErr) {
				t.Errorf("error = %q, want containing %q", msg, tt.wantErr)
			}
		})
	}
}

func TestListEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rr := do(t, srv, http.MethodGet, "/transactions/current", "")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("empty current: %d %q", rr.Code, rr.Body.String())
	}

	do(t, srv, http.MethodPost, "/transactions", createBody)

	rr = do(t, srv, http.MethodGet, "/transactions/all", "")
	var history []core.HistoricalRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 1 || history[0].Memo != nil {
		t.Errorf("unexpected history %+v", history)
	}
	if !strings.Contains(rr.Body.String(), `"memo":null`) {
		t.Errorf("memo should serialize as null: %s", rr.Body.String())
	}
}

func TestBulkImport(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	csv := "timestamp,payee,amount,currency\n" +
		"2024-01-15T10:30:00Z,Coffee Shop,-4.50,USD\n" +
		"2024-01-16T09:00:00Z,Salary,2500.00,USD\n" +
		"not-a-date,Bad,1.00,USD\n"

	rr := do(t, srv, http.MethodPost, "/transactions/bulk/acc1", csv)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var result core.ImportResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Imported != 2 || result.Duplicates != 0 || len(result.Errors) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if !strings.HasPrefix(result.Errors[0], "Row 4: Invalid timestamp format") {
		t.Errorf("row error = %q", result.Errors[0])
	}
}

func TestBulkImport_Failures(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "invalid utf8", body: "timestamp,payee,amount,currency\n2024-01-15T10:30:00Z,\xff,1,USD\n", wantErr: "Invalid UTF-8 in CSV"},
		{name: "all rows fail", body: "timestamp,payee,amount,currency\nx,a,1,USD\ny,b,2,USD\n", wantErr: "CSV parsing failed with 2 errors"},
		{name: "header only", body: "timestamp,payee,amount,currency\n", wantErr: "No valid transactions to import"},
	}

	srv, _ := newTestServer(t, Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/transactions/bulk/acc1", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
			if msg := decodeError(t, rr); msg != tt.wantErr {
				t.Errorf("error = %q, want %q", msg, tt.wantErr)
			}
		})
	}
}

func memoURL(account string, q map[string]string) string {
	v := url.Values{}
	for k, val := range q {
		v.Set(k, val)
	}
	return "/transactions/" + account + "/memo?" + v.Encode()
}

func TestUpdateMemo(t *testing.T) {
	srv, store := newTestServer(t, Options{})
	do(t, srv, http.MethodPost, "/transactions", createBody)

	query := map[string]string{
		"timestamp": "2024-01-15T11:30:00+01:00",
		"amount":    "-4.50",
		"currency":  "EUR",
		"payee":     "Coffee Shop",
	}

	rr := do(t, srv, http.MethodPut, memoURL("acc1", query), `{"memo":"Morning coffee"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"message":"Memo updated successfully"`) {
		t.Errorf("unexpected body %s", rr.Body.String())
	}
	history := store.ListHistory(context.Background())
	if history[0].Memo == nil || *history[0].Memo != "Morning coffee" {
		t.Fatalf("memo not stored: %+v", history[0])
	}

	rr = do(t, srv, http.MethodPut, memoURL("acc1", query), `{"memo":null}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear memo status %d", rr.Code)
	}
	if store.ListHistory(context.Background())[0].Memo != nil {
		t.Error("memo should be cleared")
	}
}

func TestUpdateMemo_Errors(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	do(t, srv, http.MethodPost, "/transactions", createBody)

	full := map[string]string{
		"timestamp": "2024-01-15T10:30:00Z",
		"amount":    "-4.50",
		"currency":  "EUR",
		"payee":     "Coffee Shop",
	}
	without := func(key string) map[string]string {
		q := map[string]string{}
		for k, v := range full {
			if k != key {
				q[k] = v
			}
		}
		return q
	}
	with := func(key, value string) map[string]string {
		q := without(key)
		q[key] = value
		return q
	}

	tests := []struct {
		name       string
		account    string
		query      map[string]string
		body       string
		wantStatus int
		wantErr    string
	}{
		{name: "missing amount", account: "acc1", query: without("amount"), body: `{"memo":"x"}`, wantStatus: 400, wantErr: "Missing amount parameter"},
		{name: "missing timestamp", account: "acc1", query: without("timestamp"), body: `{"memo":"x"}`, wantStatus: 400, wantErr: "Missing timestamp parameter"},
		{name: "bad timestamp", account: "acc1", query: with("timestamp", "2024-13-01"), body: `{"memo":"x"}`, wantStatus: 400, wantErr: "Invalid timestamp format"},
		{name: "bad amount", account: "acc1", query: with("amount", "four"), body: `{"memo":"x"}`, wantStatus: 400, wantErr: "Invalid amount format"},
		{name: "bad body", account: "acc1", query: full, body: `memo`, wantStatus: 400, wantErr: "Invalid request body"},
		{name: "unknown account", account: "nope", query: full, body: `{"memo":"x"}`, wantStatus: 404, wantErr: "Account not found"},
		{name: "unknown transaction", account: "acc1", query: with("payee", "Other"), body: `{"memo":"x"}`, wantStatus: 404, wantErr: "Transaction not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPut, memoURL(tt.account, tt.query), tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if msg := decodeError(t, rr); msg != tt.wantErr && !strings.HasPrefix(msg, tt.wantErr) {
				t.Errorf("error = %q, want %q", msg, tt.wantErr)
			}
		})
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rr := do(t, srv, http.MethodGet, "/nope", "")
	if rr.Code != http.StatusNotFound || decodeError(t, rr) != "Not found" {
		t.Fatalf("unknown route: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, srv, http.MethodDelete, "/transactions/current", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	srv, _ := newTestServer(t, Options{MaxBodyBytes: 1024})

	big := "timestamp,payee,amount,currency\n" + strings.Repeat("2024-01-15T10:30:00Z,Payee,1.00,USD\n", 100)
	rr := do(t, srv, http.MethodPost, "/transactions/bulk/acc1", big)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, Options{RateLimitPerMinute: 1})

	rr := do(t, srv, http.MethodPost, "/transactions", createBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("first create: %d", rr.Code)
	}
	rr = do(t, srv, http.MethodPost, "/transactions", createBody)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}

	// Reads are not limited.
	rr = do(t, srv, http.MethodGet, "/transactions/current", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("reads should not be limited, got %d", rr.Code)
	}
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, Options{AllowedOrigins: []string{"https://app.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/transactions", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/transactions/current", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got %q", got)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rr := do(t, srv, http.MethodGet, "/healthz", "")
	if !strings.HasPrefix(rr.Header().Get("X-Request-ID"), "req_") {
		t.Errorf("missing request id header: %v", rr.Header())
	}
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestReady(t *testing.T) {
	srv, store := newTestServer(t, Options{RateLimitPerMinute: 10})
	id := core.NewTransactionID(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), 1000, "USD", "Shop")
	if _, err := store.Insert(context.Background(), "acc1", id); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	do(t, srv, http.MethodGet, "/healthz", "")

	rr := do(t, srv, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Status   string       `json:"status"`
		Stats    ledger.Stats `json:"stats"`
		Requests struct {
			TotalRequests int64 `json:"total_requests"`
		} `json:"requests"`
		RateLimit *struct {
			ClientCount int64 `json:"client_count"`
		} `json:"rate_limit"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ready" || body.Stats.Current != 1 || body.Stats.Accounts != 1 {
		t.Errorf("unexpected body %s", rr.Body.String())
	}
	// /healthz plus this request.
	if body.Requests.TotalRequests != 2 {
		t.Errorf("total_requests = %d, want 2", body.Requests.TotalRequests)
	}
	if body.RateLimit == nil {
		t.Error("rate_limit missing while the limiter is enabled")
	}
}

func TestReady_CheckFails(t *testing.T) {
	srv, _ := newTestServer(t, Options{ReadyCheck: func(context.Context) error {
		return errors.New("database is closed")
	}})

	rr := do(t, srv, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rr.Code)
	}
	if got := decodeError(t, rr); got != "Storage unavailable" {
		t.Errorf("error = %q", got)
	}

	if rr := do(t, srv, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Errorf("healthz should not depend on the ready check, got %d", rr.Code)
	}
}
