package log

import "ledger/internal/core"

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldAccountID     = "account_id"
	FieldTimestamp     = "timestamp"
	FieldAmountCents   = "amount_cents"
	FieldCurrency      = "currency"
	FieldPayee         = "payee"
	FieldImported      = "imported"
	FieldRowErrors     = "row_errors"
	FieldRangeFrom     = "range_from"
	FieldRangeTo       = "range_to"
	FieldRemoved       = "removed"
	FieldBackend       = "backend"
	FieldEventType     = "event_type"
	FieldEventID       = "event_id"
	FieldCurrentCount  = "current_count"
	FieldHistoryCount  = "history_count"
	FieldAccountsCount = "accounts_count"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentStorage   = "storage"
	ComponentImporter  = "importer"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentRateLimit = "rate_limit"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpInsert     = "insert"
	OpBulkImport = "bulk_import"
	OpUpdateMemo = "update_memo"
	OpList       = "list"
	OpLoad       = "load"
	OpFlush      = "flush"
	OpPublish    = "publish"
	OpMirror     = "mirror"
	OpShutdown   = "shutdown"
	OpStartup    = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithAccount adds the account id.
func (f LogFields) WithAccount(accountID string) LogFields {
	f[FieldAccountID] = accountID
	return f
}

// WithTransaction adds the four natural-key fields.
func (f LogFields) WithTransaction(id core.TransactionID) LogFields {
	f[FieldTimestamp] = id.Timestamp
	f[FieldAmountCents] = id.AmountMinorUnits
	f[FieldCurrency] = id.Currency
	f[FieldPayee] = id.Payee
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
