package core

import (
	"errors"
	"fmt"
)

// Kind classifies ledger errors for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindConflict
	KindBadRequest
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a ledger error carrying its kind and a client-facing message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

// Is matches the kind sentinels: errors.Is(err, ErrNotFound) holds for every
// not-found error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Kind sentinels.
var (
	ErrConflict   = &Error{Kind: KindConflict}
	ErrBadRequest = &Error{Kind: KindBadRequest}
	ErrNotFound   = &Error{Kind: KindNotFound}
)

var (
	ErrTransactionExists   = &Error{Kind: KindConflict, Message: "Transaction already exists"}
	ErrAccountNotFound     = &Error{Kind: KindNotFound, Message: "Account not found"}
	ErrTransactionNotFound = &Error{Kind: KindNotFound, Message: "Transaction not found"}
	ErrNoValidTransactions = &Error{Kind: KindBadRequest, Message: "No valid transactions to import"}
	ErrInvalidUTF8         = &Error{Kind: KindBadRequest, Message: "Invalid UTF-8 in CSV"}
	ErrInvalidAmount       = &Error{Kind: KindBadRequest, Message: "Invalid amount format"}
	ErrInvalidTimestamp    = &Error{Kind: KindBadRequest, Message: "Invalid timestamp format"}
)

// BadRequest builds a bad-request error with a formatted message.
func BadRequest(format string, args ...any) error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// ImportFailed is returned when every row of a bulk upload failed to parse.
func ImportFailed(rowErrors int) error {
	return BadRequest("CSV parsing failed with %d errors", rowErrors)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
