package amqp

import (
	"encoding/json"
	"fmt"

	"ledger/internal/core"
)

// EncodeEvent converts the event to its wire form.
func EncodeEvent(ev core.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeEvent parses a message body and rejects events without an id or with
// an unknown type.
func DecodeEvent(data []byte) (*core.Event, error) {
	var ev core.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("event without id")
	}
	switch ev.Type {
	case core.EventTransactionCreated, core.EventTransactionsImported, core.EventMemoUpdated:
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return &ev, nil
}
