package memory

import (
	"context"
	"fmt"
	"sync"

	ports "ledger/internal/sheets"
)

// Store keeps mirrored rows in memory.
type Store struct {
	mu   sync.Mutex
	rows []ports.Row
}

var _ ports.HistoryAppender = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// AppendRows stores the rows and returns a synthetic row reference.
func (s *Store) AppendRows(_ context.Context, rows []ports.Row) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(rows) == 0 {
		return "", nil
	}
	first := len(s.rows) + 1
	for _, r := range rows {
		if r.Memo != nil {
			m := *r.Memo
			r.Memo = &m
		}
		s.rows = append(s.rows, r)
	}
	return fmt.Sprintf("mem:%d-%d", first, len(s.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []ports.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.Row(nil), s.rows...)
}
