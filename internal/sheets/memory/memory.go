// Package memory is an in-memory mirror adapter used in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	ports "bilancio/internal/sheets"
)

type Store struct {
	mu   sync.Mutex
	rows []ports.MirrorRow
}

var (
	_ ports.TransactionWriter  = (*Store)(nil)
	_ ports.TransactionRemover = (*Store)(nil)
)

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, row ports.MirrorRow) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return fmt.Sprintf("row-%d", len(s.rows)), nil
}

func (s *Store) Remove(_ context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, row := range s.rows {
		if row.TransactionID == transactionID {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

// Rows returns a copy of the stored rows.
func (s *Store) Rows() []ports.MirrorRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.MirrorRow, len(s.rows))
	copy(out, s.rows)
	return out
}
