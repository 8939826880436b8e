// Package memory keeps exported reports in process memory.
package memory

import (
	"context"
	"fmt"
	"sync"

	"expensetracker/internal/core"
)

type Store struct {
	mu    sync.Mutex
	items []core.Report
	// failures is the number of upcoming writes that fail.
	failures int
}

func New() *Store {
	return &Store{}
}

// WriteReport stores r and returns a synthetic reference.
func (s *Store) WriteReport(ctx context.Context, r core.Report) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return "", fmt.Errorf("memory sink: write %s:%s rejected", r.OwnerRef, r.Period.Label)
	}
	s.items = append(s.items, r)
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// FailNext makes the next n writes fail.
func (s *Store) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// Reports returns every stored report in write order.
func (s *Store) Reports() []core.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Report(nil), s.items...)
}

// Find returns the last report stored for owner and period.
func (s *Store) Find(ownerRef, period string) (core.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].OwnerRef == ownerRef && s.items[i].Period.Label == period {
			return s.items[i], true
		}
	}
	return core.Report{}, false
}
