package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"expensetracker/internal/core"
	"expensetracker/internal/dispatch"
	"expensetracker/internal/log"
)

// memStore is an in-memory TransactionStore.
type memStore struct {
	mu         sync.Mutex
	txs        map[string]core.Transaction
	categories map[string]core.Category
	nextID     int

	failCreateFor map[string]bool // descriptions whose create fails
	failDue       error
	failOwners    error
	categoryCalls int
}

func newMemStore() *memStore {
	return &memStore{
		txs:           make(map[string]core.Transaction),
		categories:    make(map[string]core.Category),
		failCreateFor: make(map[string]bool),
	}
}

func (s *memStore) put(tx core.Transaction) core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.ID == "" {
		s.nextID++
		tx.ID = fmt.Sprintf("tx-%03d", s.nextID)
	}
	s.txs[tx.ID] = tx
	return tx
}

func (s *memStore) all() []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Transaction, 0, len(s.txs))
	for _, tx := range s.txs {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) FindDueRecurring(_ context.Context, from, to core.Date) ([]core.Transaction, error) {
	if s.failDue != nil {
		return nil, s.failDue
	}
	var out []core.Transaction
	for _, tx := range s.all() {
		if !tx.RecurrenceInterval.Recurs() || tx.NextRecurrenceDate == nil {
			continue
		}
		c := *tx.NextRecurrenceDate
		if (from.IsZero() || !c.Before(from)) && c.Before(to) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *memStore) CreateTransaction(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if s.failCreateFor[tx.Description] {
		return core.Transaction{}, core.Wrap(core.ErrPersistence, errors.New("disk full"))
	}
	return s.put(tx), nil
}

func (s *memStore) AdvanceCursor(_ context.Context, id string, prev, next core.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceLocked(id, prev, next)
}

func (s *memStore) advanceLocked(id string, prev, next core.Date) error {
	tx, ok := s.txs[id]
	if !ok || tx.NextRecurrenceDate == nil || !tx.NextRecurrenceDate.Equal(prev) {
		return core.ErrStaleCursor
	}
	tx.NextRecurrenceDate = &next
	s.txs[id] = tx
	return nil
}

func (s *memStore) MaterializeOccurrence(_ context.Context, templateID string, occ core.Transaction, prev, next core.Date) (core.Transaction, error) {
	if err := occ.Validate(); err != nil {
		return core.Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl, ok := s.txs[templateID]
	if !ok || tmpl.NextRecurrenceDate == nil || !tmpl.NextRecurrenceDate.Equal(prev) {
		return core.Transaction{}, core.ErrStaleCursor
	}
	if s.failCreateFor[occ.Description] {
		return core.Transaction{}, core.Wrap(core.ErrPersistence, errors.New("disk full"))
	}
	if err := s.advanceLocked(templateID, prev, next); err != nil {
		return core.Transaction{}, err
	}
	s.nextID++
	occ.ID = fmt.Sprintf("tx-%03d", s.nextID)
	s.txs[occ.ID] = occ
	return occ, nil
}

func (s *memStore) FindByOwnerAndRange(_ context.Context, ownerRef string, from, to core.Date) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, tx := range s.all() {
		if tx.OwnerRef == ownerRef && !tx.OccurrenceDate.Before(from) && tx.OccurrenceDate.Before(to) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *memStore) DistinctOwners(context.Context) ([]string, error) {
	if s.failOwners != nil {
		return nil, s.failOwners
	}
	seen := map[string]bool{}
	var out []string
	for _, tx := range s.all() {
		if !seen[tx.OwnerRef] {
			seen[tx.OwnerRef] = true
			out = append(out, tx.OwnerRef)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *memStore) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return core.Transaction{}, core.WithMessage(core.ErrNotFound, "transaction not found")
	}
	return tx, nil
}

func (s *memStore) UpdateTransaction(_ context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; !ok {
		return core.WithMessage(core.ErrNotFound, "transaction not found")
	}
	s.txs[tx.ID] = tx
	return nil
}

func (s *memStore) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[id]; !ok {
		return core.WithMessage(core.ErrNotFound, "transaction not found")
	}
	delete(s.txs, id)
	return nil
}

func (s *memStore) FindCategory(_ context.Context, id string) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categoryCalls++
	c, ok := s.categories[id]
	if !ok {
		return core.Category{}, core.WithMessage(core.ErrNotFound, "category not found")
	}
	return c, nil
}

func (s *memStore) FindCategoryByName(_ context.Context, ownerRef, name string) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.categories {
		if c.OwnerRef == ownerRef && strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return core.Category{}, core.WithMessage(core.ErrNotFound, "category not found")
}

func (s *memStore) CreateCategory(_ context.Context, c core.Category) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = fmt.Sprintf("cat-%d", len(s.categories)+1)
	}
	s.categories[c.ID] = c
	return c, nil
}

// recordingPublisher collects published jobs; owners in fail are rejected.
type recordingPublisher struct {
	mu   sync.Mutex
	jobs []*dispatch.ReportJob
	fail map[string]bool
}

func (p *recordingPublisher) PublishReportJob(_ context.Context, job *dispatch.ReportJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if p.fail[job.OwnerRef] {
		return core.Wrap(core.ErrQueueUnavailable, errors.New("broker down"))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *recordingPublisher) published() map[string]*dispatch.ReportJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*dispatch.ReportJob, len(p.jobs))
	for _, j := range p.jobs {
		out[j.OwnerRef] = j
	}
	return out
}

func datePtr(d core.Date) *core.Date { return &d }

func strPtr(s string) *string { return &s }

func testLogger() *log.Logger {
	return log.New(log.Config{Level: slog.LevelDebug, Output: io.Discard})
}
