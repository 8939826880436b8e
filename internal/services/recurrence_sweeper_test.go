package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"expensetracker/internal/core"
	"expensetracker/internal/storage"
)

func recurring(owner, desc string, amount int64, date core.Date, interval core.RecurrenceInterval, cursor core.Date) core.Transaction {
	return core.Transaction{
		OwnerRef:           owner,
		Amount:             decimal.NewFromInt(amount),
		Description:        desc,
		OccurrenceDate:     date,
		RecurrenceInterval: interval,
		NextRecurrenceDate: datePtr(cursor),
	}
}

func TestRecurrenceSweeper_MaterializesDueTemplate(t *testing.T) {
	store := newMemStore()
	catID := "cat-rent"
	tmpl := recurring("user-1", "Rent", 100, core.NewDate(2024, 1, 15), core.IntervalMonthly, core.NewDate(2024, 1, 15))
	tmpl.CategoryID = &catID
	tmpl = store.put(tmpl)

	sweeper := NewRecurrenceSweeper(store, SweeperConfig{}, testLogger())
	result, err := sweeper.Sweep(context.Background(), core.NewDate(2024, 1, 15))
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if result != (SweepResult{Due: 1, Materialized: 1}) {
		t.Errorf("Sweep() = %+v, want {Due:1 Materialized:1 Failed:0}", result)
	}

	var created *core.Transaction
	for _, tx := range store.all() {
		if tx.ID != tmpl.ID {
			c := tx
			created = &c
		}
	}
	if created == nil {
		t.Fatal("no transaction was materialized")
	}
	if !created.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Amount = %s, want 100", created.Amount)
	}
	if !created.OccurrenceDate.Equal(core.NewDate(2024, 1, 15)) {
		t.Errorf("OccurrenceDate = %s, want 2024-01-15", created.OccurrenceDate)
	}
	if created.RecurrenceInterval != core.IntervalNone || created.NextRecurrenceDate != nil {
		t.Errorf("copy recurs: interval %s, cursor %v", created.RecurrenceInterval, created.NextRecurrenceDate)
	}
	if created.CategoryID == nil || *created.CategoryID != catID || created.OwnerRef != "user-1" {
		t.Errorf("copy lost category or owner: %+v", created)
	}

	src, _ := store.GetTransaction(context.Background(), tmpl.ID)
	if want := core.NewDate(2024, 2, 15); !src.NextRecurrenceDate.Equal(want) {
		t.Errorf("cursor = %s, want %s", src.NextRecurrenceDate, want)
	}
}

func TestRecurrenceSweeper_SecondRunSameDayIsNoop(t *testing.T) {
	store := newMemStore()
	store.put(recurring("user-1", "Gym", -30, core.NewDate(2024, 1, 1), core.IntervalWeekly, core.NewDate(2024, 3, 4)))
	store.put(recurring("user-2", "Coffee", -3, core.NewDate(2024, 3, 3), core.IntervalDaily, core.NewDate(2024, 3, 4)))

	sweeper := NewRecurrenceSweeper(store, SweeperConfig{}, testLogger())
	today := core.NewDate(2024, 3, 4)

	first, err := sweeper.Sweep(context.Background(), today)
	if err != nil {
		t.Fatalf("first Sweep() error = %v", err)
	}
	if first.Materialized != 2 {
		t.Fatalf("first Sweep() materialized %d, want 2", first.Materialized)
	}

	second, err := sweeper.Sweep(context.Background(), today)
	if err != nil {
		t.Fatalf("second Sweep() error = %v", err)
	}
	if second != (SweepResult{}) {
		t.Errorf("second Sweep() = %+v, want nothing due", second)
	}
	if n := len(store.all()); n != 4 {
		t.Errorf("store holds %d transactions, want 4", n)
	}
}

func TestRecurrenceSweeper_MonthEndAnchor(t *testing.T) {
	store := newMemStore()
	tmpl := store.put(recurring("user-1", "Salary", 2500, core.NewDate(2024, 1, 31), core.IntervalMonthly, core.NewDate(2024, 2, 29)))

	sweeper := NewRecurrenceSweeper(store, SweeperConfig{}, testLogger())
	if _, err := sweeper.Sweep(context.Background(), core.NewDate(2024, 2, 29)); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	src, _ := store.GetTransaction(context.Background(), tmpl.ID)
	if want := core.NewDate(2024, 3, 31); !src.NextRecurrenceDate.Equal(want) {
		t.Errorf("cursor = %s, want %s", src.NextRecurrenceDate, want)
	}
}

func TestRecurrenceSweeper_AnchorFollowsCursor(t *testing.T) {
	tests := []struct {
		name     string
		occurred core.Date
		cursor   core.Date
		want     core.Date
	}{
		{"cursor moved to the 20th", core.NewDate(2024, 1, 15), core.NewDate(2024, 1, 20), core.NewDate(2024, 2, 20)},
		{"clamped month end restores the 31st", core.NewDate(2024, 1, 31), core.NewDate(2024, 2, 29), core.NewDate(2024, 3, 31)},
		{"cursor before series day", core.NewDate(2024, 1, 31), core.NewDate(2024, 3, 10), core.NewDate(2024, 4, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			tmpl := store.put(recurring("user-1", "Rent", -800, tt.occurred, core.IntervalMonthly, tt.cursor))

			sweeper := NewRecurrenceSweeper(store, SweeperConfig{}, testLogger())
			if _, err := sweeper.Sweep(context.Background(), tt.cursor); err != nil {
				t.Fatalf("Sweep() error = %v", err)
			}

			src, _ := store.GetTransaction(context.Background(), tmpl.ID)
			if !src.NextRecurrenceDate.Equal(tt.want) {
				t.Errorf("cursor = %s, want %s", src.NextRecurrenceDate, tt.want)
			}
		})
	}
}

// rendezvousStore holds every FindDueRecurring caller until all of them have
// read the due set, so concurrent sweeps race on the same templates.
type rendezvousStore struct {
	*storage.SQLiteRepository
	arrived sync.WaitGroup
}

func (s *rendezvousStore) FindDueRecurring(ctx context.Context, from, to core.Date) ([]core.Transaction, error) {
	due, err := s.SQLiteRepository.FindDueRecurring(ctx, from, to)
	s.arrived.Done()
	s.arrived.Wait()
	return due, err
}

func TestRecurrenceSweeper_ConcurrentSweepsMaterializeOnce(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "sweep.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	today := core.NewDate(2024, 1, 15)
	if _, err := repo.CreateTransaction(ctx, recurring("user-1", "Rent", -800, today, core.IntervalMonthly, today)); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	store := &rendezvousStore{SQLiteRepository: repo}
	store.arrived.Add(2)
	sweeper := NewRecurrenceSweeper(store, SweeperConfig{}, testLogger())

	var wg sync.WaitGroup
	results := make([]SweepResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = sweeper.Sweep(ctx, today)
		}(i)
	}
	wg.Wait()

	var total SweepResult
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("Sweep() error = %v", errs[i])
		}
		total.Due += results[i].Due
		total.Materialized += results[i].Materialized
		total.Skipped += results[i].Skipped
		total.Failed += results[i].Failed
	}
	if want := (SweepResult{Due: 2, Materialized: 1, Skipped: 1}); total != want {
		t.Errorf("Sweep() totals = %+v, want %+v", total, want)
	}

	txs, err := repo.FindByOwnerAndRange(ctx, "user-1", today, today.AddDays(1))
	if err != nil {
		t.Fatalf("FindByOwnerAndRange() error = %v", err)
	}
	copies := 0
	for _, tx := range txs {
		if !tx.RecurrenceInterval.Recurs() {
			copies++
		}
	}
	if copies != 1 {
		t.Errorf("copies on %s = %d, want 1", today, copies)
	}
}

func TestRecurrenceSweeper_FailureIsolation(t *testing.T) {
	store := newMemStore()
	today := core.NewDate(2024, 5, 10)
	bad := store.put(recurring("user-1", "Broken", -10, core.NewDate(2024, 4, 10), core.IntervalMonthly, today))
	good := store.put(recurring("user-2", "Netflix", -12, core.NewDate(2024, 4, 10), core.IntervalMonthly, today))
	store.failCreateFor["Broken"] = true

	sweeper := NewRecurrenceSweeper(store, SweeperConfig{}, testLogger())
	result, err := sweeper.Sweep(context.Background(), today)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if result != (SweepResult{Due: 2, Materialized: 1, Failed: 1}) {
		t.Errorf("Sweep() = %+v, want {Due:2 Materialized:1 Failed:1}", result)
	}

	// The failed template keeps its cursor so the next run retries it.
	b, _ := store.GetTransaction(context.Background(), bad.ID)
	if !b.NextRecurrenceDate.Equal(today) {
		t.Errorf("failed template cursor = %s, want %s", b.NextRecurrenceDate, today)
	}
	g, _ := store.GetTransaction(context.Background(), good.ID)
	if want := core.NewDate(2024, 6, 10); !g.NextRecurrenceDate.Equal(want) {
		t.Errorf("good template cursor = %s, want %s", g.NextRecurrenceDate, want)
	}
}

func TestRecurrenceSweeper_CatchUp(t *testing.T) {
	tests := []struct {
		name    string
		catchUp bool
		want    SweepResult
	}{
		{"window only", false, SweepResult{}},
		{"catch up", true, SweepResult{Due: 1, Materialized: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.put(recurring("user-1", "Missed", -5, core.NewDate(2024, 5, 1), core.IntervalDaily, core.NewDate(2024, 5, 8)))

			sweeper := NewRecurrenceSweeper(store, SweeperConfig{CatchUp: tt.catchUp}, testLogger())
			got, err := sweeper.Sweep(context.Background(), core.NewDate(2024, 5, 10))
			if err != nil {
				t.Fatalf("Sweep() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Sweep() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRecurrenceSweeper_QueryFailure(t *testing.T) {
	store := newMemStore()
	store.failDue = core.Wrap(core.ErrPersistence, errors.New("locked"))

	sweeper := NewRecurrenceSweeper(store, SweeperConfig{}, testLogger())
	if _, err := sweeper.Sweep(context.Background(), core.NewDate(2024, 1, 1)); !errors.Is(err, core.ErrPersistence) {
		t.Errorf("Sweep() error = %v, want persistence error", err)
	}
}
