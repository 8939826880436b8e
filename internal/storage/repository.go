package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"expensetracker/internal/core"

	_ "modernc.org/sqlite"
)

var ErrStaleCursor = core.ErrStaleCursor

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection keeps writers from
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateTransaction validates and stores tx, assigning an id when empty.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	tx, err := prepareInsert(tx)
	if err != nil {
		return core.Transaction{}, err
	}

	if err := r.queries.CreateTransaction(ctx, toRow(tx)); err != nil {
		return core.Transaction{}, core.Wrap(core.ErrPersistence, fmt.Errorf("create transaction: %w", err))
	}

	slog.DebugContext(ctx, "Transaction saved to SQLite",
		"id", tx.ID,
		"owner_ref", tx.OwnerRef,
		"occurrence_date", tx.OccurrenceDate.String(),
		"interval", tx.RecurrenceInterval)

	return tx, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row, err := r.queries.GetTransaction(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.WithMessage(core.ErrNotFound, fmt.Sprintf("transaction %s not found", id))
	}
	if err != nil {
		return core.Transaction{}, core.Wrap(core.ErrPersistence, fmt.Errorf("get transaction %s: %w", id, err))
	}
	return fromRow(row)
}

// FindByOwnerAndRange returns the owner's transactions dated in [from, to).
func (r *SQLiteRepository) FindByOwnerAndRange(ctx context.Context, ownerRef string, from, to core.Date) ([]core.Transaction, error) {
	rows, err := r.queries.ListTransactionsByOwnerAndRange(ctx, ownerRef, from.String(), to.String())
	if err != nil {
		return nil, core.Wrap(core.ErrPersistence, fmt.Errorf("list transactions for %s: %w", ownerRef, err))
	}
	return fromRows(rows)
}

// FindDueRecurring returns recurring transactions whose cursor lies in
// [from, to). A zero from selects every cursor before to.
func (r *SQLiteRepository) FindDueRecurring(ctx context.Context, from, to core.Date) ([]core.Transaction, error) {
	lower := ""
	if !from.IsZero() {
		lower = from.String()
	}
	rows, err := r.queries.ListDueRecurring(ctx, lower, to.String())
	if err != nil {
		return nil, core.Wrap(core.ErrPersistence, fmt.Errorf("list due recurring transactions: %w", err))
	}
	return fromRows(rows)
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	n, err := r.queries.UpdateTransaction(ctx, toRow(tx))
	if err != nil {
		return core.Wrap(core.ErrPersistence, fmt.Errorf("update transaction %s: %w", tx.ID, err))
	}
	if n == 0 {
		return core.WithMessage(core.ErrNotFound, fmt.Sprintf("transaction %s not found", tx.ID))
	}
	return nil
}

// AdvanceCursor sets the cursor of id to next if it still equals prev.
func (r *SQLiteRepository) AdvanceCursor(ctx context.Context, id string, prev, next core.Date) error {
	n, err := r.queries.AdvanceCursor(ctx, id, prev.String(), next.String())
	if err != nil {
		return core.Wrap(core.ErrPersistence, fmt.Errorf("advance cursor of %s: %w", id, err))
	}
	if n == 0 {
		return ErrStaleCursor
	}
	return nil
}

// MaterializeOccurrence advances the cursor of templateID from prev to next
// and stores occurrence in one database transaction. When the cursor no
// longer equals prev nothing is written and ErrStaleCursor is returned.
func (r *SQLiteRepository) MaterializeOccurrence(ctx context.Context, templateID string, occurrence core.Transaction, prev, next core.Date) (core.Transaction, error) {
	occurrence, err := prepareInsert(occurrence)
	if err != nil {
		return core.Transaction{}, err
	}

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Transaction{}, core.Wrap(core.ErrPersistence, fmt.Errorf("begin materialize: %w", err))
	}
	defer func() { _ = dbtx.Rollback() }()

	q := r.queries.WithTx(dbtx)
	n, err := q.AdvanceCursor(ctx, templateID, prev.String(), next.String())
	if err != nil {
		return core.Transaction{}, core.Wrap(core.ErrPersistence, fmt.Errorf("advance cursor of %s: %w", templateID, err))
	}
	if n == 0 {
		return core.Transaction{}, ErrStaleCursor
	}
	if err := q.CreateTransaction(ctx, toRow(occurrence)); err != nil {
		return core.Transaction{}, core.Wrap(core.ErrPersistence, fmt.Errorf("create occurrence of %s: %w", templateID, err))
	}
	if err := dbtx.Commit(); err != nil {
		return core.Transaction{}, core.Wrap(core.ErrPersistence, fmt.Errorf("commit materialize of %s: %w", templateID, err))
	}

	slog.DebugContext(ctx, "Occurrence materialized in SQLite",
		"template_id", templateID,
		"id", occurrence.ID,
		"cursor", prev.String(),
		"next_cursor", next.String())

	return occurrence, nil
}

func prepareInsert(tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if tx.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return core.Transaction{}, fmt.Errorf("generate transaction id: %w", err)
		}
		tx.ID = id.String()
	}
	return tx, nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id string) error {
	n, err := r.queries.DeleteTransaction(ctx, id)
	if err != nil {
		return core.Wrap(core.ErrPersistence, fmt.Errorf("delete transaction %s: %w", id, err))
	}
	if n == 0 {
		return core.WithMessage(core.ErrNotFound, fmt.Sprintf("transaction %s not found", id))
	}
	return nil
}

// DistinctOwners lists every owner with at least one transaction.
func (r *SQLiteRepository) DistinctOwners(ctx context.Context) ([]string, error) {
	owners, err := r.queries.ListDistinctOwners(ctx)
	if err != nil {
		return nil, core.Wrap(core.ErrPersistence, fmt.Errorf("list distinct owners: %w", err))
	}
	return owners, nil
}

func (r *SQLiteRepository) FindCategory(ctx context.Context, id string) (core.Category, error) {
	row, err := r.queries.GetCategory(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, core.WithMessage(core.ErrNotFound, fmt.Sprintf("category %s not found", id))
	}
	if err != nil {
		return core.Category{}, core.Wrap(core.ErrPersistence, fmt.Errorf("get category %s: %w", id, err))
	}
	return core.Category(row), nil
}

func (r *SQLiteRepository) FindCategoryByName(ctx context.Context, ownerRef, name string) (core.Category, error) {
	row, err := r.queries.GetCategoryByName(ctx, ownerRef, name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, core.WithMessage(core.ErrNotFound, fmt.Sprintf("category %q not found", name))
	}
	if err != nil {
		return core.Category{}, core.Wrap(core.ErrPersistence, fmt.Errorf("get category %q: %w", name, err))
	}
	return core.Category(row), nil
}

func (r *SQLiteRepository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if c.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return core.Category{}, fmt.Errorf("generate category id: %w", err)
		}
		c.ID = id.String()
	}
	if err := r.queries.CreateCategory(ctx, CategoryRow(c)); err != nil {
		return core.Category{}, core.Wrap(core.ErrPersistence, fmt.Errorf("create category %q: %w", c.Name, err))
	}
	return c, nil
}

// IsReportDelivered reports whether the owner's report for period was
// already handed to the export sink.
func (r *SQLiteRepository) IsReportDelivered(ctx context.Context, ownerRef, period string) (bool, error) {
	ok, err := r.queries.IsReportDelivered(ctx, ownerRef, period)
	if err != nil {
		return false, core.Wrap(core.ErrPersistence, fmt.Errorf("check delivered report: %w", err))
	}
	return ok, nil
}

func (r *SQLiteRepository) MarkReportDelivered(ctx context.Context, ownerRef, period, ref string) error {
	if err := r.queries.MarkReportDelivered(ctx, ownerRef, period, ref); err != nil {
		return core.Wrap(core.ErrPersistence, fmt.Errorf("mark report delivered: %w", err))
	}
	return nil
}

func toRow(tx core.Transaction) TransactionRow {
	row := TransactionRow{
		ID:                 tx.ID,
		OwnerRef:           tx.OwnerRef,
		Amount:             tx.Amount.String(),
		Description:        tx.Description,
		OccurrenceDate:     tx.OccurrenceDate.String(),
		RecurrenceInterval: string(tx.RecurrenceInterval),
	}
	if tx.CategoryID != nil {
		row.CategoryID = sql.NullString{String: *tx.CategoryID, Valid: true}
	}
	if tx.NextRecurrenceDate != nil {
		row.NextRecurrenceDate = sql.NullString{String: tx.NextRecurrenceDate.String(), Valid: true}
	}
	return row
}

func fromRow(row TransactionRow) (core.Transaction, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s: parse amount %q: %w", row.ID, row.Amount, err)
	}
	date, err := core.ParseDate(row.OccurrenceDate)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", row.ID, err)
	}

	tx := core.Transaction{
		ID:                 row.ID,
		OwnerRef:           row.OwnerRef,
		Amount:             amount,
		Description:        row.Description,
		OccurrenceDate:     date,
		RecurrenceInterval: core.RecurrenceInterval(row.RecurrenceInterval),
	}
	if row.CategoryID.Valid {
		id := row.CategoryID.String
		tx.CategoryID = &id
	}
	if row.NextRecurrenceDate.Valid {
		next, err := core.ParseDate(row.NextRecurrenceDate.String)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("transaction %s: %w", row.ID, err)
		}
		tx.NextRecurrenceDate = &next
	}
	return tx, nil
}

func fromRows(rows []TransactionRow) ([]core.Transaction, error) {
	out := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}
