package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Row types mirror the table columns; dates are YYYY-MM-DD text and amounts
// are decimal text.
type (
	TransactionRow struct {
		ID                 string
		OwnerRef           string
		Amount             string
		Description        string
		OccurrenceDate     string
		CategoryID         sql.NullString
		RecurrenceInterval string
		NextRecurrenceDate sql.NullString
	}

	CategoryRow struct {
		ID       string
		Name     string
		OwnerRef string
	}
)

const transactionColumns = `id, owner_ref, amount, description, occurrence_date, category_id, recurrence_interval, next_recurrence_date`

func scanTransaction(row interface{ Scan(...any) error }) (TransactionRow, error) {
	var i TransactionRow
	err := row.Scan(
		&i.ID,
		&i.OwnerRef,
		&i.Amount,
		&i.Description,
		&i.OccurrenceDate,
		&i.CategoryID,
		&i.RecurrenceInterval,
		&i.NextRecurrenceDate,
	)
	return i, err
}

func (q *Queries) listTransactions(ctx context.Context, query string, args ...interface{}) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TransactionRow
	for rows.Next() {
		i, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createTransaction = `
INSERT INTO transactions (` + transactionColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateTransaction(ctx context.Context, arg TransactionRow) error {
	_, err := q.db.ExecContext(ctx, createTransaction,
		arg.ID,
		arg.OwnerRef,
		arg.Amount,
		arg.Description,
		arg.OccurrenceDate,
		arg.CategoryID,
		arg.RecurrenceInterval,
		arg.NextRecurrenceDate,
	)
	return err
}

const getTransaction = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE id = ?`

func (q *Queries) GetTransaction(ctx context.Context, id string) (TransactionRow, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransaction, id))
}

const listTransactionsByOwnerAndRange = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE owner_ref = ? AND occurrence_date >= ? AND occurrence_date < ?
ORDER BY occurrence_date, id`

func (q *Queries) ListTransactionsByOwnerAndRange(ctx context.Context, ownerRef, from, to string) ([]TransactionRow, error) {
	return q.listTransactions(ctx, listTransactionsByOwnerAndRange, ownerRef, from, to)
}

const listDueRecurring = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE recurrence_interval <> 'none'
  AND next_recurrence_date >= ?
  AND next_recurrence_date < ?
ORDER BY next_recurrence_date, id`

func (q *Queries) ListDueRecurring(ctx context.Context, from, to string) ([]TransactionRow, error) {
	return q.listTransactions(ctx, listDueRecurring, from, to)
}

const updateTransaction = `
UPDATE transactions
SET amount = ?, description = ?, occurrence_date = ?, category_id = ?,
    recurrence_interval = ?, next_recurrence_date = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?`

func (q *Queries) UpdateTransaction(ctx context.Context, arg TransactionRow) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateTransaction,
		arg.Amount,
		arg.Description,
		arg.OccurrenceDate,
		arg.CategoryID,
		arg.RecurrenceInterval,
		arg.NextRecurrenceDate,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const advanceCursor = `
UPDATE transactions
SET next_recurrence_date = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND next_recurrence_date = ?`

// AdvanceCursor moves the cursor only if it still holds prev.
func (q *Queries) AdvanceCursor(ctx context.Context, id, prev, next string) (int64, error) {
	result, err := q.db.ExecContext(ctx, advanceCursor, next, id, prev)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteTransaction = `DELETE FROM transactions WHERE id = ?`

func (q *Queries) DeleteTransaction(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteTransaction, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listDistinctOwners = `SELECT DISTINCT owner_ref FROM transactions ORDER BY owner_ref`

func (q *Queries) ListDistinctOwners(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listDistinctOwners)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		items = append(items, owner)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getCategory = `SELECT id, name, owner_ref FROM categories WHERE id = ?`

func (q *Queries) GetCategory(ctx context.Context, id string) (CategoryRow, error) {
	var i CategoryRow
	err := q.db.QueryRowContext(ctx, getCategory, id).Scan(&i.ID, &i.Name, &i.OwnerRef)
	return i, err
}

const getCategoryByName = `
SELECT id, name, owner_ref FROM categories
WHERE owner_ref = ? AND name = ? COLLATE NOCASE`

func (q *Queries) GetCategoryByName(ctx context.Context, ownerRef, name string) (CategoryRow, error) {
	var i CategoryRow
	err := q.db.QueryRowContext(ctx, getCategoryByName, ownerRef, name).Scan(&i.ID, &i.Name, &i.OwnerRef)
	return i, err
}

const createCategory = `INSERT INTO categories (id, owner_ref, name) VALUES (?, ?, ?)`

func (q *Queries) CreateCategory(ctx context.Context, arg CategoryRow) error {
	_, err := q.db.ExecContext(ctx, createCategory, arg.ID, arg.OwnerRef, arg.Name)
	return err
}

const isReportDelivered = `
SELECT EXISTS (SELECT 1 FROM delivered_reports WHERE owner_ref = ? AND period = ?)`

func (q *Queries) IsReportDelivered(ctx context.Context, ownerRef, period string) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, isReportDelivered, ownerRef, period).Scan(&exists)
	return exists, err
}

const markReportDelivered = `
INSERT INTO delivered_reports (owner_ref, period, ref)
VALUES (?, ?, ?)
ON CONFLICT (owner_ref, period) DO NOTHING`

func (q *Queries) MarkReportDelivered(ctx context.Context, ownerRef, period, ref string) error {
	_, err := q.db.ExecContext(ctx, markReportDelivered, ownerRef, period, ref)
	return err
}

const acquireTaskLock = `
INSERT INTO task_locks (name, holder, expires_at)
VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE
SET holder = excluded.holder, expires_at = excluded.expires_at
WHERE task_locks.expires_at < ?`

// AcquireTaskLock returns 1 when the lock was taken, 0 when another holder
// owns an unexpired lease.
func (q *Queries) AcquireTaskLock(ctx context.Context, name, holder string, expiresAt, now int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, acquireTaskLock, name, holder, expiresAt, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const releaseTaskLock = `DELETE FROM task_locks WHERE name = ? AND holder = ?`

func (q *Queries) ReleaseTaskLock(ctx context.Context, name, holder string) error {
	_, err := q.db.ExecContext(ctx, releaseTaskLock, name, holder)
	return err
}
