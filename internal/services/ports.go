// Package services orchestrates the recurring-transaction and monthly report
// pipelines on top of the repository and the dispatch queue.
package services

import (
	"context"

	"expensetracker/internal/core"
	"expensetracker/internal/dispatch"
)

// RecurringStore is what the sweeper needs from the repository.
type RecurringStore interface {
	FindDueRecurring(ctx context.Context, from, to core.Date) ([]core.Transaction, error)
	// MaterializeOccurrence stores occurrence and moves the template cursor
	// from prev to next atomically. It returns core.ErrStaleCursor, writing
	// nothing, when the cursor no longer equals prev.
	MaterializeOccurrence(ctx context.Context, templateID string, occurrence core.Transaction, prev, next core.Date) (core.Transaction, error)
}

// CategoryFinder looks up a category by id.
type CategoryFinder interface {
	FindCategory(ctx context.Context, id string) (core.Category, error)
}

// ReportSource is what the report builder needs from the repository.
type ReportSource interface {
	CategoryFinder
	FindByOwnerAndRange(ctx context.Context, ownerRef string, from, to core.Date) ([]core.Transaction, error)
}

// OwnerLister enumerates owners that have at least one transaction.
type OwnerLister interface {
	DistinctOwners(ctx context.Context) ([]string, error)
}

// TransactionStore is the full repository contract.
type TransactionStore interface {
	RecurringStore
	ReportSource
	OwnerLister
	CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
	// AdvanceCursor moves the cursor from prev to next only if it still equals prev.
	AdvanceCursor(ctx context.Context, id string, prev, next core.Date) error
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, tx core.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error
	FindCategoryByName(ctx context.Context, ownerRef, name string) (core.Category, error)
	CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
}

// ReportPublisher hands report jobs to the dispatch queue.
type ReportPublisher interface {
	PublishReportJob(ctx context.Context, job *dispatch.ReportJob) error
}
