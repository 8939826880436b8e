package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"expensetracker/internal/cache"
	"expensetracker/internal/core"
	"expensetracker/internal/log"
)

// CategoryResolver maps category ids to names through a shared LRU cache.
// Concurrent lookups of the same id hit the repository once.
type CategoryResolver struct {
	finder CategoryFinder
	names  *cache.LRUCache[string]
}

func NewCategoryResolver(finder CategoryFinder, names *cache.LRUCache[string]) *CategoryResolver {
	if names == nil {
		names = cache.NewLRUCache[string](1024, 10*time.Minute)
	}
	return &CategoryResolver{finder: finder, names: names}
}

// Resolve returns the names of the categories referenced by txs. Ids that
// no longer exist are left out, which the report renders as Uncategorized.
func (r *CategoryResolver) Resolve(ctx context.Context, txs []core.Transaction) (map[string]string, error) {
	out := make(map[string]string)
	for _, tx := range txs {
		if tx.CategoryID == nil {
			continue
		}
		id := *tx.CategoryID
		if _, seen := out[id]; seen {
			continue
		}

		name, err := r.names.GetOrLoad(id, func() (string, error) {
			c, err := r.finder.FindCategory(ctx, id)
			if errors.Is(err, core.ErrNotFound) {
				// Cached as empty so a dangling id is looked up once per ttl.
				return "", nil
			}
			if err != nil {
				return "", err
			}
			return c.Name, nil
		})
		if err != nil {
			return nil, fmt.Errorf("resolve category %s: %w", id, err)
		}
		if name != "" {
			out[id] = name
		}
	}
	return out, nil
}

// Forget drops a cached name, e.g. after a rename.
func (r *CategoryResolver) Forget(id string) {
	r.names.Delete(id)
}

// ReportBuilder assembles monthly reports from repository data.
type ReportBuilder struct {
	source     ReportSource
	categories *CategoryResolver
	logger     *log.Logger
}

func NewReportBuilder(source ReportSource, categories *CategoryResolver, logger *log.Logger) *ReportBuilder {
	if categories == nil {
		categories = NewCategoryResolver(source, nil)
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ReportBuilder{
		source:     source,
		categories: categories,
		logger:     logger.WithComponent(log.ComponentReports),
	}
}

// BuildMonthlyReport builds the report for the calendar month preceding referenceDate.
func (b *ReportBuilder) BuildMonthlyReport(ctx context.Context, ownerRef string, referenceDate time.Time) (core.Report, error) {
	return b.BuildReportForPeriod(ctx, ownerRef, core.MonthlyPeriod(referenceDate))
}

func (b *ReportBuilder) BuildReportForPeriod(ctx context.Context, ownerRef string, period core.Period) (core.Report, error) {
	if ownerRef == "" {
		return core.Report{}, core.ErrEmptyOwner
	}

	txs, err := b.source.FindByOwnerAndRange(ctx, ownerRef, period.Start, period.End)
	if err != nil {
		return core.Report{}, fmt.Errorf("load transactions for %s %s: %w", ownerRef, period.Label, err)
	}

	names, err := b.categories.Resolve(ctx, txs)
	if err != nil {
		return core.Report{}, err
	}

	report := core.BuildReport(ownerRef, period, txs, names)
	b.logger.DebugContext(ctx, "Built monthly report",
		log.FieldOwnerRef, ownerRef,
		log.FieldPeriod, period.Label,
		"transactions", report.Summary.TotalTransactions,
		"categories", len(report.Categories))
	return report, nil
}

// DailySummary returns the owner's per-day totals for the last
// core.DailySummaryDays days up to and including the calendar day of now.
func (b *ReportBuilder) DailySummary(ctx context.Context, ownerRef string, now time.Time) ([]core.DailyTotal, error) {
	if ownerRef == "" {
		return nil, core.ErrEmptyOwner
	}

	from, to := core.DailySummaryRange(core.DateOf(now))
	txs, err := b.source.FindByOwnerAndRange(ctx, ownerRef, from, to)
	if err != nil {
		return nil, fmt.Errorf("load transactions for %s since %s: %w", ownerRef, from, err)
	}
	return core.BuildDailySummary(txs, from, to), nil
}
