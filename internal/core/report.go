package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PeriodLayout is the label format of a monthly period.
const PeriodLayout = "2006-01"

var hundred = decimal.NewFromInt(100)

type (
	// Period is the half-open date range [Start, End) of one calendar month.
	Period struct {
		Label string `json:"label"`
		Start Date   `json:"startDate"`
		End   Date   `json:"endDate"`
	}

	Summary struct {
		TotalTransactions int             `json:"totalTransactions"`
		TotalAmount       decimal.Decimal `json:"totalAmount"`
		AverageAmount     decimal.Decimal `json:"averageAmount"`
	}

	CategorySummary struct {
		CategoryID   string          `json:"categoryId,omitempty"`
		CategoryName string          `json:"categoryName"`
		TotalAmount  decimal.Decimal `json:"totalAmount"`
		Count        int             `json:"count"`
		Percentage   decimal.Decimal `json:"percentage"`
	}

	TransactionSummary struct {
		ID          string          `json:"id"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
		Date        Date            `json:"date"`
		Category    string          `json:"category"`
	}

	Report struct {
		OwnerRef     string               `json:"ownerRef"`
		Period       Period               `json:"period"`
		Summary      Summary              `json:"summary"`
		Categories   []CategorySummary    `json:"categorySummary"`
		Transactions []TransactionSummary `json:"transactions"`
	}
)

// MonthlyPeriod returns the calendar month preceding the month of ref,
// evaluated on ref's calendar date.
func MonthlyPeriod(ref time.Time) Period {
	d := DateOf(ref)
	end := NewDate(d.Year(), d.Month(), 1)
	start := NewDate(end.Year(), end.Month()-1, 1)
	return Period{Label: start.Format(PeriodLayout), Start: start, End: end}
}

// ParsePeriod parses a YYYY-MM label into its period.
func ParsePeriod(label string) (Period, error) {
	t, err := time.Parse(PeriodLayout, strings.TrimSpace(label))
	if err != nil {
		return Period{}, WithMessage(ErrValidation, fmt.Sprintf("invalid period %q: want YYYY-MM", label))
	}
	start := DateOf(t)
	return Period{Label: start.Format(PeriodLayout), Start: start, End: NewDate(start.Year(), start.Month()+1, 1)}, nil
}

// Contains reports whether d falls in [Start, End).
func (p Period) Contains(d Date) bool {
	return !d.Before(p.Start) && d.Before(p.End)
}

// BuildReport aggregates txs for one owner and period. categoryNames maps
// category ids to display names; ids without an entry are reported as
// Uncategorized. Transactions outside the period are ignored.
func BuildReport(ownerRef string, period Period, txs []Transaction, categoryNames map[string]string) Report {
	report := Report{
		OwnerRef:     ownerRef,
		Period:       period,
		Categories:   []CategorySummary{},
		Transactions: []TransactionSummary{},
	}

	total := decimal.Zero
	byCategory := make(map[string]*CategorySummary)

	for _, tx := range txs {
		if !period.Contains(tx.OccurrenceDate) {
			continue
		}

		id, name := "", UncategorizedLabel
		if tx.CategoryID != nil {
			if n, ok := categoryNames[*tx.CategoryID]; ok && n != "" {
				id, name = *tx.CategoryID, n
			}
		}

		cs, ok := byCategory[id]
		if !ok {
			cs = &CategorySummary{CategoryID: id, CategoryName: name, TotalAmount: decimal.Zero}
			byCategory[id] = cs
		}
		cs.TotalAmount = cs.TotalAmount.Add(tx.Amount)
		cs.Count++

		total = total.Add(tx.Amount)
		report.Transactions = append(report.Transactions, TransactionSummary{
			ID:          tx.ID,
			Amount:      tx.Amount,
			Description: tx.Description,
			Date:        tx.OccurrenceDate,
			Category:    name,
		})
	}

	count := len(report.Transactions)
	report.Summary = Summary{
		TotalTransactions: count,
		TotalAmount:       total,
		AverageAmount:     total.Div(decimal.NewFromInt(int64(max(count, 1)))).Round(amountScale),
	}

	// A zero total divides by one.
	divisor := total
	if divisor.IsZero() {
		divisor = decimal.NewFromInt(1)
	}
	for _, cs := range byCategory {
		cs.Percentage = cs.TotalAmount.Div(divisor).Mul(hundred).Round(amountScale)
		report.Categories = append(report.Categories, *cs)
	}

	sort.Slice(report.Categories, func(i, j int) bool {
		a, b := report.Categories[i], report.Categories[j]
		if c := a.TotalAmount.Cmp(b.TotalAmount); c != 0 {
			return c > 0
		}
		if a.CategoryName != b.CategoryName {
			return a.CategoryName < b.CategoryName
		}
		return a.CategoryID < b.CategoryID
	})
	sort.SliceStable(report.Transactions, func(i, j int) bool {
		a, b := report.Transactions[i], report.Transactions[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID < b.ID
	})

	return report
}

// FormatReport renders a plain-text digest of r.
func FormatReport(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Monthly report %s for %s (%s to %s)\n", r.Period.Label, r.OwnerRef, r.Period.Start, r.Period.End.AddDays(-1))
	fmt.Fprintf(&b, "Transactions: %d  Total: %s  Average: %s\n",
		r.Summary.TotalTransactions, FormatAmount(r.Summary.TotalAmount), FormatAmount(r.Summary.AverageAmount))
	for _, c := range r.Categories {
		fmt.Fprintf(&b, "  %-24s %12s  %3d  %6s%%\n", c.CategoryName, FormatAmount(c.TotalAmount), c.Count, c.Percentage.StringFixed(2))
	}
	return b.String()
}
