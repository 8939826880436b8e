package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// DailySummaryDays is how far back a daily summary reaches, today included.
const DailySummaryDays = 30

// DailyTotal is the signed sum and count of one day's transactions.
type DailyTotal struct {
	Date        Date            `json:"date"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Count       int             `json:"count"`
}

// DailySummaryRange returns the [from, to) range a daily summary ending on
// today covers.
func DailySummaryRange(today Date) (Date, Date) {
	return today.AddDays(-DailySummaryDays), today.AddDays(1)
}

// BuildDailySummary groups txs dated in [from, to) by day, oldest first.
// Days without transactions are left out.
func BuildDailySummary(txs []Transaction, from, to Date) []DailyTotal {
	byDay := make(map[string]*DailyTotal)
	for _, tx := range txs {
		d := tx.OccurrenceDate
		if d.Before(from) || !d.Before(to) {
			continue
		}
		dt, ok := byDay[d.String()]
		if !ok {
			dt = &DailyTotal{Date: d, TotalAmount: decimal.Zero}
			byDay[d.String()] = dt
		}
		dt.TotalAmount = dt.TotalAmount.Add(tx.Amount)
		dt.Count++
	}

	out := make([]DailyTotal, 0, len(byDay))
	for _, dt := range byDay {
		out = append(out, *dt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
