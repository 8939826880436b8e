package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDailySummaryRange(t *testing.T) {
	from, to := DailySummaryRange(NewDate(2024, 3, 10))
	if !from.Equal(NewDate(2024, 2, 9)) {
		t.Errorf("DailySummaryRange() from = %v, want 2024-02-09", from)
	}
	if !to.Equal(NewDate(2024, 3, 11)) {
		t.Errorf("DailySummaryRange() to = %v, want 2024-03-11", to)
	}
}

func TestBuildDailySummary(t *testing.T) {
	tx := func(date Date, amount string) Transaction {
		return Transaction{OwnerRef: "user-1", Amount: decimal.RequireFromString(amount), Description: "x", OccurrenceDate: date}
	}
	from, to := NewDate(2024, 3, 1), NewDate(2024, 3, 11)
	txs := []Transaction{
		tx(NewDate(2024, 3, 5), "-10.50"),
		tx(NewDate(2024, 3, 2), "-4"),
		tx(NewDate(2024, 3, 5), "25"),
		tx(NewDate(2024, 2, 29), "-100"), // before from
		tx(NewDate(2024, 3, 11), "-100"), // to is exclusive
		tx(NewDate(2024, 3, 1), "-1"),
	}

	got := BuildDailySummary(txs, from, to)
	want := []DailyTotal{
		{Date: NewDate(2024, 3, 1), TotalAmount: decimal.RequireFromString("-1"), Count: 1},
		{Date: NewDate(2024, 3, 2), TotalAmount: decimal.RequireFromString("-4"), Count: 1},
		{Date: NewDate(2024, 3, 5), TotalAmount: decimal.RequireFromString("14.5"), Count: 2},
	}
	if len(got) != len(want) {
		t.Fatalf("BuildDailySummary() returned %d days, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if !got[i].Date.Equal(want[i].Date) || !got[i].TotalAmount.Equal(want[i].TotalAmount) || got[i].Count != want[i].Count {
			t.Errorf("BuildDailySummary()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestBuildDailySummary_Empty(t *testing.T) {
	got := BuildDailySummary(nil, NewDate(2024, 3, 1), NewDate(2024, 3, 2))
	if got == nil || len(got) != 0 {
		t.Errorf("BuildDailySummary(nil) = %#v, want empty slice", got)
	}
}
