package core

import "testing"

func TestNextOccurrence(t *testing.T) {
	tests := []struct {
		name     string
		base     Date
		interval RecurrenceInterval
		want     Date
		wantOK   bool
	}{
		{"none has no next", NewDate(2024, 1, 15), IntervalNone, Date{}, false},
		{"unknown interval has no next", NewDate(2024, 1, 15), RecurrenceInterval("hourly"), Date{}, false},
		{"daily", NewDate(2024, 1, 15), IntervalDaily, NewDate(2024, 1, 16), true},
		{"daily across year end", NewDate(2023, 12, 31), IntervalDaily, NewDate(2024, 1, 1), true},
		{"weekly", NewDate(2024, 1, 15), IntervalWeekly, NewDate(2024, 1, 22), true},
		{"weekly across month end", NewDate(2024, 2, 26), IntervalWeekly, NewDate(2024, 3, 4), true},
		{"monthly", NewDate(2024, 1, 15), IntervalMonthly, NewDate(2024, 2, 15), true},
		{"monthly Jan 31 leap year clamps", NewDate(2024, 1, 31), IntervalMonthly, NewDate(2024, 2, 29), true},
		{"monthly Jan 31 non-leap clamps", NewDate(2023, 1, 31), IntervalMonthly, NewDate(2023, 2, 28), true},
		{"monthly Mar 31 clamps to Apr 30", NewDate(2024, 3, 31), IntervalMonthly, NewDate(2024, 4, 30), true},
		{"monthly December rolls year", NewDate(2024, 12, 10), IntervalMonthly, NewDate(2025, 1, 10), true},
		{"yearly", NewDate(2024, 6, 1), IntervalYearly, NewDate(2025, 6, 1), true},
		{"yearly Feb 29 clamps", NewDate(2024, 2, 29), IntervalYearly, NewDate(2025, 2, 28), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := tt.base
			got, ok := NextOccurrence(tt.base, tt.interval)
			if ok != tt.wantOK {
				t.Fatalf("NextOccurrence() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("NextOccurrence() = %v, want %v", got, tt.want)
			}
			if !base.Equal(tt.base) {
				t.Errorf("NextOccurrence() mutated its argument: %v", tt.base)
			}
		})
	}
}

func TestNextOccurrenceAnchored(t *testing.T) {
	// A series anchored on the 31st keeps returning to the 31st.
	d := NewDate(2024, 1, 31)
	want := []Date{
		NewDate(2024, 2, 29),
		NewDate(2024, 3, 31),
		NewDate(2024, 4, 30),
		NewDate(2024, 5, 31),
	}
	for i, w := range want {
		next, ok := NextOccurrenceAnchored(d, IntervalMonthly, 31)
		if !ok {
			t.Fatalf("step %d: NextOccurrenceAnchored() ok = false", i)
		}
		if !next.Equal(w) {
			t.Fatalf("step %d: NextOccurrenceAnchored() = %v, want %v", i, next, w)
		}
		d = next
	}

	// Yearly leap day returns to Feb 29 once a leap year comes around.
	d = NewDate(2024, 2, 29)
	for i := 0; i < 4; i++ {
		d, _ = NextOccurrenceAnchored(d, IntervalYearly, 29)
	}
	if !d.Equal(NewDate(2028, 2, 29)) {
		t.Errorf("NextOccurrenceAnchored() after 4 years = %v, want 2028-02-29", d)
	}
}

func TestNextOccurrenceAnchored_ZeroAnchorUsesBaseDay(t *testing.T) {
	got, _ := NextOccurrenceAnchored(NewDate(2024, 1, 20), IntervalMonthly, 0)
	if !got.Equal(NewDate(2024, 2, 20)) {
		t.Errorf("NextOccurrenceAnchored() = %v, want 2024-02-20", got)
	}
}

func TestSeriesAnchorDay(t *testing.T) {
	tests := []struct {
		name      string
		cursor    Date
		seriesDay int
		want      int
	}{
		{"cursor day wins", NewDate(2024, 1, 20), 15, 20},
		{"cursor before series day", NewDate(2024, 3, 10), 31, 10},
		{"clamped february restores 31", NewDate(2024, 2, 29), 31, 31},
		{"clamped april restores 31", NewDate(2024, 4, 30), 31, 31},
		{"month end with smaller series day", NewDate(2024, 4, 30), 15, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SeriesAnchorDay(tt.cursor, tt.seriesDay); got != tt.want {
				t.Errorf("SeriesAnchorDay(%v, %d) = %d, want %d", tt.cursor, tt.seriesDay, got, tt.want)
			}
		})
	}
}

func TestDaysIn(t *testing.T) {
	tests := []struct {
		year, month, want int
	}{
		{2024, 2, 29},
		{2023, 2, 28},
		{1900, 2, 28},
		{2000, 2, 29},
		{2024, 4, 30},
		{2024, 12, 31},
	}
	for _, tt := range tests {
		if got := DaysIn(tt.year, tt.month); got != tt.want {
			t.Errorf("DaysIn(%d, %d) = %d, want %d", tt.year, tt.month, got, tt.want)
		}
	}
}
