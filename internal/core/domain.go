package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar-date encoding used in storage and on the wire.
const DateLayout = "2006-01-02"

// UncategorizedLabel names transactions without a resolvable category.
const UncategorizedLabel = "Uncategorized"

const (
	IntervalNone    RecurrenceInterval = "none"
	IntervalDaily   RecurrenceInterval = "daily"
	IntervalWeekly  RecurrenceInterval = "weekly"
	IntervalMonthly RecurrenceInterval = "monthly"
	IntervalYearly  RecurrenceInterval = "yearly"
)

type (
	RecurrenceInterval string

	// Date is a calendar date. The wrapped time is always midnight UTC.
	Date struct {
		time.Time
	}

	Transaction struct {
		ID                 string
		OwnerRef           string
		Amount             decimal.Decimal // signed: negative for expenses, positive for income
		Description        string
		OccurrenceDate     Date
		CategoryID         *string
		RecurrenceInterval RecurrenceInterval
		NextRecurrenceDate *Date
	}

	Category struct {
		ID       string
		Name     string
		OwnerRef string
	}
)

// NewDate creates a new Date from year, month, day. Out-of-range values
// normalize the way time.Date does.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t as observed in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, Wrap(ErrInvalidDate, err)
	}
	return DateOf(t), nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

func (d Date) AddDays(n int) Date {
	return NewDate(d.Year(), d.Month(), d.Day()+n)
}

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseRecurrenceInterval normalizes s into a known interval. The empty
// string means none.
func ParseRecurrenceInterval(s string) (RecurrenceInterval, error) {
	iv := RecurrenceInterval(strings.ToLower(strings.TrimSpace(s)))
	if iv == "" {
		return IntervalNone, nil
	}
	if !iv.Valid() {
		return "", WithMessage(ErrInvalidInterval, fmt.Sprintf("invalid recurrence interval %q", s))
	}
	return iv, nil
}

func (r RecurrenceInterval) Valid() bool {
	switch r {
	case IntervalNone, IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalYearly:
		return true
	}
	return false
}

// Recurs reports whether the interval produces future occurrences.
func (r RecurrenceInterval) Recurs() bool {
	return r != IntervalNone && r != ""
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.OwnerRef) == "" {
		return ErrEmptyOwner
	}
	if err := t.OccurrenceDate.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return ErrDescriptionTooLong
	}
	if t.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if !t.RecurrenceInterval.Valid() {
		return ErrInvalidInterval
	}
	if t.RecurrenceInterval.Recurs() != (t.NextRecurrenceDate != nil) {
		return ErrCursorMismatch
	}
	return nil
}

// Materialize returns the non-recurring copy of a recurring template dated on.
func (t Transaction) Materialize(on Date) Transaction {
	var category *string
	if t.CategoryID != nil {
		id := *t.CategoryID
		category = &id
	}
	return Transaction{
		OwnerRef:           t.OwnerRef,
		Amount:             t.Amount,
		Description:        t.Description,
		OccurrenceDate:     on,
		CategoryID:         category,
		RecurrenceInterval: IntervalNone,
	}
}
