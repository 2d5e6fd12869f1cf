package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar day, no time of day
// =============================================================================

// Date is a calendar day in UTC. It is the only date type the engine accepts;
// timestamps from storage or HTTP are normalized before they get here.
type Date struct {
	t time.Time
}

const dateLayout = "2006-01-02"

// NewDate builds a Date from calendar parts.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its calendar day in the timestamp's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Reason: fmt.Sprintf("expected YYYY-MM-DD, got %q", s)}
	}
	return DateOf(t), nil
}

// Today returns the current UTC calendar day.
func Today() Date { return DateOf(time.Now().UTC()) }

// Comparison
func (d Date) Before(o Date) bool        { return d.t.Before(o.t) }
func (d Date) After(o Date) bool         { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool         { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }
func (d Date) IsZero() bool              { return d.t.IsZero() }

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{t: d.t.AddDate(0, n, 0)} }

// DaysUntil returns the whole days from d to o (negative if o is earlier).
func (d Date) DaysUntil(o Date) int {
	return int(o.t.Sub(d.t).Hours() / 24)
}

// Properties
func (d Date) Year() int         { return d.t.Year() }
func (d Date) Month() time.Month { return d.t.Month() }
func (d Date) Day() int          { return d.t.Day() }
func (d Date) Time() time.Time   { return d.t }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(dateLayout)
}

// =============================================================================
// FISCAL CALENDAR
// =============================================================================

// FiscalMonthStart returns the first calendar day of the given period.
//
// Fiscal year N with a start month M > 1 begins in calendar year N-1, so
// FY2026 starting in July runs July 2025 - June 2026. With M = 1 the fiscal
// year equals the calendar year.
func FiscalMonthStart(p PeriodKey, fiscalYearStartMonth int) Date {
	startYear := p.FiscalYear
	if fiscalYearStartMonth > 1 {
		startYear--
	}
	offset := fiscalYearStartMonth - 1 + p.Index
	return NewDate(startYear+offset/12, time.Month(offset%12+1), 1)
}
