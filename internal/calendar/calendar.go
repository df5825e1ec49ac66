// Package calendar implements naive calendar-date arithmetic.
//
// Every value returned by this package is midnight UTC of a calendar day. Inputs
// carrying a time or an offset are reduced to the calendar date they name in their
// own offset, so two dates compare as plain days with no timezone conversion.
package calendar

import (
	"fmt"
	"strings"
	"time"
)

// Layout is the wire format for dates.
const Layout = "2006-01-02"

const day = 24 * time.Hour

var parseLayouts = []string{
	Layout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// DateError reports a value that is not a recognizable date.
type DateError struct {
	Value string
}

func (e *DateError) Error() string {
	return fmt.Sprintf("invalid date %q", e.Value)
}

// ParseDate parses s into the calendar day it names.
func ParseDate(s string) (time.Time, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return time.Time{}, &DateError{Value: s}
	}
	for _, layout := range parseLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return Day(t), nil
		}
	}
	return time.Time{}, &DateError{Value: s}
}

// Day truncates t to midnight UTC of its own calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Format renders t as YYYY-MM-DD.
func Format(t time.Time) string {
	return Day(t).Format(Layout)
}

// Shift moves a calendar day by an arbitrary duration and floors the result to a day.
func Shift(t time.Time, d time.Duration) time.Time {
	if d == 0 {
		return Day(t)
	}
	return Day(Day(t).Add(d))
}

// IsWeekend reports whether t falls on a Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// AddCalendarDays adds n days (n may be negative).
func AddCalendarDays(t time.Time, n int) time.Time {
	return Day(t).AddDate(0, 0, n)
}

// AddBusinessDays walks |n| weekdays in the direction of n's sign, skipping weekends.
// A zero offset returns t unchanged even when t is itself a weekend day.
func AddBusinessDays(t time.Time, n int) time.Time {
	result := Day(t)
	if n == 0 {
		return result
	}
	step := 1
	remaining := n
	if n < 0 {
		step = -1
		remaining = -n
	}
	for remaining > 0 {
		result = result.AddDate(0, 0, step)
		if !IsWeekend(result) {
			remaining--
		}
	}
	return result
}

// DaysBetween returns the whole-day difference to - from.
func DaysBetween(from, to time.Time) int {
	return int(Day(to).Sub(Day(from)) / day)
}
