package calendar

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return d
}

func TestParseDateLayouts(t *testing.T) {
	cases := map[string]string{
		"2026-01-27":                "2026-01-27",
		" 2026-01-27 ":              "2026-01-27",
		"2026-01-27T08:30:00Z":      "2026-01-27",
		"2026-01-27T23:30:00-05:00": "2026-01-27",
		"2026-01-27T01:00:00+04:00": "2026-01-27",
		"2026-01-27 10:51":          "2026-01-27",
	}
	for in, want := range cases {
		if got := Format(mustParse(t, in)); got != want {
			t.Errorf("ParseDate(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseDateInvalid(t *testing.T) {
	for _, in := range []string{"", "not a date", "2026-13-01", "27/01/2026"} {
		_, err := ParseDate(in)
		var de *DateError
		if !errors.As(err, &de) {
			t.Fatalf("ParseDate(%q) error = %v, want DateError", in, err)
		}
	}
}

func TestBusinessDayOffsets(t *testing.T) {
	cases := []struct {
		anchor string
		offset int
		want   string
	}{
		{"2026-01-23", -4, "2026-01-19"}, // Friday back to Monday
		{"2026-01-19", 1, "2026-01-20"},  // Monday to Tuesday
		{"2026-01-23", 1, "2026-01-26"},  // Friday over the weekend
		{"2026-01-26", -1, "2026-01-23"}, // Monday back to Friday
		{"2026-01-24", 0, "2026-01-24"},  // zero keeps a Saturday anchor
		{"2026-01-24", 1, "2026-01-26"},  // Saturday forward
		{"2026-01-19", 10, "2026-02-02"},
	}
	for _, tc := range cases {
		got := Format(AddBusinessDays(mustParse(t, tc.anchor), tc.offset))
		if got != tc.want {
			t.Errorf("AddBusinessDays(%s, %d) = %s, want %s", tc.anchor, tc.offset, got, tc.want)
		}
	}
}

func TestCalendarOffsetsAndDiff(t *testing.T) {
	a := mustParse(t, "2026-01-27")
	if got := Format(AddCalendarDays(a, -4)); got != "2026-01-23" {
		t.Fatalf("calendar -4 = %s", got)
	}
	if got := Format(AddCalendarDays(a, 5)); got != "2026-02-01" {
		t.Fatalf("calendar +5 = %s", got)
	}
	if d := DaysBetween(mustParse(t, "2026-01-25"), a); d != 2 {
		t.Fatalf("DaysBetween = %d", d)
	}
	if d := DaysBetween(a, mustParse(t, "2026-01-25")); d != -2 {
		t.Fatalf("DaysBetween reversed = %d", d)
	}
}

func TestShiftFloorsToDay(t *testing.T) {
	a := mustParse(t, "2026-01-27")
	if got := Format(Shift(a, 36*time.Hour)); got != "2026-01-28" {
		t.Fatalf("+36h = %s", got)
	}
	if got := Format(Shift(a, -time.Hour)); got != "2026-01-26" {
		t.Fatalf("-1h = %s", got)
	}
	if got := Format(Shift(a, 0)); got != "2026-01-27" {
		t.Fatalf("0 = %s", got)
	}
}

func drawDay(rt *rapid.T) time.Time {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, rapid.IntRange(0, 3650).Draw(rt, "day"))
}

func TestProperty_BusinessDaysLandOnWeekdays(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		anchor := drawDay(rt)
		n := rapid.IntRange(-40, 40).Draw(rt, "n")
		got := AddBusinessDays(anchor, n)
		if n != 0 && IsWeekend(got) {
			rt.Fatalf("AddBusinessDays(%s, %d) landed on weekend %s", Format(anchor), n, Format(got))
		}
		if n > 0 && !got.After(anchor) || n < 0 && !got.Before(anchor) {
			rt.Fatalf("AddBusinessDays(%s, %d) = %s moved the wrong way", Format(anchor), n, Format(got))
		}
		weekdays := 0
		step := 1
		if n < 0 {
			step = -1
		}
		for d := anchor; !d.Equal(got); {
			d = d.AddDate(0, 0, step)
			if !IsWeekend(d) {
				weekdays++
			}
		}
		want := n
		if want < 0 {
			want = -want
		}
		if weekdays != want {
			rt.Fatalf("traversed %d weekdays, want %d", weekdays, want)
		}
	})
}

func TestProperty_CalendarOffsetRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		anchor := drawDay(rt)
		n := rapid.IntRange(-400, 400).Draw(rt, "n")
		if d := DaysBetween(anchor, AddCalendarDays(anchor, n)); d != n {
			rt.Fatalf("DaysBetween after +%d = %d", n, d)
		}
	})
}
