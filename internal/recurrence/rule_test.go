package recurrence

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

func TestWeeklyDatesWithEnd(t *testing.T) {
	anchor := date(2024, time.January, 1) // a Monday
	end := date(2024, time.January, 22)
	rule := Rule{Kind: Weekly, End: &end}

	got := rule.Dates(anchor, 0)

	want := []time.Time{
		date(2024, time.January, 1),
		date(2024, time.January, 8),
		date(2024, time.January, 15),
		date(2024, time.January, 22),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d dates, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("date %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestDatesStayWithinBoundsAndWeekday(t *testing.T) {
	anchor := date(2024, time.February, 7) // a Wednesday
	end := date(2024, time.June, 30)

	for kind := range kindNames {
		rule := Rule{Kind: kind, End: &end}
		for _, d := range rule.Dates(anchor, 0) {
			if d.Weekday() != anchor.Weekday() {
				t.Errorf("%s: %v does not share anchor weekday %v", kind, d, anchor.Weekday())
			}
			if d.Before(anchor) || dayAfter(d, end) {
				t.Errorf("%s: %v outside [anchor, end]", kind, d)
			}
		}
	}
}

func TestLastWeekPicksFifthFriday(t *testing.T) {
	// March 2024 has five Fridays: 1, 8, 15, 22, 29.
	anchor := date(2024, time.March, 1)
	end := date(2024, time.March, 31)
	rule := Rule{Kind: LastWeek, End: &end}

	got := rule.Dates(anchor, 0)
	if len(got) != 1 {
		t.Fatalf("expected exactly one date, got %v", got)
	}
	if got[0].Day() != 29 {
		t.Errorf("expected the 5th Friday (the 29th), got day %d", got[0].Day())
	}
}

func TestBiweeklyISOWeekParity(t *testing.T) {
	anchor := date(2024, time.January, 1) // ISO week 1
	end := date(2024, time.January, 29)

	odd := Rule{Kind: BiweeklyOdd, End: &end}.Dates(anchor, 0)
	if len(odd) != 3 {
		t.Fatalf("expected 3 odd-week dates, got %v", odd)
	}
	for _, d := range odd {
		if _, wk := d.ISOWeek(); wk%2 != 1 {
			t.Errorf("date %v falls in even ISO week %d", d, wk)
		}
	}

	even := Rule{Kind: BiweeklyEven, End: &end}.Dates(anchor, 0)
	if len(even) != 2 {
		t.Fatalf("expected 2 even-week dates, got %v", even)
	}
	for _, d := range even {
		if _, wk := d.ISOWeek(); wk%2 != 0 {
			t.Errorf("date %v falls in odd ISO week %d", d, wk)
		}
	}
}

func TestNthWeekOfMonth(t *testing.T) {
	anchor := date(2024, time.January, 8) // 2nd Monday of January
	end := date(2024, time.March, 31)
	rule := Rule{Kind: SecondWeek, End: &end}

	got := rule.Dates(anchor, 0)
	want := []time.Time{
		date(2024, time.January, 8),
		date(2024, time.February, 12),
		date(2024, time.March, 11),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d dates, got %v", len(want), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("date %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestNoEndDateIsBoundedByHorizon(t *testing.T) {
	anchor := date(2024, time.January, 1)
	rule := Rule{Kind: Weekly}

	got := rule.Dates(anchor, 0)
	if len(got) == 0 {
		t.Fatal("expected dates within the horizon")
	}
	if len(got) > 54 {
		t.Fatalf("weekly rule over a one-year horizon produced %d dates", len(got))
	}
	last := got[len(got)-1]
	if last.After(anchor.Add(DefaultHorizon)) {
		t.Errorf("date %v beyond the default horizon", last)
	}
}

func TestMatchesRequiresAnchorWeekday(t *testing.T) {
	anchor := date(2024, time.January, 1) // Monday
	rule := Rule{Kind: Weekly}

	if !rule.Matches(anchor, date(2024, time.January, 15)) {
		t.Error("expected a Monday to match a weekly Monday rule")
	}
	if rule.Matches(anchor, date(2024, time.January, 16)) {
		t.Error("a Tuesday must not match a Monday-anchored rule")
	}
}

func TestParseKindRoundTrip(t *testing.T) {
	for kind, name := range kindNames {
		parsed, err := ParseKind(name)
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", name, err)
		}
		if parsed != kind {
			t.Errorf("ParseKind(%q) = %v, want %v", name, parsed, kind)
		}
	}
	if _, err := ParseKind("fortnightly"); err == nil {
		t.Error("expected an error for an unknown kind name")
	}
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	if err := (Rule{Kind: Kind(42)}).Validate(); err == nil {
		t.Error("expected validation error for unknown kind")
	}
}
