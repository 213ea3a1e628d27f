package recurrence

import (
	"fmt"
	"time"
)

// DefaultHorizon bounds expansion for rules without an end date so that a
// rule can never generate an unbounded occurrence set.
const DefaultHorizon = 365 * 24 * time.Hour

// Kind identifies the cadence of a recurrence rule. Exactly one kind applies
// per rule.
type Kind int

const (
	Weekly Kind = iota
	BiweeklyOdd
	BiweeklyEven
	FirstWeek
	SecondWeek
	ThirdWeek
	LastWeek
)

var kindNames = map[Kind]string{
	Weekly:       "weekly",
	BiweeklyOdd:  "biweekly_odd",
	BiweeklyEven: "biweekly_even",
	FirstWeek:    "first_week_of_month",
	SecondWeek:   "second_week_of_month",
	ThirdWeek:    "third_week_of_month",
	LastWeek:     "last_week_of_month",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind maps a stored or submitted kind name back to its Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown recurrence kind %q", s)
}

// Rule is a recurrence specification. The weekday cadence is derived from
// the anchor occurrence the rule is attached to; End, when set, is an
// inclusive date bound on generation.
type Rule struct {
	Kind Kind
	End  *time.Time
}

func (r Rule) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid recurrence kind %d", int(r.Kind))
	}
	return nil
}

// Matches reports whether candidate is a valid occurrence instant for a rule
// anchored at anchor: same weekday, and the kind's predicate holds.
func (r Rule) Matches(anchor, candidate time.Time) bool {
	if candidate.Weekday() != anchor.Weekday() {
		return false
	}
	return r.matchesKind(candidate)
}

func (r Rule) matchesKind(t time.Time) bool {
	switch r.Kind {
	case Weekly:
		return true
	case BiweeklyOdd:
		_, week := t.ISOWeek()
		return week%2 == 1
	case BiweeklyEven:
		_, week := t.ISOWeek()
		return week%2 == 0
	case FirstWeek:
		return weekOfMonth(t) == 1
	case SecondWeek:
		return weekOfMonth(t) == 2
	case ThirdWeek:
		return weekOfMonth(t) == 3
	case LastWeek:
		// Final occurrence of this weekday in the month, regardless of
		// whether it falls in week 4 or 5.
		return t.AddDate(0, 0, 7).Month() != t.Month()
	default:
		return false
	}
}

// Dates expands the rule into the ordered occurrence start instants from
// anchor up to the rule's end date (inclusive), or up to anchor+horizon when
// no end date is set. The anchor's wall-clock time carries over to every
// occurrence; stepping by calendar days keeps it stable across DST changes.
func (r Rule) Dates(anchor time.Time, horizon time.Duration) []time.Time {
	if !r.Kind.Valid() {
		return nil
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}

	var out []time.Time
	limit := anchor.Add(horizon)
	for cur := anchor; ; cur = cur.AddDate(0, 0, 7) {
		if r.End != nil {
			if dayAfter(cur, *r.End) {
				break
			}
		} else if cur.After(limit) {
			break
		}
		if r.matchesKind(cur) {
			out = append(out, cur)
		}
	}
	return out
}

// weekOfMonth is the 1-based week a date falls in, counted in 7-day chunks
// from the 1st: days 1-7 are week 1, 8-14 week 2, and so on.
func weekOfMonth(t time.Time) int {
	return (t.Day()-1)/7 + 1
}

// dayAfter reports whether a's calendar date is strictly after b's.
func dayAfter(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	if ay != by {
		return ay > by
	}
	if am != bm {
		return am > bm
	}
	return ad > bd
}

// DayKey collapses an instant to its calendar date in its own location,
// used to match generated occurrences against rule output.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
