package recurrence

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State classifies a generated occurrence for sync's delete-vs-preserve
// decision.
type State int

const (
	// StateGenerated marks an occurrence created by sync and untouched
	// since. It may be removed when the rule no longer produces its date.
	StateGenerated State = iota
	// StateOverridden marks a generated occurrence a user has edited
	// (description, times, or cancellation). Sync never deletes these; it
	// detaches them when their date leaves the rule's output.
	StateOverridden
)

// Occurrence is sync's view of an EventTime attached to a recurrence.
type Occurrence struct {
	ID        int64
	Start     time.Time
	End       *time.Time
	State     State
	Cancelled bool
}

// Store is the narrow persistence surface sync operates through. The
// production implementation lives in internal/store and runs inside the
// caller's transaction.
type Store interface {
	// ListGenerated returns all occurrences currently attached to the
	// recurrence, excluding the anchor.
	ListGenerated(ctx context.Context, recurrenceID int64) ([]Occurrence, error)
	// CreateGenerated inserts a new auto-generated occurrence.
	CreateGenerated(ctx context.Context, recurrenceID int64, start time.Time, end *time.Time) (int64, error)
	// DeleteOccurrence removes a generated occurrence outright.
	DeleteOccurrence(ctx context.Context, id int64) error
	// DetachOccurrence clears the occurrence's recurrence link, preserving
	// the row and any user edits on it.
	DetachOccurrence(ctx context.Context, id int64) error
}

// Recurrence bundles a rule with its identity and anchor for sync.
type Recurrence struct {
	ID     int64
	Rule   Rule
	Anchor *Occurrence
}

// Result reports what a sync run changed. A second run with unchanged input
// yields the zero Result.
type Result struct {
	Created  int
	Deleted  int
	Detached int
}

// ErrNoAnchor signals a recurrence whose anchor occurrence is missing. The
// rule cannot be expanded; callers log the inconsistency and move on.
var ErrNoAnchor = errors.New("recurrence has no anchor occurrence")

// Sync reconciles the recurrence's generated occurrence set with the rule's
// current output.
//
// Dates the rule produces on or after now that lack a live occurrence get a
// new generated EventTime carrying the anchor's time-of-day and duration.
// Generated occurrences whose date has left the output are deleted when
// still auto-generated, or detached when a user override or cancellation
// exists. A cancelled occurrence blocks deletion but does not satisfy its
// date, so a replacement occurrence is generated alongside it.
func Sync(ctx context.Context, store Store, rec Recurrence, now time.Time) (Result, error) {
	var res Result

	if err := rec.Rule.Validate(); err != nil {
		return res, err
	}
	if rec.Anchor == nil {
		return res, ErrNoAnchor
	}

	wanted := rec.Rule.Dates(rec.Anchor.Start, DefaultHorizon)
	wantedByDay := make(map[string]time.Time, len(wanted))
	for _, w := range wanted {
		wantedByDay[DayKey(w)] = w
	}

	existing, err := store.ListGenerated(ctx, rec.ID)
	if err != nil {
		return res, fmt.Errorf("list generated occurrences: %w", err)
	}

	// A date is satisfied by any live, non-cancelled occurrence on it.
	satisfied := make(map[string]bool, len(existing))
	for _, occ := range existing {
		if !occ.Cancelled {
			satisfied[DayKey(occ.Start)] = true
		}
	}
	// The anchor itself satisfies its own date.
	if !rec.Anchor.Cancelled {
		satisfied[DayKey(rec.Anchor.Start)] = true
	}

	var duration time.Duration
	if rec.Anchor.End != nil {
		duration = rec.Anchor.End.Sub(rec.Anchor.Start)
	}

	for _, w := range wanted {
		if w.Before(now) {
			continue
		}
		if satisfied[DayKey(w)] {
			continue
		}
		var end *time.Time
		if duration > 0 {
			e := w.Add(duration)
			end = &e
		}
		if _, err := store.CreateGenerated(ctx, rec.ID, w, end); err != nil {
			return res, fmt.Errorf("create occurrence at %s: %w", w.Format(time.RFC3339), err)
		}
		res.Created++
	}

	for _, occ := range existing {
		if occ.Start.Before(now) {
			// Past occurrences are history; never touched.
			continue
		}
		if _, ok := wantedByDay[DayKey(occ.Start)]; ok {
			continue
		}
		if occ.State == StateGenerated && !occ.Cancelled {
			if err := store.DeleteOccurrence(ctx, occ.ID); err != nil {
				return res, fmt.Errorf("delete occurrence %d: %w", occ.ID, err)
			}
			res.Deleted++
		} else {
			if err := store.DetachOccurrence(ctx, occ.ID); err != nil {
				return res, fmt.Errorf("detach occurrence %d: %w", occ.ID, err)
			}
			res.Detached++
		}
	}

	return res, nil
}
