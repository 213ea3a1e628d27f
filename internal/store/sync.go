package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/commonscal/commonscal/internal/recurrence"
)

// occurrenceSync adapts event_times rows to the recurrence engine's store
// interface. It is scoped to one event so generated rows land on the right
// parent.
type occurrenceSync struct {
	store   *Store
	eventID int64
}

func (a *occurrenceSync) ListGenerated(ctx context.Context, recurrenceID int64) ([]recurrence.Occurrence, error) {
	times, err := a.store.EventTimes.ListByRecurrence(ctx, recurrenceID)
	if err != nil {
		return nil, err
	}
	out := make([]recurrence.Occurrence, 0, len(times))
	for _, et := range times {
		out = append(out, occurrenceFromTime(et))
	}
	return out, nil
}

func (a *occurrenceSync) CreateGenerated(ctx context.Context, recurrenceID int64, start time.Time, end *time.Time) (int64, error) {
	et, err := a.store.EventTimes.Create(ctx, EventTime{
		EventID:        a.eventID,
		Start:          start,
		End:            end,
		RecurrenceID:   &recurrenceID,
		RecurrenceAuto: true,
	})
	if err != nil {
		return 0, err
	}
	return et.ID, nil
}

func (a *occurrenceSync) DeleteOccurrence(ctx context.Context, id int64) error {
	return a.store.EventTimes.Delete(ctx, id)
}

func (a *occurrenceSync) DetachOccurrence(ctx context.Context, id int64) error {
	return a.store.EventTimes.Detach(ctx, id)
}

func occurrenceFromTime(et EventTime) recurrence.Occurrence {
	state := recurrence.StateOverridden
	if et.RecurrenceAuto {
		state = recurrence.StateGenerated
	}
	return recurrence.Occurrence{
		ID:        et.ID,
		Start:     et.Start,
		End:       et.End,
		State:     state,
		Cancelled: et.IsCancelled,
	}
}

// SyncRecurrence reconciles one rule's generated occurrences inside a single
// transaction. A rule whose anchor occurrence was removed reports
// recurrence.ErrNoAnchor.
func (s *Store) SyncRecurrence(ctx context.Context, recurrenceID int64, now time.Time) (recurrence.Result, error) {
	var result recurrence.Result
	err := s.WithTx(ctx, func(tx *Store) error {
		rec, err := tx.Recurrences.GetByID(ctx, recurrenceID)
		if err != nil {
			return fmt.Errorf("load recurrence %d: %w", recurrenceID, err)
		}

		kind, err := recurrence.ParseKind(rec.Kind)
		if err != nil {
			return err
		}
		engineRec := recurrence.Recurrence{
			ID:   rec.ID,
			Rule: recurrence.Rule{Kind: kind, End: rec.End},
		}
		if rec.AnchorTimeID != nil {
			anchorTime, err := tx.EventTimes.GetByID(ctx, *rec.AnchorTimeID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("load anchor time: %w", err)
			}
			if err == nil {
				anchor := occurrenceFromTime(*anchorTime)
				engineRec.Anchor = &anchor
			}
		}

		result, err = recurrence.Sync(ctx, &occurrenceSync{store: tx, eventID: rec.EventID}, engineRec, now)
		return err
	})
	return result, err
}

// SyncEventRecurrences runs SyncRecurrence for every rule on the event and
// returns the combined tally. The first error aborts the remaining rules.
func (s *Store) SyncEventRecurrences(ctx context.Context, eventID int64, now time.Time) (recurrence.Result, error) {
	recs, err := s.Recurrences.ListByEvent(ctx, eventID)
	if err != nil {
		return recurrence.Result{}, err
	}
	var total recurrence.Result
	for _, rec := range recs {
		res, err := s.SyncRecurrence(ctx, rec.ID, now)
		if err != nil {
			return total, err
		}
		total.Created += res.Created
		total.Deleted += res.Deleted
		total.Detached += res.Detached
	}
	return total, nil
}
