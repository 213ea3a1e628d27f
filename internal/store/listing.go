package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultListingLimit caps calendar listings when the caller does not ask
// for a smaller page.
const DefaultListingLimit = 100

// Viewer identifies who is asking for a listing. The zero value is an
// anonymous visitor who only sees published events.
type Viewer struct {
	UserID  *int64
	IsStaff bool
}

// OccurrenceFilter narrows a calendar listing. From/To bound the time
// window; the remaining fields are optional.
type OccurrenceFilter struct {
	From time.Time
	To   time.Time

	Viewer Viewer

	// SphereIDs restricts to events attached to any of these spheres.
	// Callers expand a sphere to its sub-spheres first.
	SphereIDs []int64

	LocationID     *int64
	GroupID        *int64
	FeaturedOnly   bool
	WithImagesOnly bool

	Limit int
}

// EventOccurrence is one listed calendar row: a concrete time joined with
// its event.
type EventOccurrence struct {
	Time  EventTime
	Event Event
}

// buildListingQuery turns a filter into SQL and positional args. Split out
// from ListOccurrences so the query shape is testable without a database.
func buildListingQuery(f OccurrenceFilter) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sb.WriteString(`SELECT et.id, et.event_id, et.start_time, et.end_time, et.description, et.is_cancelled,
 et.recurrence_id, et.recurrence_auto, et.created_at,
 e.id, e.name, e.short_description, e.description,
 e.owner_user_id, e.owner_group_id,
 e.location_id, e.venue_name, e.street, e.zip_code, e.city, e.location_tba, e.online,
 e.featured, e.published, e.is_cancelled, e.deleted, e.deleted_on, e.created_at, e.updated_at
FROM event_times et
JOIN events e ON e.id = et.event_id
WHERE NOT e.deleted`)

	// Window overlap. Open-ended times count while their start is inside
	// the window.
	sb.WriteString("\n  AND et.start_time < " + arg(f.To))
	fromPH := arg(f.From)
	sb.WriteString("\n  AND (et.end_time >= " + fromPH +
		" OR (et.end_time IS NULL AND et.start_time >= " + fromPH + "))")

	// Drafts are visible only to their owners and to staff.
	if !f.Viewer.IsStaff {
		if f.Viewer.UserID != nil {
			uid := arg(*f.Viewer.UserID)
			sb.WriteString("\n  AND (e.published OR e.owner_user_id = " + uid +
				" OR e.owner_group_id IN (SELECT group_id FROM group_members WHERE user_id = " + uid + "))")
		} else {
			sb.WriteString("\n  AND e.published")
		}
	}

	if len(f.SphereIDs) > 0 {
		placeholders := make([]string, len(f.SphereIDs))
		for i, id := range f.SphereIDs {
			placeholders[i] = arg(id)
		}
		sb.WriteString("\n  AND e.id IN (SELECT event_id FROM event_spheres WHERE sphere_id IN (" +
			strings.Join(placeholders, ", ") + "))")
	}
	if f.LocationID != nil {
		sb.WriteString("\n  AND e.location_id = " + arg(*f.LocationID))
	}
	if f.GroupID != nil {
		sb.WriteString("\n  AND e.owner_group_id = " + arg(*f.GroupID))
	}
	if f.FeaturedOnly {
		sb.WriteString("\n  AND e.featured")
	}
	if f.WithImagesOnly {
		sb.WriteString("\n  AND EXISTS (SELECT 1 FROM event_images WHERE event_id = e.id)")
	}

	limit := f.Limit
	if limit <= 0 || limit > DefaultListingLimit {
		limit = DefaultListingLimit
	}
	sb.WriteString("\nORDER BY et.start_time, et.id\nLIMIT " + arg(limit))

	return sb.String(), args
}

// ListOccurrences returns calendar rows matching the filter, soonest first.
func (s *Store) ListOccurrences(ctx context.Context, f OccurrenceFilter) ([]EventOccurrence, error) {
	defer observeDB(ctx, "listing.occurrences")()
	query, args := buildListingQuery(f)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	defer rows.Close()

	var out []EventOccurrence
	for rows.Next() {
		var (
			et EventTime
			ev Event
		)
		err := rows.Scan(
			&et.ID, &et.EventID, &et.Start, &et.End, &et.Description, &et.IsCancelled,
			&et.RecurrenceID, &et.RecurrenceAuto, &et.CreatedAt,
			&ev.ID, &ev.Name, &ev.ShortDescription, &ev.Description,
			&ev.OwnerUserID, &ev.OwnerGroupID,
			&ev.LocationID, &ev.VenueName, &ev.Street, &ev.ZipCode, &ev.City, &ev.LocationTBA, &ev.Online,
			&ev.Featured, &ev.Published, &ev.IsCancelled, &ev.Deleted, &ev.DeletedOn, &ev.CreatedAt, &ev.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan occurrence: %w", err)
		}
		out = append(out, EventOccurrence{Time: et, Event: ev})
	}
	return out, rows.Err()
}
