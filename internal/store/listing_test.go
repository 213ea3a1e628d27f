package store

import (
	"strings"
	"testing"
	"time"
)

func window() (time.Time, time.Time) {
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 0, 7)
}

func TestListingAnonymousSeesOnlyPublished(t *testing.T) {
	from, to := window()
	query, args := buildListingQuery(OccurrenceFilter{From: from, To: to})

	if !strings.Contains(query, "AND e.published") {
		t.Fatalf("anonymous listing must filter on published, got:\n%s", query)
	}
	if strings.Contains(query, "owner_user_id =") {
		t.Fatalf("anonymous listing must not reference an owner, got:\n%s", query)
	}
	// to, from (placeholder re-used for the open-ended branch), limit
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d: %v", len(args), args)
	}
	if args[0] != to || args[1] != from {
		t.Fatalf("window args out of order: %v", args)
	}
	if args[2] != DefaultListingLimit {
		t.Fatalf("expected default limit %d, got %v", DefaultListingLimit, args[2])
	}
}

func TestListingOwnerSeesOwnDrafts(t *testing.T) {
	from, to := window()
	uid := int64(42)
	query, args := buildListingQuery(OccurrenceFilter{
		From:   from,
		To:     to,
		Viewer: Viewer{UserID: &uid},
	})

	if !strings.Contains(query, "e.published OR e.owner_user_id =") {
		t.Fatalf("owner listing must allow own drafts, got:\n%s", query)
	}
	if !strings.Contains(query, "SELECT group_id FROM group_members") {
		t.Fatalf("owner listing must include group-owned drafts, got:\n%s", query)
	}
	found := false
	for _, a := range args {
		if a == uid {
			found = true
		}
	}
	if !found {
		t.Fatalf("viewer id missing from args: %v", args)
	}
}

func TestListingStaffSeesEverything(t *testing.T) {
	from, to := window()
	query, _ := buildListingQuery(OccurrenceFilter{
		From:   from,
		To:     to,
		Viewer: Viewer{IsStaff: true},
	})

	// The column list still selects e.published; only the WHERE clause
	// must not filter on it.
	if strings.Contains(query, "AND e.published") || strings.Contains(query, "AND (e.published") {
		t.Fatalf("staff listing must not filter on published, got:\n%s", query)
	}
}

func TestListingSphereFilterExpandsToAllIDs(t *testing.T) {
	from, to := window()
	query, args := buildListingQuery(OccurrenceFilter{
		From:      from,
		To:        to,
		SphereIDs: []int64{3, 7, 9},
	})

	if !strings.Contains(query, "sphere_id IN ($3, $4, $5)") {
		t.Fatalf("sphere filter placeholders wrong, got:\n%s", query)
	}
	if args[2] != int64(3) || args[3] != int64(7) || args[4] != int64(9) {
		t.Fatalf("sphere ids out of order: %v", args)
	}
}

func TestListingOptionalFilters(t *testing.T) {
	from, to := window()
	loc := int64(5)
	grp := int64(8)
	query, _ := buildListingQuery(OccurrenceFilter{
		From:           from,
		To:             to,
		LocationID:     &loc,
		GroupID:        &grp,
		FeaturedOnly:   true,
		WithImagesOnly: true,
	})

	for _, want := range []string{
		"e.location_id =",
		"e.owner_group_id =",
		"AND e.featured",
		"EXISTS (SELECT 1 FROM event_images",
	} {
		if !strings.Contains(query, want) {
			t.Fatalf("missing %q in:\n%s", want, query)
		}
	}
}

func TestListingLimitIsCapped(t *testing.T) {
	from, to := window()
	_, args := buildListingQuery(OccurrenceFilter{From: from, To: to, Limit: 5000})
	if args[len(args)-1] != DefaultListingLimit {
		t.Fatalf("oversized limit must clamp to %d, got %v", DefaultListingLimit, args[len(args)-1])
	}

	_, args = buildListingQuery(OccurrenceFilter{From: from, To: to, Limit: 10})
	if args[len(args)-1] != 10 {
		t.Fatalf("small limit must pass through, got %v", args[len(args)-1])
	}
}

func TestListingOrderAndOpenEndedOverlap(t *testing.T) {
	from, to := window()
	query, _ := buildListingQuery(OccurrenceFilter{From: from, To: to})

	if !strings.Contains(query, "ORDER BY et.start_time, et.id") {
		t.Fatalf("listing must order by start then id, got:\n%s", query)
	}
	if !strings.Contains(query, "et.end_time IS NULL AND et.start_time >= $2") {
		t.Fatalf("open-ended times must match on start, got:\n%s", query)
	}
}
