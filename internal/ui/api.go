package ui

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/commonscal/commonscal/internal/http/errors"
	"github.com/commonscal/commonscal/internal/store"
)

type apiOccurrence struct {
	EventID     int64      `json:"event_id"`
	TimeID      int64      `json:"time_id"`
	Name        string     `json:"name"`
	Short       string     `json:"short_description,omitempty"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	VenueName   *string    `json:"venue_name,omitempty"`
	Online      bool       `json:"online"`
	Cancelled   bool       `json:"cancelled"`
	EventCancel bool       `json:"event_cancelled"`
}

// APIOccurrences serves the JSON listing used by embeds and widgets. It is
// anonymous: only published events appear.
func (h *Handler) APIOccurrences(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	from, to := now, now.Add(listingWindow)
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		if t, err := time.ParseInLocation(formDateLayout, raw, time.Local); err == nil {
			from = t
		}
	}
	if raw := q.Get("to"); raw != "" {
		if t, err := time.ParseInLocation(formDateLayout, raw, time.Local); err == nil {
			to = t.Add(24 * time.Hour)
		}
	}

	filter := store.OccurrenceFilter{
		From:  from,
		To:    to,
		Limit: h.cfg.ListingMaxResults,
	}
	if slug := q.Get("sphere"); slug != "" {
		sphere, err := h.store.Spheres.GetBySlug(r.Context(), slug)
		if err != nil {
			http.Error(w, "unknown sphere", http.StatusNotFound)
			return
		}
		if ids, err := h.store.Spheres.SubSphereIDs(r.Context(), sphere.ID); err == nil {
			filter.SphereIDs = ids
		}
	}

	occurrences, err := h.store.ListOccurrences(r.Context(), filter)
	if err != nil {
		errors.InternalError(w, r, err, "api occurrence listing")
		return
	}

	out := make([]apiOccurrence, 0, len(occurrences))
	for _, occ := range occurrences {
		out = append(out, apiOccurrence{
			EventID:     occ.Event.ID,
			TimeID:      occ.Time.ID,
			Name:        occ.Event.Name,
			Short:       occ.Event.ShortDescription,
			Start:       occ.Time.Start,
			End:         occ.Time.End,
			VenueName:   occ.Event.VenueName,
			Online:      occ.Event.Online,
			Cancelled:   occ.Time.IsCancelled,
			EventCancel: occ.Event.IsCancelled,
		})
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(map[string]any{"occurrences": out}); err != nil {
		errors.LogError(r, "encode api response", err)
	}
}
