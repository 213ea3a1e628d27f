package ui

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/commonscal/commonscal/internal/auth"
	"github.com/commonscal/commonscal/internal/http/errors"
	"github.com/commonscal/commonscal/internal/metrics"
	"github.com/commonscal/commonscal/internal/store"
)

const (
	indexWindow   = 30 * 24 * time.Hour
	listingWindow = 60 * 24 * time.Hour
)

// Index shows the upcoming calendar for the visitor's sphere.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	filter := h.listingFilter(r, now, now.Add(indexWindow))

	occurrences, err := h.store.ListOccurrences(r.Context(), filter)
	if err != nil {
		errors.InternalError(w, r, err, "load calendar")
		return
	}
	spheres, err := h.store.Spheres.List(r.Context())
	if err != nil {
		errors.InternalError(w, r, err, "load spheres")
		return
	}

	data := h.baseData(r, "Calendar")
	data["Occurrences"] = occurrences
	data["Spheres"] = spheres
	data["CurrentSphereID"] = h.currentSphereID(r)
	h.render(w, r, "index.html", data)
}

// Events lists occurrences with optional filters from the query string.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
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

	filter := h.listingFilter(r, from, to)
	filter.FeaturedOnly = q.Get("featured") != ""
	filter.WithImagesOnly = q.Get("images") != ""
	if raw := q.Get("location"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filter.LocationID = &id
		}
	}
	if raw := q.Get("group"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filter.GroupID = &id
		}
	}

	occurrences, err := h.store.ListOccurrences(r.Context(), filter)
	if err != nil {
		errors.InternalError(w, r, err, "load event listing")
		return
	}

	data := h.baseData(r, "Events")
	data["Occurrences"] = occurrences
	data["From"] = from
	data["To"] = to
	h.render(w, r, "events.html", data)
}

// EventDetail renders one event with its times, links, and images.
// Unpublished events are only visible to those who can manage them.
func (h *Handler) EventDetail(w http.ResponseWriter, r *http.Request) {
	ev := h.eventFromPath(w, r)
	if ev == nil {
		return
	}
	if !ev.Published && !h.canManage(r, ev) {
		h.notFound(w, r)
		return
	}

	ctx := r.Context()
	times, err := h.store.EventTimes.ListByEvent(ctx, ev.ID)
	if err != nil {
		errors.InternalError(w, r, err, "load event times")
		return
	}
	links, _ := h.store.Events.ListLinks(ctx, ev.ID)
	images, _ := h.store.Events.ListImages(ctx, ev.ID)
	spheres, _ := h.store.Events.ListSpheres(ctx, ev.ID)

	var location *store.Location
	if ev.LocationID != nil {
		location, _ = h.store.Locations.GetByID(ctx, *ev.LocationID)
	}

	data := h.baseData(r, ev.Name)
	data["Event"] = ev
	data["Times"] = times
	data["Links"] = links
	data["Images"] = images
	data["EventSpheres"] = spheres
	data["Location"] = location
	data["CanManage"] = h.canManage(r, ev)
	h.render(w, r, "event_detail.html", data)
}

// Dashboard lists the events the signed-in user owns directly or through
// group membership.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	events, err := h.store.Events.ListByOwner(r.Context(), user.ID)
	if err != nil {
		errors.InternalError(w, r, err, "load own events")
		return
	}
	groups, err := h.store.Groups.ListByMember(r.Context(), user.ID)
	if err != nil {
		errors.InternalError(w, r, err, "load own groups")
		return
	}
	data := h.baseData(r, "Your events")
	data["Events"] = events
	data["Groups"] = groups
	h.render(w, r, "dashboard.html", data)
}

// NewEventForm renders an empty event form.
func (h *Handler) NewEventForm(w http.ResponseWriter, r *http.Request) {
	data := h.eventFormData(r, "New event", &EventForm{Errors: FieldErrors{}})
	data["IsNew"] = true
	h.render(w, r, "event_form.html", data)
}

// eventFormData assembles the shared form page payload, including the
// venue dropdown choices.
func (h *Handler) eventFormData(r *http.Request, title string, form *EventForm) map[string]any {
	data := h.baseData(r, title)
	data["Form"] = form
	if locations, err := h.store.Locations.ListActive(r.Context()); err == nil {
		data["Locations"] = locations
	}
	return data
}

// CreateEvent saves a new draft event with its times, links, and optional
// recurrence in one transaction.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	form := parseEventForm(r, time.Now())
	if !form.Valid() {
		data := h.eventFormData(r, "New event", form)
		data["IsNew"] = true
		h.render(w, r, "event_form.html", data)
		return
	}

	var eventID int64
	var hasRecurrence bool
	err := h.store.WithTx(r.Context(), func(tx *store.Store) error {
		ev, err := tx.Events.Create(r.Context(), store.Event{
			Name:             form.Name,
			ShortDescription: form.ShortDescription,
			Description:      form.Description,
			OwnerUserID:      &user.ID,
			LocationID:       form.LocationID,
			VenueName:        optional(form.VenueName),
			Street:           optional(form.Street),
			ZipCode:          optional(form.ZipCode),
			City:             optional(form.City),
			LocationTBA:      form.LocationTBA,
			Online:           form.Online,
		})
		if err != nil {
			return err
		}
		eventID = ev.ID

		sphereIDs := form.SphereIDs
		if len(sphereIDs) == 0 {
			sphereIDs = []int64{h.currentSphereID(r)}
		}
		if err := tx.Events.ReplaceSpheres(r.Context(), ev.ID, sphereIDs); err != nil {
			return err
		}
		if err := tx.Events.ReplaceLinks(r.Context(), ev.ID, form.Links); err != nil {
			return err
		}
		if form.ImageURL != "" {
			img := store.EventImage{EventID: ev.ID, Path: form.ImageURL, IsCover: true}
			if _, err := tx.Events.AddImage(r.Context(), img); err != nil {
				return err
			}
		}

		var firstTimeID int64
		for _, tf := range form.Times {
			et, err := tx.EventTimes.Create(r.Context(), store.EventTime{
				EventID:     ev.ID,
				Start:       tf.Start,
				End:         tf.End,
				IsCancelled: tf.Cancelled,
			})
			if err != nil {
				return err
			}
			if firstTimeID == 0 {
				firstTimeID = et.ID
			}
		}

		if form.Recurrence.Enabled {
			hasRecurrence = true
			_, err := tx.Recurrences.Create(r.Context(), store.EventRecurrence{
				EventID:      ev.ID,
				AnchorTimeID: &firstTimeID,
				Kind:         form.Recurrence.Kind,
				End:          form.Recurrence.End,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		errors.InternalError(w, r, err, "create event")
		return
	}

	if hasRecurrence {
		h.syncRecurrences(r.Context(), r, eventID)
	}
	h.redirect(w, r, h.localePath(r, "/events/"+strconv.FormatInt(eventID, 10)),
		map[string]string{"status": "Event created. Publish it when it is ready."})
}

// EditEventForm renders the form pre-filled from the stored event.
func (h *Handler) EditEventForm(w http.ResponseWriter, r *http.Request) {
	ev := h.eventFromPath(w, r)
	if ev == nil {
		return
	}
	if !h.canManage(r, ev) {
		h.notFound(w, r)
		return
	}

	form, err := h.formFromEvent(r.Context(), ev)
	if err != nil {
		errors.InternalError(w, r, err, "load event form")
		return
	}

	data := h.eventFormData(r, "Edit event", form)
	data["Event"] = ev
	h.render(w, r, "event_form.html", data)
}

// UpdateEvent applies a submitted edit. Times the user edited lose their
// auto-generated status; manual rows left out of the form are removed;
// generated rows are left to the recurrence sync.
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	ev := h.eventFromPath(w, r)
	if ev == nil {
		return
	}
	if !h.canManage(r, ev) {
		h.notFound(w, r)
		return
	}

	form := parseEventForm(r, time.Now())
	if !form.Valid() {
		data := h.eventFormData(r, "Edit event", form)
		data["Event"] = ev
		h.render(w, r, "event_form.html", data)
		return
	}

	err := h.store.WithTx(r.Context(), func(tx *store.Store) error {
		updated := *ev
		updated.Name = form.Name
		updated.ShortDescription = form.ShortDescription
		updated.Description = form.Description
		updated.LocationID = form.LocationID
		updated.VenueName = optional(form.VenueName)
		updated.Street = optional(form.Street)
		updated.ZipCode = optional(form.ZipCode)
		updated.City = optional(form.City)
		updated.LocationTBA = form.LocationTBA
		updated.Online = form.Online
		if err := tx.Events.Update(r.Context(), updated); err != nil {
			return err
		}

		if len(form.SphereIDs) > 0 {
			if err := tx.Events.ReplaceSpheres(r.Context(), ev.ID, form.SphereIDs); err != nil {
				return err
			}
		}
		if err := tx.Events.ReplaceLinks(r.Context(), ev.ID, form.Links); err != nil {
			return err
		}
		if form.ImageURL != "" {
			img := store.EventImage{EventID: ev.ID, Path: form.ImageURL}
			if _, err := tx.Events.AddImage(r.Context(), img); err != nil {
				return err
			}
		}
		if err := h.reconcileTimes(r.Context(), tx, ev.ID, form.Times); err != nil {
			return err
		}
		return h.reconcileRecurrence(r.Context(), tx, ev.ID, form)
	})
	if err != nil {
		errors.InternalError(w, r, err, "update event")
		return
	}

	h.syncRecurrences(r.Context(), r, ev.ID)
	h.redirect(w, r, h.localePath(r, "/events/"+strconv.FormatInt(ev.ID, 10)),
		map[string]string{"status": "Event updated."})
}

// PublishEvent makes a draft visible to everyone.
func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	h.setEventFlag(w, r, "Event published.", func(ctx context.Context, id int64) error {
		return h.store.Events.SetPublished(ctx, id, true)
	})
}

// CancelEvent marks the whole event cancelled while keeping it listed.
func (h *Handler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	h.setEventFlag(w, r, "Event cancelled.", func(ctx context.Context, id int64) error {
		return h.store.Events.SetCancelled(ctx, id, true)
	})
}

// DeleteEvent soft-deletes; the retention purge removes it for good later.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	ev := h.eventFromPath(w, r)
	if ev == nil {
		return
	}
	if !h.canManage(r, ev) {
		h.notFound(w, r)
		return
	}
	if err := h.store.Events.SoftDelete(r.Context(), ev.ID, time.Now()); err != nil {
		errors.InternalError(w, r, err, "delete event")
		return
	}
	h.redirect(w, r, h.localePath(r, "/dashboard"), map[string]string{"status": "Event deleted."})
}

func (h *Handler) setEventFlag(w http.ResponseWriter, r *http.Request, flash string, apply func(context.Context, int64) error) {
	ev := h.eventFromPath(w, r)
	if ev == nil {
		return
	}
	if !h.canManage(r, ev) {
		h.notFound(w, r)
		return
	}
	if err := apply(r.Context(), ev.ID); err != nil {
		errors.InternalError(w, r, err, "update event flag")
		return
	}
	h.redirect(w, r, h.localePath(r, "/events/"+strconv.FormatInt(ev.ID, 10)),
		map[string]string{"status": flash})
}

// eventFromPath loads the event named in the URL, writing a 404 and
// returning nil when it does not exist.
func (h *Handler) eventFromPath(w http.ResponseWriter, r *http.Request) *store.Event {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.notFound(w, r)
		return nil
	}
	ev, err := h.store.Events.GetByID(r.Context(), id)
	if err != nil {
		h.notFound(w, r)
		return nil
	}
	return ev
}

// canManage reports whether the request's user owns the event directly, via
// group membership, or is staff.
func (h *Handler) canManage(r *http.Request, ev *store.Event) bool {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return false
	}
	if user.IsStaff {
		return true
	}
	if ev.OwnerUserID != nil && *ev.OwnerUserID == user.ID {
		return true
	}
	if ev.OwnerGroupID != nil {
		member, err := h.store.Groups.IsMember(r.Context(), *ev.OwnerGroupID, user.ID)
		return err == nil && member
	}
	return false
}

func (h *Handler) listingFilter(r *http.Request, from, to time.Time) store.OccurrenceFilter {
	filter := store.OccurrenceFilter{
		From:  from,
		To:    to,
		Limit: h.cfg.ListingMaxResults,
	}
	if user, ok := auth.UserFromContext(r.Context()); ok {
		filter.Viewer = store.Viewer{UserID: &user.ID, IsStaff: user.IsStaff}
	}
	if ids, err := h.store.Spheres.SubSphereIDs(r.Context(), h.currentSphereID(r)); err == nil {
		filter.SphereIDs = ids
	}
	return filter
}

// formFromEvent builds the edit form's initial state. Generated occurrence
// rows stay out of the formset; the recurrence block manages those.
func (h *Handler) formFromEvent(ctx context.Context, ev *store.Event) (*EventForm, error) {
	form := &EventForm{
		Name:             ev.Name,
		ShortDescription: ev.ShortDescription,
		Description:      ev.Description,
		LocationID:       ev.LocationID,
		VenueName:        stringOr(ev.VenueName),
		Street:           stringOr(ev.Street),
		ZipCode:          stringOr(ev.ZipCode),
		City:             stringOr(ev.City),
		LocationTBA:      ev.LocationTBA,
		Online:           ev.Online,
		Errors:           FieldErrors{},
	}

	times, err := h.store.EventTimes.ListByEvent(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	for _, et := range times {
		if et.RecurrenceAuto {
			continue
		}
		tf := TimeForm{
			ID:        et.ID,
			StartDate: et.Start.Format(formDateLayout),
			StartTime: et.Start.Format(formTimeLayout),
			Cancelled: et.IsCancelled,
			Start:     et.Start,
			End:       et.End,
		}
		if et.End != nil {
			tf.EndDate = et.End.Format(formDateLayout)
			tf.EndTime = et.End.Format(formTimeLayout)
		}
		form.Times = append(form.Times, tf)
		if len(form.Times) == maxFormTimes {
			break
		}
	}

	links, err := h.store.Events.ListLinks(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		form.Links = append(form.Links, l.URL)
	}

	spheres, err := h.store.Events.ListSpheres(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	for _, s := range spheres {
		form.SphereIDs = append(form.SphereIDs, s.ID)
	}

	recs, err := h.store.Recurrences.ListByEvent(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		form.Recurrence.Enabled = true
		form.Recurrence.Kind = recs[0].Kind
		if recs[0].End != nil {
			form.Recurrence.EndDate = recs[0].End.Format(formDateLayout)
			form.Recurrence.End = recs[0].End
		}
	}
	return form, nil
}

// reconcileTimes matches submitted rows against stored ones. An edited row
// loses recurrence_auto so the sync engine treats it as overridden. Manual
// rows missing from the submission are deleted; generated rows are not
// touched here.
func (h *Handler) reconcileTimes(ctx context.Context, tx *store.Store, eventID int64, submitted []TimeForm) error {
	existing, err := tx.EventTimes.ListByEvent(ctx, eventID)
	if err != nil {
		return err
	}
	byID := make(map[int64]store.EventTime, len(existing))
	for _, et := range existing {
		byID[et.ID] = et
	}

	seen := make(map[int64]bool, len(submitted))
	for _, tf := range submitted {
		if tf.ID == 0 {
			_, err := tx.EventTimes.Create(ctx, store.EventTime{
				EventID:     eventID,
				Start:       tf.Start,
				End:         tf.End,
				IsCancelled: tf.Cancelled,
			})
			if err != nil {
				return err
			}
			continue
		}

		et, ok := byID[tf.ID]
		if !ok || et.EventID != eventID {
			continue
		}
		seen[tf.ID] = true
		if !timeChanged(et, tf) {
			continue
		}
		et.Start = tf.Start
		et.End = tf.End
		et.IsCancelled = tf.Cancelled
		et.RecurrenceAuto = false
		if err := tx.EventTimes.Update(ctx, et); err != nil {
			return err
		}
	}

	for _, et := range existing {
		if seen[et.ID] || et.RecurrenceID != nil {
			continue
		}
		if err := tx.EventTimes.Delete(ctx, et.ID); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) reconcileRecurrence(ctx context.Context, tx *store.Store, eventID int64, form *EventForm) error {
	recs, err := tx.Recurrences.ListByEvent(ctx, eventID)
	if err != nil {
		return err
	}

	if !form.Recurrence.Enabled {
		if len(recs) > 0 {
			return tx.Recurrences.DeleteByEvent(ctx, eventID)
		}
		return nil
	}

	if len(recs) > 0 {
		rec := recs[0]
		rec.Kind = form.Recurrence.Kind
		rec.End = form.Recurrence.End
		return tx.Recurrences.Update(ctx, rec)
	}

	times, err := tx.EventTimes.ListByEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if len(times) == 0 {
		return nil
	}
	anchorID := times[0].ID
	_, err = tx.Recurrences.Create(ctx, store.EventRecurrence{
		EventID:      eventID,
		AnchorTimeID: &anchorID,
		Kind:         form.Recurrence.Kind,
		End:          form.Recurrence.End,
	})
	return err
}

// syncRecurrences expands rules after a save. Sync failures are logged;
// the save itself already committed.
func (h *Handler) syncRecurrences(ctx context.Context, r *http.Request, eventID int64) {
	result, err := h.store.SyncEventRecurrences(ctx, eventID, time.Now())
	if err != nil {
		errors.LogError(r, "sync recurrences", err)
		return
	}
	metrics.RecordSync(result.Created, result.Deleted, result.Detached)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timeChanged(et store.EventTime, tf TimeForm) bool {
	if !et.Start.Equal(tf.Start) || et.IsCancelled != tf.Cancelled {
		return true
	}
	if (et.End == nil) != (tf.End == nil) {
		return true
	}
	return et.End != nil && tf.End != nil && !et.End.Equal(*tf.End)
}
