package ui

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/commonscal/commonscal/internal/recurrence"
)

const (
	maxFormTimes = 5
	maxFormLinks = 5

	formDateLayout = "2006-01-02"
	formTimeLayout = "15:04"
)

// FieldErrors maps form field names (times.0.start, links.2, ...) to
// messages rendered next to the field.
type FieldErrors map[string]string

func (e FieldErrors) add(field, message string) {
	if _, exists := e[field]; !exists {
		e[field] = message
	}
}

// TimeForm is one row of the occurrence formset.
type TimeForm struct {
	ID        int64 // 0 for new rows
	StartDate string
	StartTime string
	EndDate   string
	EndTime   string
	Cancelled bool

	Start time.Time
	End   *time.Time
}

// RecurrenceForm is the optional repeat block of the event form.
type RecurrenceForm struct {
	Enabled bool
	Kind    string
	EndDate string
	End     *time.Time
}

// EventForm carries the whole multi-section event form: core fields, up to
// five times, up to five links, and an optional recurrence rule. Saving is
// all-or-nothing; Errors holds per-field messages when validation fails.
type EventForm struct {
	Name             string
	ShortDescription string
	Description      string

	VenueName   string
	Street      string
	ZipCode     string
	City        string
	LocationID  *int64
	LocationTBA bool
	Online      bool

	SphereIDs []int64
	Times     []TimeForm
	Links     []string
	ImageURL  string

	Recurrence RecurrenceForm

	Errors FieldErrors
}

// Valid reports whether validation produced no field errors.
func (f *EventForm) Valid() bool {
	return len(f.Errors) == 0
}

// parseEventForm decodes and validates the posted event form. Past start
// times are rejected for newly added rows only; rows that already exist may
// keep their historical dates.
func parseEventForm(r *http.Request, now time.Time) *EventForm {
	_ = r.ParseForm()
	form := &EventForm{Errors: FieldErrors{}}

	form.Name = strings.TrimSpace(r.PostFormValue("name"))
	form.ShortDescription = strings.TrimSpace(r.PostFormValue("short_description"))
	form.Description = strings.TrimSpace(r.PostFormValue("description"))
	form.VenueName = strings.TrimSpace(r.PostFormValue("venue_name"))
	form.Street = strings.TrimSpace(r.PostFormValue("street"))
	form.ZipCode = strings.TrimSpace(r.PostFormValue("zip_code"))
	form.City = strings.TrimSpace(r.PostFormValue("city"))
	form.LocationTBA = r.PostFormValue("location_tba") != ""
	form.Online = r.PostFormValue("online") != ""

	if form.Name == "" {
		form.Errors.add("name", "name is required")
	}
	if len(form.Name) > 255 {
		form.Errors.add("name", "name is too long")
	}

	if raw := r.PostFormValue("location_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			form.Errors.add("location_id", "invalid location")
		} else {
			form.LocationID = &id
		}
	}

	for _, raw := range r.PostForm["spheres"] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			form.Errors.add("spheres", "invalid sphere")
			continue
		}
		form.SphereIDs = append(form.SphereIDs, id)
	}

	form.Times = parseTimeForms(r, form.Errors, now)
	if len(form.Times) == 0 {
		form.Errors.add("times", "at least one date is required")
	}

	form.Links = parseLinkForms(r, form.Errors)
	form.Recurrence = parseRecurrenceForm(r, form.Errors)

	if raw := strings.TrimSpace(r.PostFormValue("image_url")); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			form.Errors.add("image_url", "enter a valid http(s) URL")
		} else {
			form.ImageURL = raw
		}
	}

	return form
}

func parseTimeForms(r *http.Request, errs FieldErrors, now time.Time) []TimeForm {
	var out []TimeForm
	for i := 0; i < maxFormTimes; i++ {
		prefix := fmt.Sprintf("times.%d.", i)
		tf := TimeForm{
			StartDate: strings.TrimSpace(r.PostFormValue(prefix + "start_date")),
			StartTime: strings.TrimSpace(r.PostFormValue(prefix + "start_time")),
			EndDate:   strings.TrimSpace(r.PostFormValue(prefix + "end_date")),
			EndTime:   strings.TrimSpace(r.PostFormValue(prefix + "end_time")),
			Cancelled: r.PostFormValue(prefix+"cancelled") != "",
		}
		if raw := r.PostFormValue(prefix + "id"); raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
				tf.ID = id
			}
		}
		if tf.StartDate == "" && tf.StartTime == "" && tf.ID == 0 {
			continue // unused formset row
		}

		field := fmt.Sprintf("times.%d.start", i)
		start, err := parseDateTime(tf.StartDate, tf.StartTime)
		if err != nil {
			errs.add(field, "enter a valid date and time")
			out = append(out, tf)
			continue
		}
		tf.Start = start
		if tf.ID == 0 && start.Before(now) {
			errs.add(field, "start must not be in the past")
		}

		if tf.EndDate != "" || tf.EndTime != "" {
			endDate := tf.EndDate
			if endDate == "" {
				endDate = tf.StartDate
			}
			end, err := parseDateTime(endDate, tf.EndTime)
			if err != nil {
				errs.add(fmt.Sprintf("times.%d.end", i), "enter a valid end date and time")
			} else if !end.After(start) {
				errs.add(fmt.Sprintf("times.%d.end", i), "end must be after start")
			} else {
				tf.End = &end
			}
		}
		out = append(out, tf)
	}
	return out
}

func parseLinkForms(r *http.Request, errs FieldErrors) []string {
	var out []string
	for i := 0; i < maxFormLinks; i++ {
		raw := strings.TrimSpace(r.PostFormValue(fmt.Sprintf("links.%d.url", i)))
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs.add(fmt.Sprintf("links.%d", i), "enter a valid http(s) URL")
			continue
		}
		out = append(out, raw)
	}
	return out
}

func parseRecurrenceForm(r *http.Request, errs FieldErrors) RecurrenceForm {
	rf := RecurrenceForm{
		Kind:    strings.TrimSpace(r.PostFormValue("recurrence.kind")),
		EndDate: strings.TrimSpace(r.PostFormValue("recurrence.end_date")),
	}
	if rf.Kind == "" {
		return rf
	}
	rf.Enabled = true
	if _, err := recurrence.ParseKind(rf.Kind); err != nil {
		errs.add("recurrence.kind", "unknown repeat rule")
	}
	if rf.EndDate != "" {
		end, err := time.ParseInLocation(formDateLayout, rf.EndDate, time.Local)
		if err != nil {
			errs.add("recurrence.end_date", "enter a valid date")
		} else {
			// End is inclusive of the whole day.
			end = end.Add(24*time.Hour - time.Second)
			rf.End = &end
		}
	}
	return rf
}

func parseDateTime(date, clock string) (time.Time, error) {
	if date == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	if clock == "" {
		clock = "00:00"
	}
	return time.ParseInLocation(formDateLayout+" "+formTimeLayout, date+" "+clock, time.Local)
}
