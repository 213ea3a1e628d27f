package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/commonscal/commonscal/internal/store"
)

func TestAllPageTemplatesRender(t *testing.T) {
	user := &store.User{ID: 1, Email: "u@example.org", IsStaff: true}
	event := &store.Event{ID: 3, Name: "Open stage", Published: true}
	now := time.Now()

	pages := map[string]map[string]any{
		"index.html": {
			"Occurrences": []store.EventOccurrence{
				{Time: store.EventTime{ID: 1, Start: now}, Event: *event},
			},
			"Spheres":         []store.Sphere{{ID: 1, Name: "Main"}},
			"CurrentSphereID": int64(1),
		},
		"events.html": {
			"Occurrences": []store.EventOccurrence{},
			"From":        now,
			"To":          now.AddDate(0, 0, 60),
		},
		"event_detail.html": {
			"Event":     event,
			"Times":     []store.EventTime{{ID: 1, Start: now}},
			"Links":     []store.EventLink{{URL: "https://example.org"}},
			"Images":    []store.EventImage{},
			"CanManage": true,
		},
		"event_form.html": {
			"Form":  &EventForm{Errors: FieldErrors{}},
			"IsNew": true,
		},
		"dashboard.html": {
			"Events": []store.Event{*event},
		},
		"login.html": {
			"Email": "",
		},
		"email_sent.html": {
			"TokenUUID": "some-uuid",
		},
		"spheres.html": {
			"Spheres":         []store.Sphere{{ID: 1, Name: "Main"}},
			"CurrentSphereID": int64(2),
		},
	}

	for name, extra := range pages {
		tmpl, ok := templates[name]
		if !ok {
			t.Fatalf("template %q not registered", name)
		}
		data := map[string]any{
			"Title":     "Test",
			"Lang":      "en",
			"User":      user,
			"CSRFToken": "token",
		}
		for k, v := range extra {
			data[k] = v
		}

		var sb strings.Builder
		if err := tmpl.ExecuteTemplate(&sb, "base.html", data); err != nil {
			t.Errorf("render %s: %v", name, err)
			continue
		}
		if !strings.Contains(sb.String(), "</html>") {
			t.Errorf("render %s: truncated output", name)
		}
	}
}
