package ui

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/commonscal/commonscal/internal/auth"
	"github.com/commonscal/commonscal/internal/http/csrf"
	"github.com/commonscal/commonscal/internal/http/errors"
)

// lang returns the locale from the route, falling back to the first
// configured language.
func (h *Handler) lang(r *http.Request) string {
	if l := chi.URLParam(r, "locale"); h.cfg.IsLanguage(l) {
		return l
	}
	return h.cfg.Languages[0]
}

func (h *Handler) localePath(r *http.Request, suffix string) string {
	return "/" + h.lang(r) + suffix
}

// baseData assembles the fields every template expects: locale, current
// user, CSRF token, and any flash carried in the query string.
func (h *Handler) baseData(r *http.Request, title string) map[string]any {
	data := map[string]any{
		"Title": title,
		"Lang":  h.lang(r),
	}
	if user, ok := auth.UserFromContext(r.Context()); ok {
		data["User"] = user
	}
	if token := csrf.TokenFromContext(r.Context()); token != "" {
		data["CSRFToken"] = token
	}
	q := r.URL.Query()
	if status := q.Get("status"); status != "" {
		data["FlashMessage"] = status
	}
	if msg := q.Get("error"); msg != "" {
		data["FlashError"] = msg
	}
	return data
}

// redirect sends the browser to path with optional query parameters.
func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, path string, params map[string]string) {
	q := url.Values{}
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	location := path
	if encoded := q.Encode(); encoded != "" {
		location += "?" + encoded
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// render executes a template set and writes the response.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	tmpl, ok := h.templates[name]
	if !ok {
		errors.InternalError(w, r, fmt.Errorf("template %q not registered", name), "template lookup")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		errors.LogError(r, fmt.Sprintf("render template %q", name), err)
	}
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "not found", http.StatusNotFound)
}
