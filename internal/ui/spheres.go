package ui

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/commonscal/commonscal/internal/auth"
	"github.com/commonscal/commonscal/internal/http/errors"
)

// Spheres lists the available calendar scopes.
func (h *Handler) Spheres(w http.ResponseWriter, r *http.Request) {
	spheres, err := h.store.Spheres.List(r.Context())
	if err != nil {
		errors.InternalError(w, r, err, "load spheres")
		return
	}
	data := h.baseData(r, "Spheres")
	data["Spheres"] = spheres
	data["CurrentSphereID"] = h.currentSphereID(r)

	// Staff get a rough popularity signal per sphere.
	if user, ok := auth.UserFromContext(r.Context()); ok && user.IsStaff {
		since := time.Now().AddDate(0, 0, -30)
		counts := make(map[int64]int64, len(spheres))
		for _, s := range spheres {
			if n, err := h.store.Visits.CountSince(r.Context(), s.ID, since); err == nil {
				counts[s.ID] = n
			}
		}
		data["VisitCounts"] = counts
	}
	h.render(w, r, "spheres.html", data)
}

// SelectSphere remembers the visitor's sphere choice in a cookie.
func (h *Handler) SelectSphere(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.notFound(w, r)
		return
	}
	if _, err := h.store.Spheres.GetByID(r.Context(), id); err != nil {
		h.notFound(w, r)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sphereCookieName,
		Value:    strconv.FormatInt(id, 10),
		Path:     "/",
		MaxAge:   60 * 60 * 24 * 365,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	h.redirect(w, r, h.localePath(r, "/"), nil)
}
