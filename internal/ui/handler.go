package ui

import (
	"html/template"
	"net/http"
	"strconv"

	"github.com/commonscal/commonscal/internal/analytics"
	"github.com/commonscal/commonscal/internal/auth"
	"github.com/commonscal/commonscal/internal/config"
	"github.com/commonscal/commonscal/internal/store"
)

const sphereCookieName = "commonscal_sphere"

// Handler serves the server-rendered HTML pages and the small JSON API.
type Handler struct {
	cfg             *config.Config
	store           *store.Store
	auth            *auth.Service
	defaultSphereID int64
	templates       map[string]*template.Template
}

// NewHandler wires the page handlers. defaultSphereID is the sphere shown
// to visitors who have not picked one; it is resolved once at startup.
func NewHandler(cfg *config.Config, st *store.Store, authSvc *auth.Service, defaultSphereID int64) *Handler {
	return &Handler{
		cfg:             cfg,
		store:           st,
		auth:            authSvc,
		defaultSphereID: defaultSphereID,
		templates:       templates,
	}
}

// currentSphereID returns the sphere picked via cookie, or the default.
func (h *Handler) currentSphereID(r *http.Request) int64 {
	if c, err := r.Cookie(sphereCookieName); err == nil {
		if id, err := strconv.ParseInt(c.Value, 10, 64); err == nil && id > 0 {
			return id
		}
	}
	return h.defaultSphereID
}

// SphereResolver adapts the sphere cookie for the visit recorder.
func (h *Handler) SphereResolver() analytics.SphereResolver {
	return func(r *http.Request) (int64, bool) {
		return h.currentSphereID(r), true
	}
}
