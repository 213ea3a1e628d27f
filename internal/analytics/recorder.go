// Package analytics records anonymous visits for audience statistics.
//
// A visitor is identified by an irreversible hash of their session id mixed
// with the server secret and a deployment salt. Raw session ids, IP
// addresses, and user agents are never stored, so a database leak cannot be
// joined back to individuals.
package analytics

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/commonscal/commonscal/internal/config"
	"github.com/commonscal/commonscal/internal/http/errors"
	"github.com/commonscal/commonscal/internal/metrics"
	"github.com/commonscal/commonscal/internal/store"
)

const visitorCookieName = "commonscal_visitor"

// SphereResolver maps a request to the sphere being viewed. Returning false
// skips recording.
type SphereResolver func(r *http.Request) (int64, bool)

// Recorder is middleware that upserts one visits row per (visitor, locale,
// sphere) triple seen on calendar pages.
type Recorder struct {
	visits  store.VisitRepository
	cfg     *config.Config
	sphere  SphereResolver
	secure  bool
	ignored []string
}

// NewRecorder wires the visit middleware. The resolver decides which sphere
// a request belongs to.
func NewRecorder(visits store.VisitRepository, cfg *config.Config, sphere SphereResolver) *Recorder {
	secure := true
	if base, err := url.Parse(cfg.BaseURL); err == nil && base.Scheme != "https" {
		secure = false
	}
	return &Recorder{
		visits:  visits,
		cfg:     cfg,
		sphere:  sphere,
		secure:  secure,
		ignored: cfg.Analytics.IgnorePaths,
	}
}

// Middleware ensures a visitor cookie exists and records the visit after
// the page is served. Recording failures are logged, never surfaced.
func (rec *Recorder) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rec.ignore(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			lang, ok := rec.language(r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			visitorID := rec.visitorID(w, r)

			next.ServeHTTP(w, r)

			if visitorID == "" {
				return
			}
			sphereID, ok := rec.sphere(r)
			if !ok {
				return
			}
			hash := VisitorHash(visitorID, rec.cfg.Session.Secret, rec.cfg.Analytics.Salt)
			if err := rec.visits.Upsert(r.Context(), hash, lang, sphereID); err != nil {
				errors.LogError(r, "record visit", err)
				return
			}
			metrics.RecordVisit()
		})
	}
}

func (rec *Recorder) ignore(path string) bool {
	for _, p := range rec.ignored {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// language extracts the locale prefix from a path like /en/calendar. Only
// configured languages count; anything else is not a calendar page.
func (rec *Recorder) language(path string) (string, bool) {
	trimmed := strings.TrimPrefix(path, "/")
	seg, _, _ := strings.Cut(trimmed, "/")
	if rec.cfg.IsLanguage(seg) {
		return seg, true
	}
	return "", false
}

// visitorID returns the anonymous session id, issuing a cookie on first
// sight. The id itself never reaches the database.
func (rec *Recorder) visitorID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(visitorCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     visitorCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   60 * 60 * 24 * 365,
		HttpOnly: true,
		Secure:   rec.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// VisitorHash derives the stored identifier. The secret and salt make the
// hash useless without server-side configuration.
func VisitorHash(visitorID, secret, salt string) string {
	sum := sha256.Sum256([]byte(visitorID + secret + salt))
	return hex.EncodeToString(sum[:])
}
