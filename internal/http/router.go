package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/commonscal/commonscal/internal/analytics"
	"github.com/commonscal/commonscal/internal/auth"
	"github.com/commonscal/commonscal/internal/config"
	"github.com/commonscal/commonscal/internal/http/csrf"
	"github.com/commonscal/commonscal/internal/http/ratelimit"
	"github.com/commonscal/commonscal/internal/metrics"
	"github.com/commonscal/commonscal/internal/store"
	"github.com/commonscal/commonscal/internal/ui"
)

// NewRouter wires all HTTP routes: health and metrics endpoints, the JSON
// occurrence feed, and the locale-prefixed HTML pages.
func NewRouter(cfg *config.Config, st *store.Store, authService *auth.Service, uiHandler *ui.Handler, recorder *analytics.Recorder) http.Handler {
	r := chi.NewRouter()

	// Auth endpoints: 5 requests per second, burst of 10
	authRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(5), 10, 5*time.Minute, cfg.TrustedProxies)
	// Event writes: 10 requests per second, burst of 20
	writeRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(10), 20, 5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(overrideMethod)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := st.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	// The occurrence feed is read-only and open to third-party frontends.
	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			MaxAge:         300,
		}))
		r.Get("/occurrences", uiHandler.APIOccurrences)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/"+cfg.Languages[0]+"/", http.StatusFound)
	})

	r.Route("/{locale}", func(r chi.Router) {
		r.Use(localeOnly(cfg))
		r.Use(recorder.Middleware())
		r.Use(csrf.Middleware(cfg))
		r.Use(authService.LoadUser)

		r.Get("/", uiHandler.Index)
		r.Get("/events", uiHandler.Events)
		r.Get("/events/{id}", uiHandler.EventDetail)
		r.Get("/spheres", uiHandler.Spheres)
		r.Post("/spheres/{id}/select", uiHandler.SelectSphere)

		r.Get("/login", uiHandler.LoginPage)
		r.Group(func(r chi.Router) {
			r.Use(authRateLimiter.Middleware())
			r.Post("/auth/login", uiHandler.PasswordLogin)
			r.Post("/auth/email", uiHandler.EmailLogin)
			r.Get("/auth/confirm/{token}", uiHandler.ConfirmToken)
			r.Post("/auth/token/{uuid}", uiHandler.PassphraseLogin)
		})
		r.Post("/auth/logout", uiHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(authService.RequireUser)
			r.Use(writeRateLimiter.Middleware())

			r.Get("/dashboard", uiHandler.Dashboard)
			r.Get("/events/new", uiHandler.NewEventForm)
			r.Post("/events/new", uiHandler.CreateEvent)
			r.Get("/events/{id}/edit", uiHandler.EditEventForm)
			r.Post("/events/{id}/edit", uiHandler.UpdateEvent)
			r.Post("/events/{id}/publish", uiHandler.PublishEvent)
			r.Post("/events/{id}/cancel", uiHandler.CancelEvent)
			r.Post("/events/{id}/delete", uiHandler.DeleteEvent)
			r.Delete("/events/{id}", uiHandler.DeleteEvent) // _method=DELETE form fallback

			r.With(authService.RequireStaff).Post("/admin/purge", uiHandler.AdminPurge)
		})
	})

	return r
}

// localeOnly rejects paths whose first segment is not a configured language,
// so arbitrary prefixes never reach the page handlers.
func localeOnly(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.IsLanguage(chi.URLParam(r, "locale")) {
				http.NotFound(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func overrideMethod(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method
		if r.Method == http.MethodPost {
			if m := strings.TrimSpace(r.PostFormValue("_method")); m != "" {
				method = m
			} else if m := strings.TrimSpace(r.URL.Query().Get("_method")); m != "" {
				method = m
			}
		}
		switch strings.ToUpper(method) {
		case http.MethodPut, http.MethodDelete:
			r.Method = strings.ToUpper(method)
		}
		next.ServeHTTP(w, r)
	})
}
