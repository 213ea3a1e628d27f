package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/commonscal/commonscal/internal/analytics"
	appauth "github.com/commonscal/commonscal/internal/auth"
	"github.com/commonscal/commonscal/internal/config"
	httpserver "github.com/commonscal/commonscal/internal/http"
	"github.com/commonscal/commonscal/internal/metrics"
	"github.com/commonscal/commonscal/internal/store"
	"github.com/commonscal/commonscal/internal/ui"
)

func main() {
	log.Println("Starting CommonsCal server...")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatalf("failed to create db pool: %v", err)
	}
	defer pool.Close()

	if err := store.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}

	stor := store.New(pool)

	defaultSphere, err := stor.Spheres.EnsureDefault(ctx, cfg.DefaultSphereSlug, cfg.DefaultSphereSlug)
	if err != nil {
		log.Fatalf("failed to ensure default sphere: %v", err)
	}

	var mailer appauth.Mailer = appauth.LogMailer{}
	if cfg.Mail.SMTPAddr != "" {
		mailer = &appauth.SMTPMailer{Addr: cfg.Mail.SMTPAddr, From: cfg.Mail.From}
	}

	sessionManager := appauth.NewSessionManager(cfg)
	authService := appauth.NewService(cfg, stor, sessionManager, mailer)

	uiHandler := ui.NewHandler(cfg, stor, authService, defaultSphere.ID)
	recorder := analytics.NewRecorder(stor.Visits, cfg, uiHandler.SphereResolver())

	scheduler := cron.New()
	if cfg.Retention.Enabled {
		_, err := scheduler.AddFunc(cfg.Retention.Schedule, func() {
			cutoff := time.Now().AddDate(0, 0, -cfg.Retention.Days)
			purged, err := stor.PurgeSoftDeleted(context.Background(), cutoff)
			if err != nil {
				log.Printf("[ERROR] retention purge: %v", err)
				return
			}
			metrics.RecordPurge(purged)
			log.Printf("[INFO] retention purge removed %d events", purged)
		})
		if err != nil {
			log.Fatalf("failed to schedule retention purge: %v", err)
		}
		scheduler.Start()
	}

	r := httpserver.NewRouter(cfg, stor, authService, uiHandler, recorder)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down...")

	cronCtx := scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	<-cronCtx.Done()
}
