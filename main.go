package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/rs/cors"

	"tutorhub/internal/auth"
	"tutorhub/internal/config"
	"tutorhub/internal/gateway"
	"tutorhub/internal/jobs"
	"tutorhub/internal/notify"
	"tutorhub/internal/presence"
	"tutorhub/internal/queue"
	"tutorhub/internal/relay"
	"tutorhub/internal/session"
	"tutorhub/internal/store"
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open session store", "error", err)
		os.Exit(1)
	}

	var escalator session.Escalator = notify.Noop{}
	if cfg.NATSURL != "" {
		esc, err := notify.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("notification escalator unavailable, continuing without it", "url", cfg.NATSURL, "error", err)
		} else {
			defer esc.Close()
			escalator = esc
		}
	}

	registry := presence.NewRegistry()

	view := queue.NewView(st, st, logger)
	view.Window = cfg.QueueWindow
	view.Grace = cfg.QueueGrace

	broadcaster := gateway.NewBroadcaster(registry, view, logger)
	sessions := session.NewService(st, st, st, broadcaster, escalator, logger)
	rel := relay.New(st, registry, logger)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	gw := gateway.New(ctx, verifier, st, registry, sessions, rel, view, logger)

	sweeper := jobs.NewSweeper(st, sessions, cfg.StaleAfter, logger)
	scheduler, err := sweeper.Start(cfg.SweepInterval)
	if err != nil {
		logger.Error("failed to start stale session sweeper", "error", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	mux := http.NewServeMux()
	controller := NewController(sessions, verifier, gw)
	controller.Routes(mux)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: corsMiddleware.Handler(mux),
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
