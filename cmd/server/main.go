package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/planpin/planpin/backend-go/internal/asset"
	"github.com/planpin/planpin/backend-go/internal/auth"
	"github.com/planpin/planpin/backend-go/internal/config"
	"github.com/planpin/planpin/backend-go/internal/ingest"
	mw "github.com/planpin/planpin/backend-go/internal/middleware"
	"github.com/planpin/planpin/backend-go/internal/project"
	"github.com/planpin/planpin/backend-go/internal/session"
	"github.com/planpin/planpin/backend-go/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		slog.Error("open storage", "error", err, "driver", cfg.StorageDriver)
		os.Exit(1)
	}
	defer closeStorage()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := mw.NewMetrics(registry)
	if err != nil {
		slog.Error("register metrics", "error", err)
		os.Exit(1)
	}

	authService := auth.NewService(cfg.JWTSecret)
	authHandler := auth.NewHandler(authService)

	projectService := project.NewService(project.Options{
		Storage:          kv,
		Observer:         metrics,
		AutosaveInterval: cfg.AutosaveInterval,
	})
	projectHandler := project.NewHandler(projectService)

	assetHandler := asset.NewHandler(cfg.AssetDir, projectService, cfg.MaxImageWidth)
	fetcher := asset.NewFetcher(cfg.AssetDir, ingest.NewFetcher(nil))

	hub := session.NewHub(metrics)
	viewerHandler := session.NewHandler(projectService, authService, fetcher, hub, mw.OriginPatterns(cfg.Origins()))

	r := mux.NewRouter()

	// Global middleware
	r.Use(mw.Recovery)
	r.Use(mw.Logger)
	r.Use(mw.CORS(cfg.Origins()))
	r.Use(metrics.Middleware)

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	r.PathPrefix(asset.URLPrefix).Handler(assetHandler.Serve()).Methods("GET")

	// Requests without a token are anonymous; a bad token is rejected.
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authService.AuthMiddleware)

	api.HandleFunc("/auth/guest", authHandler.Guest).Methods("POST")
	api.HandleFunc("/auth/me", authHandler.Me).Methods("GET")
	assetHandler.Routes(api)
	projectHandler.Routes(api)

	// Viewer sessions authenticate with the token query parameter.
	r.Handle("/ws/projects/{projectId}/viewer", viewerHandler)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server")
		hub.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting", "addr", addr, "storage", cfg.StorageDriver)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("saving projects")
	projectService.Close()
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.KV, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		pg, err := storage.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case config.DriverSQLite:
		db, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, func() {
			if err := db.Close(); err != nil {
				slog.Warn("close sqlite", "error", err)
			}
		}, nil
	default:
		return storage.NewMemory(), func() {}, nil
	}
}
