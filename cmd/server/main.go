// webvoyager - browsing-session service driven by a web-navigation agent.
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

	"github.com/avolkov/webvoyager/internal/api"
	"github.com/avolkov/webvoyager/internal/browser"
	"github.com/avolkov/webvoyager/internal/config"
	"github.com/avolkov/webvoyager/internal/engine"
	"github.com/avolkov/webvoyager/internal/graph"
	"github.com/avolkov/webvoyager/internal/llm"
	"github.com/avolkov/webvoyager/internal/middleware"
	"github.com/avolkov/webvoyager/internal/session"
	"github.com/avolkov/webvoyager/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "start_url", cfg.StartURL, "headless", cfg.Headless)

	// Initialize dependencies.
	var history store.Repository
	if cfg.HistoryEnabled {
		history, err = store.NewSQLite(cfg.HistoryDBPath)
		if err != nil {
			slog.Error("Failed to initialize query history store", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := history.Close(); closeErr != nil {
				slog.Error("Failed to close query history store", "error", closeErr)
			}
		}()
		slog.Info("Query history store ready", "path", cfg.HistoryDBPath)
	} else {
		slog.Info("Query history disabled")
	}

	oracle, err := llm.NewOpenAI(llm.Config{
		APIKey:    cfg.OpenAIAPIKey,
		Model:     cfg.OpenAIModel,
		BaseURL:   cfg.OpenAIBaseURL,
		MaxTokens: cfg.OpenAIMaxTokens,
	})
	if err != nil {
		slog.Error("Failed to initialize oracle client", "error", err)
		os.Exit(1)
	}
	slog.Info("Oracle client initialized", "model", cfg.OpenAIModel)

	browsers, err := browser.NewManager(cfg.Headless, cfg.StartURL)
	if err != nil {
		slog.Error("Failed to initialize browser manager", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	registry := session.NewRegistry(&graph.Factory{Browsers: browsers, Oracle: oracle}, cfg.SweepInterval)
	eng := engine.New(history)

	// Initialize handlers.
	handler := api.NewHandler(registry, eng, history, cfg)

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS)

	handler.RegisterHealth(r)
	handler.RegisterRoutes(r)
	handler.RegisterWatch(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // watch sockets stay open for the whole query
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry.StartSweep(ctx)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	registry.CloseAll(shutdownCtx)

	if err := browsers.Shutdown(); err != nil {
		slog.Error("Failed to shut down browser", "error", err)
	}

	slog.Info("Server stopped successfully")
}
