package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/pauljones0/holemonitor/internal/config"
	"github.com/pauljones0/holemonitor/internal/hotholes"
	"github.com/pauljones0/holemonitor/internal/monitor"
	"github.com/pauljones0/holemonitor/internal/notifier"
	"github.com/pauljones0/holemonitor/internal/storage"
	"github.com/pauljones0/holemonitor/internal/summary"
	"github.com/pauljones0/holemonitor/internal/treehole"
	"github.com/pauljones0/holemonitor/internal/util"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg)
	slog.Info("Starting holemonitor", "mode", cfg.Mode, "store", cfg.StoreDriver, "notifier", cfg.Notifier)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("holemonitor stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("holemonitor stopped.")
}

func setupLogging(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	client, err := treehole.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}
	n, err := notifier.New(cfg)
	if err != nil {
		return err
	}

	var summarizer monitor.Summarizer
	if sc, err := summary.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel); err != nil {
		slog.Warn("Thread summaries disabled", "error", err)
	} else if sc != nil {
		summarizer = sc
	}

	m, err := monitor.New(client, store, n, summarizer, cfg)
	if err != nil {
		return err
	}

	if cfg.Mode == config.ModeBackfill {
		_, err := m.Backfill(ctx)
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	httpServer := newHTTPServer(cfg.Port, m.Ranker())

	g.Go(func() error {
		return m.Run(gCtx)
	})
	g.Go(func() error {
		slog.Info("Listening on port", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to listen and serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		return nil
	})
	return g.Wait()
}

func newHTTPServer(port string, ranker *hotholes.Ranker) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("/hot", hotHandler(ranker))

	return &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// hotHandler serves the hot-holes table as JSON. ?limit=N caps the result.
func hotHandler(ranker *hotholes.Ranker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		holes := ranker.Holes()
		if limit := util.SafeAtoi(r.URL.Query().Get("limit")); limit > 0 && limit < len(holes) {
			holes = holes[:limit]
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(holes); err != nil {
			slog.Error("Failed to encode hot holes", "error", err)
		}
	}
}
