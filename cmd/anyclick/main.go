// Command anyclick is the element-capture host: it watches pages for the
// capture gesture, builds element payloads, and delivers them directly or
// through the durable queue.
//
// Usage:
//
//	anyclick -config anyclick.yaml            # service mode
//	anyclick -url https://example.com         # quick single-page capture
//	anyclick -config anyclick.yaml -url ...   # service + attached page
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ewjdev/anyclick/bridge"
	"github.com/ewjdev/anyclick/config"
	"github.com/ewjdev/anyclick/queue"
	"github.com/ewjdev/anyclick/store"
	"github.com/ewjdev/anyclick/submit"
)

func main() {
	configPath := flag.String("config", "", "path to anyclick.yaml config file")
	pageURL := flag.String("url", "", "open and watch a single URL")
	listen := flag.String("listen", "", "bridge listen address (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *pageURL, *listen); err != nil {
		logger.Error("anyclick: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, pageURL, listen string) error {
	if configPath == "" && pageURL == "" {
		fmt.Fprintln(os.Stderr, "usage: anyclick -config <file> | -url <url>")
		os.Exit(1)
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if listen != "" {
		cfg.Bridge.Listen = listen
	}

	db, err := store.Open(cfg.Queue.DBPath, store.WithMkdirAll())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.EnsureSettingsTable(ctx, db); err != nil {
		return err
	}
	if cfg.Submission.Endpoint != "" {
		if err := seedSettings(ctx, db, cfg); err != nil {
			return err
		}
	}

	// The refresh hook reaches back into the app, which in turn needs the
	// queue; a is assigned before q.Run starts draining.
	var a *app
	q := queue.New(db, queueSubmit(cfg), queue.Options{
		BaseDelay: cfg.Queue.BaseDelay,
		MaxDelay:  cfg.Queue.MaxDelay,
		Tick:      cfg.Queue.Tick,
		MaxBytes:  cfg.Submission.MaxBytes,
		Settings: func(ctx context.Context) (store.Settings, error) {
			s, err := store.LoadSettings(ctx, db)
			if errors.Is(err, store.ErrNoSettings) {
				return store.Settings{}, nil
			}
			return s, err
		},
		Refresh: func(ctx context.Context, it *queue.Item) (json.RawMessage, error) {
			return a.refreshPayload(ctx, it)
		},
		Logger: logger,
	})
	if err := q.EnsureTable(ctx); err != nil {
		return err
	}

	a = newApp(cfg, db, q, logger)
	go q.Run(ctx)

	if pageURL != "" {
		if err := a.watchPage(ctx, pageURL); err != nil {
			return err
		}
		defer a.closeBrowser()
	}

	svc := bridge.NewService(db, q, bridge.Options{
		Screenshot: a.bridgeScreenshot,
		Submit:     a.bridgeSubmit,
		MaxBody:    cfg.Bridge.MaxBody,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              cfg.Bridge.Listen,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("anyclick: bridge listening", "addr", cfg.Bridge.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("bridge: %w", err)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
	return nil
}

// seedSettings writes the config file's submission block into the settings
// row so the queue and the refine path see one source of truth.
func seedSettings(ctx context.Context, db *sql.DB, cfg *config.Config) error {
	return store.SaveSettings(ctx, db, store.Settings{
		Enabled:  true,
		Endpoint: cfg.Submission.Endpoint,
		Token:    cfg.Submission.Token,
	})
}

// queueSubmit delivers one queued item to the endpoint from the current
// settings.
func queueSubmit(cfg *config.Config) queue.SubmitFunc {
	return func(ctx context.Context, it *queue.Item, s store.Settings) error {
		endpoint := s.Endpoint
		if endpoint == "" {
			endpoint = cfg.Submission.Endpoint
		}
		opts := []submit.HTTPOption{submit.WithTimeout(cfg.Submission.Timeout)}
		if token := firstNonEmpty(s.Token, cfg.Submission.Token); token != "" {
			opts = append(opts, submit.WithToken(token))
		}
		return submit.NewHTTPAdapter(endpoint, opts...).SubmitRaw(ctx, it.Payload)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
