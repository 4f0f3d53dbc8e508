// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/othala/internal/api"
	"github.com/starford/othala/internal/capture"
	"github.com/starford/othala/internal/conflictlog"
	"github.com/starford/othala/internal/destindex"
	"github.com/starford/othala/internal/fpcache"
	"github.com/starford/othala/internal/ledger"
	"github.com/starford/othala/internal/mcpserver"
	"github.com/starford/othala/internal/merge"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/scan"
	"github.com/starford/othala/internal/sse"
	"github.com/starford/othala/internal/storage"
	"github.com/starford/othala/internal/watch"
)

// Run executes one batch merge and returns when every candidate has been
// processed. Per-file failures are counted in the summary, not returned.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts...)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := initLogger(os.Stdout, cfg.App.LogLevel)

	logger.Info("Configuration loaded",
		slog.Any("sources", cfg.Merge.Sources),
		slog.String("destination", cfg.Merge.Destination),
		slog.String("ledger", cfg.Ledger.Path),
		slog.Bool("dry_run", app.dryRun),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Show what the run will do and get consent before anything is opened
	// or created.
	printBanner(app.promptOut, cfg, app.dryRun)
	if !app.assumeYes && !app.dryRun {
		if !confirm(app.promptIn, app.promptOut) {
			logger.Info("merge aborted")
			fmt.Fprintln(app.promptOut, "Aborted.")
			return nil
		}
	}

	sess, err := openSession(ctx, cfg, logger, app.dryRun, nil)
	if err != nil {
		return err
	}
	defer sess.close()

	candidates := scan.Sources(ctx, cfg.Merge.Sources, cfg.Merge.Extensions,
		[]string{cfg.Merge.Destination}, logger)
	sum, err := sess.engine.Run(ctx, candidates)
	reportSummary(app.promptOut, sum, app.dryRun)
	return err
}

// RunWatch merges what the sources already hold, then keeps merging as files
// arrive, serving the status API until a shutdown signal.
func RunWatch(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts...)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := initLogger(os.Stdout, cfg.App.LogLevel)

	logger.Info("Configuration loaded",
		slog.Any("sources", cfg.Merge.Sources),
		slog.String("destination", cfg.Merge.Destination),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	sess, err := openSession(ctx, cfg, logger, false, broker)
	if err != nil {
		return err
	}
	defer sess.close()

	// Initial sweep: whatever is already in the sources is merged before the
	// watcher takes over.
	sum, err := sess.engine.Run(ctx, scan.Sources(ctx, cfg.Merge.Sources,
		cfg.Merge.Extensions, []string{cfg.Merge.Destination}, logger))
	if err != nil {
		return err
	}
	logger.Info("initial sweep complete",
		slog.Int64("copied", sum.Copied),
		slog.Int64("renamed", sum.Renamed),
		slog.Int64("duplicates", sum.Duplicates))

	// Uploads land in the first source root, where the watcher finds them.
	ingestDir := cfg.Merge.Sources[0]
	apiRouter := api.NewRouter(sess.engine, sess.conflicts, ingestDir,
		cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the source trees, merging settled files.
	g.Go(func() error {
		return watch.Watch(gCtx, sess.engine, watch.Options{
			Roots:   cfg.Merge.Sources,
			Exts:    scan.ExtSet(cfg.Merge.Extensions),
			Exclude: []string{cfg.Merge.Destination},
			Settle:  cfg.Watch.Settle(),
		}, logger)
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the read-only MCP tools on stdio. Stdout carries the JSON-RPC
// stream, so logging moves to stderr and the engine runs dry.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts...)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := initLogger(os.Stderr, cfg.App.LogLevel)

	sess, err := openSession(ctx, cfg, logger, true, nil)
	if err != nil {
		return err
	}
	defer sess.close()

	srv := mcpserver.New(sess.engine, cfg.Merge.Sources, cfg.Merge.Extensions,
		[]string{cfg.Merge.Destination}, cfg.ConflictLog.Path)
	logger.Info("MCP server starting on stdio")
	return srv.ServeStdio()
}

// newApplication applies options and fills prompt defaults.
func newApplication(opts ...Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.promptIn == nil {
		app.promptIn = os.Stdin
	}
	if app.promptOut == nil {
		app.promptOut = os.Stderr
	}
	return app, nil
}

// initLogger installs the structured JSON logger as the process default.
func initLogger(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// session bundles an engine with the resources it borrows for one run.
type session struct {
	engine    *merge.Engine
	conflicts *conflictlog.Log
	ledger    *ledger.Ledger
	cache     fpcache.Cache
}

func (s *session) close() {
	_ = s.conflicts.Close()
	_ = s.ledger.Close()
	_ = s.cache.Close()
}

// openSession opens the destination, ledger, conflict log, and cache, indexes
// the destination, and wires the engine. Any failure here is fatal to the run.
func openSession(ctx context.Context, cfg *Config, logger *slog.Logger, dry bool, sink merge.Sink) (*session, error) {
	store, err := storage.NewFS(cfg.Merge.Destination)
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}

	cache := openCache(cfg.Cache.Path, logger)

	led, err := ledger.Open(cfg.Ledger.Path, logger)
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	conflicts, err := conflictlog.Open(cfg.ConflictLog.Path)
	if err != nil {
		led.Close()
		cache.Close()
		return nil, fmt.Errorf("open conflict log: %w", err)
	}

	idx, err := destindex.Build(ctx, store, scan.ExtSet(cfg.Merge.Extensions),
		cache, cfg.Merge.Workers, logger)
	if err != nil {
		conflicts.Close()
		led.Close()
		cache.Close()
		return nil, fmt.Errorf("index destination: %w", err)
	}

	eng := merge.New(merge.Options{
		Store:     store,
		Index:     idx,
		Ledger:    led,
		Conflicts: conflicts,
		Times:     capture.NewTimes(logger),
		Cache:     cache,
		Sink:      sink,
		Logger:    logger,
		Workers:   cfg.Merge.Workers,
		DryRun:    dry,
	})

	return &session{engine: eng, conflicts: conflicts, ledger: led, cache: cache}, nil
}

// openCache opens the fingerprint cache, or a no-op cache when unconfigured.
// A broken cache costs rehashing, not the run, so open failures degrade.
func openCache(path string, logger *slog.Logger) fpcache.Cache {
	if path == "" {
		return fpcache.Nop{}
	}
	db, err := fpcache.Open(path)
	if err != nil {
		logger.Warn("fingerprint cache unavailable, hashing everything",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return fpcache.Nop{}
	}
	return db
}

// printBanner writes the run preamble: what will be scanned, where files
// will land, and whether earlier runs left a ledger behind.
func printBanner(out io.Writer, cfg *Config, dry bool) {
	fmt.Fprintln(out, "Sources:")
	for _, s := range cfg.Merge.Sources {
		fmt.Fprintf(out, "  %s\n", s)
	}
	fmt.Fprintf(out, "Destination: %s\n", cfg.Merge.Destination)
	fmt.Fprintf(out, "Extensions:  %s\n", strings.Join(cfg.Merge.Extensions, " "))
	if _, err := os.Stat(cfg.Ledger.Path); err == nil {
		fmt.Fprintf(out, "Ledger:      %s (resuming)\n", cfg.Ledger.Path)
	} else {
		fmt.Fprintf(out, "Ledger:      %s (new)\n", cfg.Ledger.Path)
	}
	if dry {
		fmt.Fprintln(out, "Dry run: nothing will be copied.")
	}
}

// confirm asks for consent on out and reads the answer from in. Anything but
// an explicit yes declines, including EOF.
func confirm(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "Proceed? [y/N] ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// reportSummary prints the human-readable run result next to the prompt
// output; the JSON log carries the same numbers for machines.
func reportSummary(out io.Writer, sum models.Summary, dry bool) {
	verb := "Merged"
	if dry {
		verb = "Would merge"
	}
	fmt.Fprintf(out, "%s %d of %d files (%d renamed), %s.\n",
		verb, sum.Copied+sum.Renamed, sum.Evaluated, sum.Renamed, formatBytes(sum.BytesCopied))
	fmt.Fprintf(out, "Skipped %d duplicates and %d already recorded; %d failed.\n",
		sum.Duplicates, sum.AlreadySeen, sum.Failed)
}

// formatBytes renders n in binary units with one decimal.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
