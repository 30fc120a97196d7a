package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sydlexius/smack/internal/api"
	"github.com/sydlexius/smack/internal/api/middleware"
	"github.com/sydlexius/smack/internal/config"
	"github.com/sydlexius/smack/internal/connection/jellyfin"
	"github.com/sydlexius/smack/internal/logging"
	"github.com/sydlexius/smack/internal/maintenance"
	"github.com/sydlexius/smack/internal/version"
	"github.com/sydlexius/smack/internal/watcher"
)

const lockFileName = "smack.lock"

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, ctx)
		},
	}
}

func runServe(cmd *cobra.Command, cc *commandContext) error {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logManager, logger, err := cc.newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	// One server per data directory.
	dataDir := filepath.Dir(cfg.Database.Path)
	if err := cc.fs.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	lock := flock.New(filepath.Join(dataDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another smack instance is already serving %s", dataDir)
	}
	defer lock.Unlock() //nolint:errcheck

	st, err := cc.openStore(logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()
	logger.Info("database ready", slog.String("path", cfg.Database.Path))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter = middleware.NewRateLimiter(gctx, cfg.Server.RateLimitPerMinute)
	}

	remote := jellyfin.NewWithHTTPClient(&http.Client{Timeout: cfg.Remote.Timeout.Std()}, logger)

	router := api.NewRouter(api.RouterDeps{
		Servers:     st.servers,
		Remote:      remote,
		RateLimiter: limiter,
		Logger:      logger,
		BasePath:    cfg.Server.BasePath,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Outbound calls may take up to the remote timeout.
		WriteTimeout: cfg.Remote.Timeout.Std() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("starting smack",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
	)

	g.Go(func() error {
		logger.Info("server starting", slog.String("addr", addr), slog.String("base_path", cfg.Server.BasePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	maint := maintenance.NewService(st.db, cc.fs, cfg.Database.Path, logger)
	g.Go(func() error {
		maint.StartScheduler(gctx, maintenance.DefaultInterval)
		return nil
	})

	if path := cc.configPath(); path != "" {
		if exists, _ := afero.Exists(cc.fs, path); exists {
			w := watcher.NewService(path, reloadLogging(path, logManager, logger), logger)
			g.Go(func() error {
				w.Start(gctx)
				return nil
			})
		}
	}

	return g.Wait()
}

// reloadLogging re-reads the config file and applies its logging section.
// Other sections take effect on restart.
func reloadLogging(path string, mgr *logging.Manager, logger *slog.Logger) watcher.ReloadFunc {
	return func(_ context.Context) error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		next := logging.FromConfig(cfg.Logging)
		if mgr.Reconfigure(next) {
			logger.Info("logging reconfigured", slog.String("config", next.String()))
		}
		return nil
	}
}
