package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/newtab-sections/internal/api"
	"github.com/shehryarbajwa/newtab-sections/internal/bridge"
	"github.com/shehryarbajwa/newtab-sections/internal/config"
	"github.com/shehryarbajwa/newtab-sections/internal/extension"
	"github.com/shehryarbajwa/newtab-sections/internal/logging"
	"github.com/shehryarbajwa/newtab-sections/internal/poller"
	"github.com/shehryarbajwa/newtab-sections/internal/ratelimit"
	"github.com/shehryarbajwa/newtab-sections/internal/registry"
	"github.com/shehryarbajwa/newtab-sections/internal/stream"
	"github.com/shehryarbajwa/newtab-sections/internal/topstories"
	"github.com/shehryarbajwa/newtab-sections/pkg/models"
)

const clientIdleTimeout = 2 * time.Hour

func main() {
	// Load .env file
	envErr := godotenv.Load()

	defaultConfig := os.Getenv("NEWTAB_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "config.toml"
	}
	configPath := flag.String("config", defaultConfig, "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "newtab: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Dir:    cfg.Log.Dir,
	})
	defer logging.Close()

	logger := logging.Logger()
	if envErr != nil {
		logger.Debug("no .env file found, using system environment variables")
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server_exited", slog.String("error", err.Error()))
		logging.Close()
		os.Exit(1)
	}
	logger.Info("server_stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	reg := registry.NewManager()

	manifest, watch, err := loadManifest(cfg.Extension)
	if err != nil {
		return err
	}
	ext, err := extension.New(cfg.Extension.ID, manifest)
	if err != nil {
		return err
	}
	logger.Info("extension_loaded",
		slog.String("id", ext.ID),
		slog.String("base_url", ext.BaseURL),
		slog.Int("overrides", len(ext.Overrides())))

	section := bridge.New(reg, ext)

	feed := topstories.NewClient(cfg.Feed.APIKey,
		topstories.WithEndpoint(cfg.Feed.Endpoint),
		topstories.WithLimit(cfg.Feed.Limit),
		topstories.WithMaxImageWidth(cfg.Feed.MaxImageWidth),
		topstories.WithRateLimit(cfg.Feed.RequestsPerMinute),
	)
	if cfg.Feed.APIKey == "" {
		logger.Warn("feed_api_key_missing", slog.String("hint", "set NYT_API_KEY"))
	}

	cardPoller := poller.New(section, feed, poller.WithInterval(cfg.Feed.UpdateInterval.Duration))
	cardPoller.Start()
	section.Enable()

	rateLimiter := ratelimit.NewLimiter(cfg.RateLimit.RequestsPerHour, cfg.RateLimit.Burst)
	router := api.NewHandler(reg).SetupRoutes(stream.NewServer(reg), rateLimiter)

	srv := &http.Server{
		Addr:        cfg.Server.ListenAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server_starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return reg.RunTicker(gctx, cfg.Server.TickInterval.Duration)
	})

	if watch {
		g.Go(func() error {
			return extension.Watch(gctx, cfg.Extension.ManifestPath, section.ApplyOverrides)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := rateLimiter.Prune(clientIdleTimeout); n > 0 {
					logger.Debug("rate_limit_clients_pruned", slog.Int("count", n))
				}
			}
		}
	})

	reg.Init()
	// First tick right away so the section has cards before the ticker fires.
	reg.Dispatch(models.ActionSystemTick, time.Now().UnixMilli())

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting_down")

		reg.Uninit()
		cardPoller.Stop()
		section.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// loadManifest reads the extension manifest. A missing manifest leaves every
// option at its default and disables watching.
func loadManifest(cfg config.ExtensionConfig) (*extension.Manifest, bool, error) {
	if cfg.ManifestPath == "" {
		return &extension.Manifest{Name: cfg.ID, Section: extension.Overrides{}}, false, nil
	}
	m, err := extension.LoadManifest(cfg.ManifestPath)
	if errors.Is(err, fs.ErrNotExist) {
		logging.Logger().Warn("manifest_missing", slog.String("path", cfg.ManifestPath))
		return &extension.Manifest{Name: cfg.ID, Section: extension.Overrides{}}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return m, cfg.WatchManifest, nil
}
