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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/appmonitor/server/internal/alerts"
	"github.com/obsidianstack/appmonitor/server/internal/api"
	"github.com/obsidianstack/appmonitor/server/internal/auth"
	"github.com/obsidianstack/appmonitor/server/internal/collector"
	"github.com/obsidianstack/appmonitor/server/internal/config"
	"github.com/obsidianstack/appmonitor/server/internal/metrics"
	"github.com/obsidianstack/appmonitor/server/internal/monitor"
	"github.com/obsidianstack/appmonitor/server/internal/receiver"
	"github.com/obsidianstack/appmonitor/server/internal/scrape"
	"github.com/obsidianstack/appmonitor/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// dashboardFunc lets the hub be built before the service it reads from.
type dashboardFunc func() monitor.Dashboard

func (f dashboardFunc) DashboardData() monitor.Dashboard { return f() }

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file; a missing file runs with defaults")
	envFile := flag.String("env-file", ".env", "dotenv file with webhook URLs and API keys")
	flag.Parse()

	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := run(*configPath, *envFile, level); err != nil {
		slog.Error("appmonitor-server stopped", "err", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string, level *slog.LevelVar) error {
	slog.Info("appmonitor-server starting", "config", configPath)

	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	cfg, watchConfig, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level.Set(cfg.Log.SlogLevel())

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"webhooks", len(cfg.Notifications.Webhooks),
		"scrape_targets", len(cfg.Scrape.Targets),
		"collector", cfg.Collector.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	channels := make([]alerts.Channel, 0, len(cfg.Notifications.Webhooks))
	for _, wh := range cfg.Notifications.Webhooks {
		channels = append(channels, alerts.Channel{Name: wh.Name, Type: wh.Type, URL: wh.URL()})
	}
	dispatcher := alerts.NewDispatcher(channels, cfg.Notifications.Timeout, slog.Default(), m)

	var svc *monitor.Service
	hub := ws.New(dashboardFunc(func() monitor.Dashboard { return svc.DashboardData() }), cfg.Dashboard.BroadcastInterval)

	svc = monitor.New(monitor.Options{
		PerformanceCapacity: cfg.Limits.Performance,
		SecurityCapacity:    cfg.Limits.Security,
		UserMetricCapacity:  cfg.Limits.UserMetrics,
		MetricCapacity:      cfg.Limits.Metric,
		AlertCapacity:       cfg.Limits.Alerts,
		SampleRetention:     cfg.Retention.Samples,
		AlertRetention:      cfg.Retention.Alerts,
		Thresholds:          thresholdsOf(cfg),
		DashboardMetrics:    cfg.Dashboard.Metrics,
		Notifier:            alerts.Notifiers{dispatcher, hub},
		Metrics:             m,
	})
	registry.MustRegister(metrics.NewNamedCollector(svc))

	protect := auth.APIKey(cfg.Server.Auth.Mode, cfg.Server.Auth.EffectiveHeader(), cfg.Server.Auth.Key())
	limiter := receiver.NewLimiter(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst, cfg.Server.RateLimit.TrustForwardedFor)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/ingest/", protect(receiver.New(svc, limiter, m)))
	mux.Handle("/api/", protect(api.New(svc)))
	mux.Handle("/ws/stream", hub)
	mux.Handle("/metrics", metrics.Handler(registry))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("appmonitor-server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		svc.RunRetention(gctx, cfg.Retention.SweepInterval)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if len(cfg.Scrape.Targets) > 0 {
		scraper := scrape.New(cfg.Scrape.Targets, svc, nil)
		g.Go(func() error {
			scraper.Run(gctx, cfg.Scrape.Interval)
			return nil
		})
	}
	if cfg.Collector.Enabled {
		host := collector.New(svc)
		g.Go(func() error {
			host.Run(gctx, cfg.Collector.Interval)
			return nil
		})
	}
	if watchConfig {
		g.Go(func() error {
			// Only thresholds and log level are live; everything else needs a restart.
			err := config.Watch(gctx, configPath, func(next *config.Config) {
				level.Set(next.Log.SlogLevel())
				svc.ApplyThresholds(thresholdsOf(next))
				slog.Info("config reloaded", "log_level", next.Log.SlogLevel().String())
			})
			if err != nil {
				slog.Warn("config hot reload disabled", "err", err)
			}
			return nil
		})
	}

	err = g.Wait()
	dispatcher.Wait()
	return err
}

// loadConfig reads path, falling back to defaults when the file does not
// exist. The second result reports whether the file should be watched.
func loadConfig(path string) (*config.Config, bool, error) {
	if path == "" {
		return config.Default(), false, nil
	}
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func thresholdsOf(cfg *config.Config) monitor.Thresholds {
	return monitor.Thresholds{
		SlowResponseMs:     cfg.Thresholds.SlowResponseMs,
		DegradedResponseMs: cfg.Thresholds.DegradedResponseMs,
		UnhealthyErrorRate: cfg.Thresholds.UnhealthyErrorRate,
	}
}
