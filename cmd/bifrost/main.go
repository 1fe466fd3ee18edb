package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bifrost-gw/bifrost/internal/auth"
	cfg "github.com/bifrost-gw/bifrost/internal/config"
	"github.com/bifrost-gw/bifrost/internal/gateway"
	"github.com/bifrost-gw/bifrost/internal/health"
	"github.com/bifrost-gw/bifrost/internal/metrics"
	"github.com/bifrost-gw/bifrost/internal/proxy"
	"github.com/bifrost-gw/bifrost/internal/ratelimit"
	"github.com/bifrost-gw/bifrost/internal/registry"
	"github.com/bifrost-gw/bifrost/internal/store"
	"github.com/bifrost-gw/bifrost/internal/version"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to YAML config")
	flag.Parse()

	c, err := cfg.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(c.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting bifrost gateway", "version", version.Value, "listen", c.Listen)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, c, logger)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	reg := registry.New(c.HealthProbeTimeout, logger)
	defer reg.Cleanup()
	if err := reg.Reload(ctx, st); err != nil {
		// Serve with an empty registry rather than crash; a later reload or
		// admin create can still populate it.
		logger.Error("initial registry load failed", "error", err)
	}

	m := metrics.New()

	checker := health.New(reg, st, health.Options{
		Interval:       c.HealthInterval,
		ProbeTimeout:   c.HealthProbeTimeout,
		MaxConcurrency: c.HealthConcurrency,
		Observer:       m.SetServiceHealth,
	}, logger)
	go checker.Run(ctx)

	limiter := ratelimit.NewFixedWindow(c.RateLimitPerMinute)
	limiter.StartJanitor(ctx, 2*time.Minute)

	var stats *ratelimit.RedisStats
	if c.RedisURL != "" {
		opt, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		stats = ratelimit.NewRedisStats(redis.NewClient(opt))
		logger.Info("rate limit stats enabled", "redis", opt.Addr)
	}

	fwd := proxy.NewForwarder(reg, proxy.DefaultOptions(), logger)
	defer fwd.CloseIdle()

	gw := gateway.New(gateway.Options{
		Name:           c.Name,
		Registry:       reg,
		Store:          st,
		Forwarder:      fwd,
		Checker:        checker,
		Limiter:        limiter,
		ServiceLimiter: ratelimit.NewServiceLimiter(),
		Stats:          stats,
		KeyFn:          ratelimit.DefaultKeyFunc(c.RateLimitKeyHeader, c.TrustForwardedFor),
		Verifier:       newVerifier(c, logger),
		AdminRole:      c.AdminRole,
		Metrics:        m,
		Log:            logger,
	})
	go gw.RunReloader(ctx)

	srv := &http.Server{
		Addr:              c.Listen,
		Handler:           gw,
		ReadTimeout:       c.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      c.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// openStore picks the persistence backend: Postgres when configured, a YAML
// bootstrap file next, then a bare in-memory store for development.
func openStore(ctx context.Context, c *cfg.Config, logger *slog.Logger) (store.Store, error) {
	if c.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Init(ctx); err != nil {
			return nil, err
		}
		logger.Info("using postgres service store")
		return pg, nil
	}
	if c.ServicesFile != "" {
		f := store.NewFile(c.ServicesFile)
		if err := f.Init(ctx); err != nil {
			return nil, err
		}
		logger.Info("using file service store", "path", c.ServicesFile)
		return f, nil
	}
	logger.Warn("no database or services file configured; registry starts empty")
	return store.NewMemory(), nil
}

func newVerifier(c *cfg.Config, logger *slog.Logger) auth.Verifier {
	switch {
	case c.AuthServerURL != "":
		logger.Info("admin auth delegated to auth server", "url", c.AuthServerURL)
		return auth.NewRemoteVerifier(c.AuthServerURL)
	case c.AuthSecret != "":
		logger.Info("admin auth using local HS256 verification")
		return auth.NewLocalVerifier(c.AuthSecret)
	default:
		logger.Warn("admin endpoints are unauthenticated; set auth.server_url or auth.secret")
		return nil
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
