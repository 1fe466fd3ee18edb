// Package gateway wires the rate limiter, registry, forwarder and health
// checker into the request pipeline.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bifrost-gw/bifrost/internal/auth"
	"github.com/bifrost-gw/bifrost/internal/health"
	"github.com/bifrost-gw/bifrost/internal/metrics"
	"github.com/bifrost-gw/bifrost/internal/proxy"
	"github.com/bifrost-gw/bifrost/internal/ratelimit"
	"github.com/bifrost-gw/bifrost/internal/registry"
	"github.com/bifrost-gw/bifrost/internal/store"
)

// Options collects the collaborators the gateway composes. Registry, Store
// and Forwarder are required; everything else degrades gracefully when nil.
type Options struct {
	Name string // reported by GET /health

	Registry  *registry.Registry
	Store     store.Store
	Forwarder *proxy.Forwarder
	Checker   *health.Checker

	Limiter        *ratelimit.FixedWindow
	ServiceLimiter *ratelimit.ServiceLimiter
	Stats          ratelimit.Recorder
	KeyFn          ratelimit.KeyFunc

	Verifier  auth.Verifier
	AdminRole string

	Metrics *metrics.Registry
	Log     *slog.Logger
}

// Gateway is the HTTP entry point. Request pipeline for proxied traffic:
// rate limit -> path parse -> registry lookup -> forward.
type Gateway struct {
	name string

	reg     *registry.Registry
	st      store.Store
	fwd     *proxy.Forwarder
	checker *health.Checker

	limiter    *ratelimit.FixedWindow
	svcLimiter *ratelimit.ServiceLimiter
	stats      ratelimit.Recorder
	keyFn      ratelimit.KeyFunc

	metrics *metrics.Registry
	log     *slog.Logger

	mux *http.ServeMux

	reloadCh chan struct{}
	// onReload, when set, observes every completed async reload. Test hook.
	onReload func(error)
}

func New(opts Options) *Gateway {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.KeyFn == nil {
		opts.KeyFn = ratelimit.DefaultKeyFunc("", false)
	}
	if opts.Name == "" {
		opts.Name = "bifrost"
	}
	g := &Gateway{
		name:       opts.Name,
		reg:        opts.Registry,
		st:         opts.Store,
		fwd:        opts.Forwarder,
		checker:    opts.Checker,
		limiter:    opts.Limiter,
		svcLimiter: opts.ServiceLimiter,
		stats:      opts.Stats,
		keyFn:      opts.KeyFn,
		metrics:    opts.Metrics,
		log:        opts.Log,
		mux:        http.NewServeMux(),
		reloadCh:   make(chan struct{}, 8),
	}
	g.routes(opts.Verifier, opts.AdminRole)
	return g
}

func (g *Gateway) routes(verifier auth.Verifier, adminRole string) {
	g.mux.HandleFunc("GET /health", g.handleHealth)
	if g.metrics != nil {
		g.mux.Handle("GET /metrics", g.metrics.Handler())
	}

	g.mux.HandleFunc("GET /api/v1/services", g.handleListServices)
	g.mux.HandleFunc("GET /api/v1/services/{name}/health", g.handleServiceHealth)

	admin := http.NewServeMux()
	admin.HandleFunc("GET /api/v1/admin/services", g.handleAdminList)
	admin.HandleFunc("POST /api/v1/admin/services", g.handleAdminCreate)
	admin.HandleFunc("GET /api/v1/admin/services/stats", g.handleAdminStats)
	admin.HandleFunc("GET /api/v1/admin/services/{id}", g.handleAdminGet)
	admin.HandleFunc("PUT /api/v1/admin/services/{id}", g.handleAdminUpdate)
	admin.HandleFunc("DELETE /api/v1/admin/services/{id}", g.handleAdminDelete)
	admin.HandleFunc("POST /api/v1/admin/reload", g.handleAdminReload)

	var adminHandler http.Handler = admin
	if verifier != nil {
		adminHandler = auth.RequireRole(verifier, adminRole, writeDetail)(admin)
	}
	g.mux.Handle("/api/v1/admin/", adminHandler)

	// Catch-all proxy route; the literal routes above win on specificity.
	g.mux.HandleFunc("/api/v1/{service}/{rest...}", g.handleProxy)
}

var _ http.Handler = (*Gateway)(nil)

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

// handleHealth reports gateway liveness only; it does not reflect backend
// health.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": g.name,
	})
}

func (g *Gateway) handleListServices(w http.ResponseWriter, _ *http.Request) {
	defs := g.reg.List()
	byName := make(map[string]any, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"services": byName,
		"count":    len(byName),
	})
}

func (g *Gateway) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if g.checker == nil {
		writeDetail(w, http.StatusServiceUnavailable, "health checker not running")
		return
	}
	status, ok := g.checker.CheckOne(r.Context(), name)
	if !ok {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Service '%s' not found", name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": name,
		"healthy": status == "healthy",
		"status":  status,
	})
}

func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	svcName := r.PathValue("service")
	rest := "/" + r.PathValue("rest")

	key := g.keyFn(r)
	if g.limiter != nil && !g.limiter.Allow(key) {
		g.recordStats(r, key, false)
		g.log.Warn("rate limit exceeded", "client", key, "method", r.Method, "path", r.URL.Path)
		if g.metrics != nil {
			g.metrics.RateLimitedTotal.WithLabelValues("client").Inc()
			g.metrics.ObserveRequest(r.Method, svcName, "429", time.Since(start))
		}
		writeDetail(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	// One registry read serves both the per-service limiter and forwarding.
	def := g.reg.Get(svcName)

	if def != nil && g.svcLimiter != nil && !g.svcLimiter.Allow(def.Name, def.RateLimitPerMinute) {
		g.recordStats(r, key, false)
		if g.metrics != nil {
			g.metrics.RateLimitedTotal.WithLabelValues("service").Inc()
			g.metrics.ObserveRequest(r.Method, svcName, "429", time.Since(start))
		}
		writeDetail(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}
	g.recordStats(r, key, true)

	var status int
	if def == nil || !def.IsActive {
		status = g.writeForwardError(w, svcName, proxy.ErrServiceNotFound)
	} else {
		res, err := g.fwd.ForwardTo(w, r, def, rest)
		status = res.Status
		if err != nil {
			status = g.writeForwardError(w, svcName, err)
		}
	}
	if g.metrics != nil {
		g.metrics.ObserveRequest(r.Method, svcName, strconv.Itoa(status), time.Since(start))
	}
}

// writeForwardError maps forwarder failures onto the external error contract
// and returns the status it wrote.
func (g *Gateway) writeForwardError(w http.ResponseWriter, svcName string, err error) int {
	switch {
	case errors.Is(err, proxy.ErrServiceNotFound):
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Service '%s' not found", svcName))
		return http.StatusNotFound
	case errors.Is(err, proxy.ErrBackendTimeout):
		g.log.Error("backend timeout", "service", svcName, "error", err)
		writeDetail(w, http.StatusGatewayTimeout, "Internal server error")
		return http.StatusGatewayTimeout
	default:
		g.log.Error("backend unavailable", "service", svcName, "error", err)
		writeDetail(w, http.StatusBadGateway, "Internal server error")
		return http.StatusBadGateway
	}
}

func (g *Gateway) recordStats(r *http.Request, key string, allowed bool) {
	if g.stats == nil {
		return
	}
	if err := g.stats.Record(r.Context(), ratelimit.StatsEvent{
		Key:     key,
		Allowed: allowed,
		Method:  r.Method,
		Path:    r.URL.Path,
		At:      time.Now(),
	}); err != nil {
		g.log.Debug("rate limit stats record failed", "error", err)
	}
}

// TriggerReload schedules an asynchronous registry reload. It never blocks
// the caller; bursts coalesce in the channel buffer.
func (g *Gateway) TriggerReload() {
	select {
	case g.reloadCh <- struct{}{}:
	default:
	}
}

// RunReloader processes reload requests until ctx is done. Failures keep the
// last-good snapshot and are logged, never surfaced to in-flight requests.
func (g *Gateway) RunReloader(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.reloadCh:
			err := g.reg.Reload(ctx, g.st)
			if err != nil {
				g.log.Error("registry reload failed, keeping previous snapshot", "error", err)
			} else if g.checker != nil {
				g.checker.Trigger()
			}
			if g.onReload != nil {
				g.onReload(err)
			}
		}
	}
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
