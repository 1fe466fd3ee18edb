// Package health probes registered backends out-of-band and records the
// results in the registry and the persistence collaborator.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bifrost-gw/bifrost/internal/registry"
	"github.com/bifrost-gw/bifrost/internal/service"
	"github.com/bifrost-gw/bifrost/internal/store"
)

// Checker sweeps all active services on a timer or on demand. Probes run
// independently per service behind a concurrency bound; one slow or failing
// backend never delays the others.
type Checker struct {
	reg      *registry.Registry
	st       store.Store
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	maxProbe int

	trigger  chan struct{}
	observer func(string, service.HealthStatus)
	log      *slog.Logger

	// swept, when set, receives after every completed sweep. Test hook.
	swept chan struct{}
}

type Options struct {
	Interval       time.Duration // sweep period, default 30s
	ProbeTimeout   time.Duration // per-probe ceiling, default 5s
	MaxConcurrency int           // simultaneous probes, default 8

	// Observer, when set, is called with every probe outcome. Used to mirror
	// results into metrics.
	Observer func(name string, status service.HealthStatus)
}

func New(reg *registry.Registry, st store.Store, opts Options, log *slog.Logger) *Checker {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 8
	}
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		reg:      reg,
		st:       st,
		client:   reg.ProbeClient(),
		interval: opts.Interval,
		timeout:  opts.ProbeTimeout,
		maxProbe: opts.MaxConcurrency,
		trigger:  make(chan struct{}, 1),
		observer: opts.Observer,
		log:      log,
	}
}

// Run blocks until ctx is done, sweeping every interval and whenever
// Trigger fires.
func (c *Checker) Run(ctx context.Context) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-c.trigger:
		}
		c.Sweep(ctx)
		if c.swept != nil {
			select {
			case c.swept <- struct{}{}:
			default:
			}
		}
	}
}

// Trigger requests an immediate sweep. Coalesces if one is already pending.
func (c *Checker) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Sweep probes every active service once and records the outcomes.
func (c *Checker) Sweep(ctx context.Context) {
	defs := c.reg.List()
	sem := make(chan struct{}, c.maxProbe)
	var wg sync.WaitGroup
	for _, d := range defs {
		if !d.IsActive {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(d *service.Definition) {
			defer wg.Done()
			defer func() { <-sem }()
			c.checkOne(ctx, d)
		}(d)
	}
	wg.Wait()
}

// CheckOne probes the named service immediately and returns the resulting
// status. Unknown names return StatusUnknown and false.
func (c *Checker) CheckOne(ctx context.Context, name string) (service.HealthStatus, bool) {
	d := c.reg.Get(name)
	if d == nil {
		return service.StatusUnknown, false
	}
	return c.checkOne(ctx, d), true
}

// checkOne never returns an error: every failure mode collapses to an
// unhealthy status. LastHealthCheck advances regardless of outcome.
func (c *Checker) checkOne(ctx context.Context, d *service.Definition) service.HealthStatus {
	status := c.probe(ctx, d)
	now := time.Now()

	c.reg.SetHealth(d.Name, status, now)
	if c.observer != nil {
		c.observer(d.Name, status)
	}

	if d.ID != "" {
		if err := c.st.UpdateHealth(ctx, d.ID, status, now); err != nil {
			// Persistence failure is logged, not fatal, and does not roll
			// back the in-memory status.
			c.log.Warn("persist health status failed",
				"service", d.Name, "status", status, "error", err)
		}
	}
	return status
}

func (c *Checker) probe(ctx context.Context, d *service.Definition) service.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.HealthURL(), nil)
	if err != nil {
		c.log.Warn("health probe request build failed", "service", d.Name, "error", err)
		return service.StatusUnhealthy
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Debug("health probe failed", "service", d.Name, "url", d.HealthURL(), "error", err)
		return service.StatusUnhealthy
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return service.StatusHealthy
	}
	c.log.Debug("health probe returned non-2xx",
		"service", d.Name, "status_code", resp.StatusCode)
	return service.StatusUnhealthy
}
