// Package proxy relays matched requests to backend services.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/bifrost-gw/bifrost/internal/registry"
	"github.com/bifrost-gw/bifrost/internal/service"
)

var (
	// ErrServiceNotFound means the routing target does not exist or is inactive.
	ErrServiceNotFound = errors.New("service not found")
	// ErrBackendUnavailable means the backend was unreachable or refused.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBackendTimeout means the backend exceeded its configured timeout.
	ErrBackendTimeout = errors.New("backend timeout")
)

// Options tunes the shared upstream transport pool.
type Options struct {
	DialTimeout         time.Duration
	DialKeepAlive       time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int // bounds in-flight connections per origin
	IdleConnTimeout     time.Duration
}

func DefaultOptions() Options {
	return Options{
		DialTimeout:         5 * time.Second,
		DialKeepAlive:       60 * time.Second,
		MaxIdleConns:        512,
		MaxIdleConnsPerHost: 128,
		MaxConnsPerHost:     256,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Result describes one forwarded exchange, for access logging and metrics.
type Result struct {
	Service  string
	Target   string
	Status   int
	Duration time.Duration
}

// Forwarder resolves a service name against the registry and relays the
// request verbatim. It never retries; retry policy belongs to the caller.
type Forwarder struct {
	reg       *registry.Registry
	transport http.RoundTripper
	log       *slog.Logger
}

func NewForwarder(reg *registry.Registry, opts Options, log *slog.Logger) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	dialer := &net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: opts.DialKeepAlive,
	}
	return &Forwarder{
		reg: reg,
		transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			MaxIdleConns:        opts.MaxIdleConns,
			MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
			MaxConnsPerHost:     opts.MaxConnsPerHost,
			IdleConnTimeout:     opts.IdleConnTimeout,
		},
		log: log,
	}
}

// Forward relays r to the backend registered under serviceName, appending
// rest (which must begin with "/") to the backend base URL. The inbound query
// string is preserved unchanged. On success the backend status, headers and
// body are written to w; on failure nothing is written and the caller maps
// the returned error to a response.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, serviceName, rest string) (Result, error) {
	def := f.reg.Get(serviceName)
	if def == nil || !def.IsActive {
		return Result{Service: serviceName}, fmt.Errorf("%w: %q", ErrServiceNotFound, serviceName)
	}
	return f.ForwardTo(w, r, def, rest)
}

// ForwardTo relays to an already resolved definition, sparing callers that
// looked the service up for their own policy checks a second registry read.
func (f *Forwarder) ForwardTo(w http.ResponseWriter, r *http.Request, def *service.Definition, rest string) (Result, error) {
	res := Result{Service: def.Name}
	start := time.Now()

	base, err := url.Parse(def.BaseURL)
	if err != nil {
		return res, fmt.Errorf("%w: bad base url: %v", ErrBackendUnavailable, err)
	}
	target := *base
	target.Path = joinSlash(base.Path, rest)
	target.RawQuery = r.URL.RawQuery
	res.Target = target.String()

	ctx := r.Context()
	if t := def.Timeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	// Method and body pass through untouched; the body is streamed, never
	// re-encoded.
	reqUp, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	reqUp.ContentLength = r.ContentLength

	hdr := cloneHeader(r.Header)
	dropHopByHop(hdr)
	addXFF(hdr, r.RemoteAddr)
	setXFProto(hdr, r)
	setXFHost(hdr, r.Host)
	reqUp.Header = hdr
	// The inbound Host header is never copied: the backend must see its own
	// host, not the gateway's.
	reqUp.Host = base.Host

	resUp, err := f.transport.RoundTrip(reqUp)
	if err != nil {
		res.Duration = time.Since(start)
		return res, classify(err)
	}
	defer resUp.Body.Close()

	dropHopByHop(resUp.Header)
	copyHeaders(w.Header(), resUp.Header)
	w.WriteHeader(resUp.StatusCode)
	_, _ = io.Copy(w, resUp.Body)

	res.Status = resUp.StatusCode
	res.Duration = time.Since(start)

	f.log.Info("request forwarded",
		"method", r.Method,
		"path", r.URL.Path,
		"service", def.Name,
		"status", res.Status,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// CloseIdle releases pooled upstream connections.
func (f *Forwarder) CloseIdle() {
	if t, ok := f.transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// --- header helpers ---

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vv := range h {
		cc := make([]string, len(vv))
		copy(cc, vv)
		out[k] = cc
	}
	return out
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst.Del(k)
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func joinSlash(a, b string) string {
	as := strings.HasSuffix(a, "/")
	bs := strings.HasPrefix(b, "/")
	switch {
	case as && bs:
		return a + b[1:]
	case !as && !bs:
		return a + "/" + b
	default:
		return a + b
	}
}

var hopByHop = map[string]struct{}{
	"Connection":          {},
	"Proxy-Connection":    {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"TE":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func dropHopByHop(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, k := range strings.Split(f, ",") {
			k = textproto.TrimString(k)
			if k != "" {
				h.Del(k)
			}
		}
	}
	for k := range hopByHop {
		h.Del(k)
	}
}

func addXFF(h http.Header, remoteAddr string) {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || ip == "" {
		return
	}
	const key = "X-Forwarded-For"
	if prior := h.Get(key); prior != "" {
		h.Set(key, prior+", "+ip)
	} else {
		h.Set(key, ip)
	}
}

func setXFHost(h http.Header, host string) {
	h.Set("X-Forwarded-Host", host)
}

func setXFProto(h http.Header, r *http.Request) {
	if r.TLS != nil {
		h.Set("X-Forwarded-Proto", "https")
	} else {
		h.Set("X-Forwarded-Proto", "http")
	}
}
