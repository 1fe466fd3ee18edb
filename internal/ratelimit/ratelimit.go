// Package ratelimit decides, per client identity, whether a request may
// proceed.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// window is one fixed-window counter for a client identity.
type window struct {
	start    int64 // epoch seconds floored to the minute boundary
	count    int
	lastSeen time.Time
}

// FixedWindow counts requests per identity in clock-aligned one-minute
// windows. The counter increments even for rejected requests, so a retry
// storm cannot evade the limit by burning the window down. Up to 2x the limit
// can pass across a window boundary; that burst is inherent to the windowing
// discipline and callers should size limits accordingly.
type FixedWindow struct {
	mu      sync.Mutex
	entries map[string]*window
	limit   int

	idleTTL time.Duration
	now     func() time.Time // injectable clock
}

const windowSize = 60 // seconds

func NewFixedWindow(limit int) *FixedWindow {
	if limit <= 0 {
		limit = 60
	}
	return &FixedWindow{
		entries: make(map[string]*window),
		limit:   limit,
		idleTTL: 15 * time.Minute,
		now:     time.Now,
	}
}

// Allow records one request for key and reports whether it is within the
// limit. The count+window update is a single exclusive operation so two
// concurrent requests can never both observe "under limit" when only one
// slot remains.
func (f *FixedWindow) Allow(key string) bool {
	now := f.now()
	cur := now.Unix() / windowSize * windowSize

	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.entries[key]
	if !ok || w.start != cur {
		w = &window{start: cur}
		f.entries[key] = w
	}
	w.count++
	w.lastSeen = now
	return w.count <= f.limit
}

// Limit returns the configured requests-per-minute cap.
func (f *FixedWindow) Limit() int { return f.limit }

// Cleanup drops identities not seen within the idle TTL. Eviction is not
// needed for correctness; it only bounds memory.
func (f *FixedWindow) Cleanup() {
	cutoff := f.now().Add(-f.idleTTL)
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, w := range f.entries {
		if w.lastSeen.Before(cutoff) {
			delete(f.entries, k)
		}
	}
}

// DoneContext is the minimum the janitor needs from a context.Context.
type DoneContext interface {
	Done() <-chan struct{}
}

// StartJanitor evicts stale identities periodically until ctx is done.
func (f *FixedWindow) StartJanitor(ctx DoneContext, every time.Duration) {
	if every <= 0 {
		every = 2 * time.Minute
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				f.Cleanup()
			}
		}
	}()
}

// KeyFunc extracts the client identity a limit is keyed on.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc prefers an explicit identity header, then the first
// X-Forwarded-For hop when trusted, then the remote address.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}
		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
					return ip
				}
			}
		}
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}
