package ratelimit

import (
	"sync"

	ratelib "golang.org/x/time/rate"
)

// ServiceLimiter applies each backend's own rate_limit_per_minute cap after
// route matching, independent of the per-client fixed window. Token buckets
// smooth the per-service budget instead of resetting it at minute edges.
type ServiceLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*ratelib.Limiter
}

func NewServiceLimiter() *ServiceLimiter {
	return &ServiceLimiter{limiters: make(map[string]*ratelib.Limiter)}
}

// Allow reports whether the named service accepts another request under
// perMinute. A non-positive perMinute disables the cap. The limiter is
// re-tuned in place when the configured budget changes (e.g. after reload).
func (s *ServiceLimiter) Allow(name string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}
	rps := ratelib.Limit(float64(perMinute) / 60.0)
	burst := perMinute

	s.mu.RLock()
	lim, ok := s.limiters[name]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		lim, ok = s.limiters[name]
		if !ok {
			lim = ratelib.NewLimiter(rps, burst)
			s.limiters[name] = lim
		}
		s.mu.Unlock()
	}

	if lim.Limit() != rps {
		lim.SetLimit(rps)
	}
	if lim.Burst() != burst {
		lim.SetBurst(burst)
	}
	return lim.Allow()
}

// Remove drops the limiter for a deleted service.
func (s *ServiceLimiter) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.limiters, name)
}
