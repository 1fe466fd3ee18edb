package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Recorder consumes limiter decisions, one event per proxied request.
type Recorder interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// StatsEvent is one limiter decision worth recording.
type StatsEvent struct {
	Key     string
	Allowed bool
	Method  string
	Path    string
	At      time.Time
}

// RedisStats accumulates allowed/denied counters in Redis: a cumulative
// total, per-minute buckets, and per-route hashes. A nil receiver or client
// is a no-op, so wiring stays optional. Recording failures never influence
// the limiter decision.
type RedisStats struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Recorder = (*RedisStats)(nil)

func NewRedisStats(rdb *redis.Client) *RedisStats {
	return &RedisStats{
		rdb:    rdb,
		prefix: "bifrost:ratelimit",
		ttl:    24 * time.Hour,
	}
}

func (s *RedisStats) Record(ctx context.Context, ev StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	_, err := pipe.Exec(ctx)
	return err
}
