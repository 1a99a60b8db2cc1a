// Package ratelimit throttles token exchange and agent writes per caller.
//
// MemoryLimiter keeps a token bucket per key inside one process.
// RedisLimiter counts fixed windows in Redis so several instances behind a
// load balancer draw from one budget.
package ratelimit

import (
	"context"
	"fmt"
)

// Limiter reports whether the request identified by key may proceed. It
// must be safe for concurrent use. An error means the limiter itself
// failed, and Middleware lets the request through.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// NoopLimiter lets everything through.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }
func (NoopLimiter) Close() error                                { return nil }

// Options selects and sizes a limiter.
type Options struct {
	PerMinute int // zero disables limiting
	Burst     int
	RedisURL  string // shared counters when set
}

// New builds the limiter described by opts and names the backend for the
// startup log.
func New(opts Options) (Limiter, string, error) {
	switch {
	case opts.PerMinute <= 0:
		return NoopLimiter{}, "disabled", nil
	case opts.RedisURL != "":
		l, err := NewRedisLimiter(opts.RedisURL, opts.PerMinute)
		if err != nil {
			return nil, "", fmt.Errorf("ratelimit: %w", err)
		}
		return l, "redis", nil
	default:
		return PerMinute(opts.PerMinute, opts.Burst), "memory", nil
	}
}
