// Package ratelimit implements a fixed-window request limiter keyed by
// client IP, with an in-memory default and a Redis backend for multi-replica
// deployments.
package ratelimit

import (
	"context"
	"time"
)

// Limiter reports whether a request from key is allowed in the current
// window. Allow errors are advisory: callers should fail open.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Config struct {
	Window time.Duration
	Max    int
}
