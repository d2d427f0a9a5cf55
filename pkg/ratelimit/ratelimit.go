package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Lock spaces out calls to an upstream service.
type Lock interface {
	Lock(ctx context.Context) func()
}

type lock struct {
	limiter *rate.Limiter
}

// New returns a lock that lets one call through every wait.
// A zero or negative wait disables the limit.
func New(wait time.Duration) Lock {
	limit := rate.Inf
	if wait > 0 {
		limit = rate.Every(wait)
	}
	return &lock{
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Lock blocks until the call is allowed or the context is done.
// The returned function is a no-op kept so call sites can defer it like a
// mutex unlock. The wait error is dropped, a done context fails the request
// that follows.
func (l *lock) Lock(ctx context.Context) func() {
	_ = l.limiter.Wait(ctx)
	return func() {}
}
