package ratelimit

import "context"

// RateLimiter throttles outbound sends per channel so a burst of queued
// tasks cannot overrun a provider quota.
//
// Allow reports whether a send may proceed right now. Wait blocks until a
// slot frees up or the context is cancelled; dispatch workers use Wait so a
// throttled task holds its delivery instead of failing it.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}
