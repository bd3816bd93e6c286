package center

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RateLimitConfig is passed explicitly at each call site; different endpoints
// carry independent budgets.
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int64
}

// DefaultRateLimit is the budget applied to unauthenticated endpoints.
var DefaultRateLimit = RateLimitConfig{Window: time.Minute, MaxRequests: 20}

// RateLimitResult reports the outcome of a fixed-window check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration // zero when allowed
}

// Err converts a denial into its taxonomy error; nil when allowed.
func (r RateLimitResult) Err() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%w: retry after %s", ErrRateLimited, r.RetryAfter.Round(time.Second))
}

// CheckRateLimit counts a request against the fixed window for key.
// The underlying store increment is atomic with the window-expiry check, so
// two requests racing for the last slot cannot both be admitted.
func (s *Service) CheckRateLimit(ctx context.Context, key string, cfg RateLimitConfig) (RateLimitResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return RateLimitResult{}, fmt.Errorf("%w: rate limit key is required", ErrInvalidRequest)
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateLimit.Window
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultRateLimit.MaxRequests
	}

	now := s.now().UTC()
	count, resetAt, err := s.store.RateLimits().Hit(ctx, key, now, now.Add(cfg.Window))
	if err != nil {
		return RateLimitResult{}, err
	}
	if count > cfg.MaxRequests {
		retry := resetAt.Sub(now)
		if retry < 0 {
			retry = 0
		}
		return RateLimitResult{Allowed: false, Remaining: 0, ResetAt: resetAt, RetryAfter: retry}, nil
	}
	return RateLimitResult{Allowed: true, Remaining: cfg.MaxRequests - count, ResetAt: resetAt}, nil
}
