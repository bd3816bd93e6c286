package center

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// redeemOnce runs the shared single-use redemption sequence: load the token,
// reject if already used or past expiry, then conditionally mark it used.
// Authorization codes and setup codes share this shape; keeping it in one
// place keeps the race-sensitive part from being duplicated.
//
// find returns the payload together with the token's expiry and used-at mark.
// mark must be an atomic conditional update that succeeds only when the token
// is still unused; a false return means a concurrent redemption won.
func redeemOnce[T any](
	ctx context.Context,
	now time.Time,
	find func(context.Context) (T, time.Time, *time.Time, error),
	mark func(context.Context) (bool, error),
) (T, error) {
	var zero T

	payload, expiresAt, usedAt, err := find(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return zero, fmt.Errorf("%w: invalid or expired code", ErrNotFound)
		}
		return zero, err
	}
	if usedAt != nil {
		return zero, ErrCodeUsed
	}
	if now.After(expiresAt) {
		// Expired rows may linger until retention cleanup; they are rejected
		// here by wall-clock comparison regardless.
		return zero, ErrCodeExpired
	}

	ok, err := mark(ctx)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ErrCodeUsed
	}
	return payload, nil
}
