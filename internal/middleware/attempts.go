package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/algorand-firewall-service/internal/store"
)

const (
	authFailNS  = "authfail:"
	authBlockNS = "authblock:"
)

// AuthAttemptLimiter blocks an identifier after repeated authentication
// failures. State lives in the shared store so a block placed by one
// instance holds across all of them.
type AuthAttemptLimiter struct {
	kv            store.KV
	maxFailures   int
	window        time.Duration
	blockDuration time.Duration
}

func NewAuthAttemptLimiter(kv store.KV, maxFailures int, window, blockDuration time.Duration) *AuthAttemptLimiter {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	if blockDuration <= 0 {
		blockDuration = 15 * time.Minute
	}

	return &AuthAttemptLimiter{
		kv:            kv,
		maxFailures:   maxFailures,
		window:        window,
		blockDuration: blockDuration,
	}
}

// allow reports whether the identifier is currently blocked. Store errors
// fail open: locking every operator out over a store hiccup is worse than
// letting one slip through.
func (l *AuthAttemptLimiter) allow(ctx context.Context, key string) bool {
	_, err := l.kv.Get(ctx, authBlockNS+key)
	if err == nil {
		return false
	}
	if !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).Msg("auth attempt check failed")
	}
	return true
}

func (l *AuthAttemptLimiter) registerFailure(ctx context.Context, key string) {
	n, err := l.kv.Incr(ctx, authFailNS+key, l.window)
	if err != nil {
		log.Error().Err(err).Msg("failed to count auth failure")
		return
	}
	if n < int64(l.maxFailures) {
		return
	}
	if err := l.kv.Set(ctx, authBlockNS+key, "1", l.blockDuration); err != nil {
		log.Error().Err(err).Msg("failed to place auth block")
		return
	}
	if err := l.kv.Del(ctx, authFailNS+key); err != nil {
		log.Error().Err(err).Msg("failed to reset auth failure count")
	}
}

func (l *AuthAttemptLimiter) registerSuccess(ctx context.Context, key string) {
	if err := l.kv.Del(ctx, authFailNS+key, authBlockNS+key); err != nil {
		log.Error().Err(err).Msg("failed to clear auth attempt state")
	}
}
