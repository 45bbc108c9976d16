package firewall

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/algorand-firewall-service/internal/config"
	"github.com/algorand-firewall-service/internal/model"
	"github.com/algorand-firewall-service/internal/store"
)

const bucketNS = "bucket:"

// RateLimiter is a token bucket over the shared store, so every replica
// draws from the same allowance. Limits come from the caller's tier and
// shrink as the key's threat score grows.
type RateLimiter struct {
	kv    store.KV
	sec   config.SecurityConfig
	clock clock
}

func NewRateLimiter(kv store.KV, sec config.SecurityConfig) *RateLimiter {
	return &RateLimiter{kv: kv, sec: sec, clock: timeNowClock{}}
}

// effectiveLimits shrinks the tier limits as the threat score approaches 10.
// A score of 10 leaves a tenth of the allowance; nothing ever reaches zero.
func effectiveLimits(limits model.TierLimits, threatScore float64) (model.TierLimits, bool) {
	if threatScore <= 0 {
		return limits, false
	}
	scale := 1 - threatScore/10
	if scale < 0.1 {
		scale = 0.1
	}
	scaled := model.TierLimits{
		RequestsPerMinute: scaleFloor(limits.RequestsPerMinute, scale),
		RequestsPerHour:   scaleFloor(limits.RequestsPerHour, scale),
		BurstCapacity:     scaleFloor(limits.BurstCapacity, scale),
	}
	return scaled, true
}

func scaleFloor(limit int, scale float64) int {
	scaled := int(float64(limit) * scale)
	if scaled < 1 {
		return 1
	}
	return scaled
}

// Check refills and draws from the bucket for one identifier. Store failures
// never propagate; the configured policy decides whether the request passes.
func (l *RateLimiter) Check(ctx context.Context, limitType model.LimitType, identifier, endpoint string, tier model.Tier, threatScore float64) *model.RateDecision {
	limits, adjusted := effectiveLimits(model.LimitsForTier(tier), threatScore)
	now := l.clock.Now()

	key := bucketNS + string(limitType) + ":" + identifier
	if endpoint != "" {
		key += ":" + endpoint
	}

	fields, err := l.kv.HGetAll(ctx, key)
	if err != nil {
		log.Error().Err(err).Str("bucket", key).Msg("rate limiter store read failed")
		return l.failDecision(limits, adjusted, now)
	}
	tokens := refillTokens(fields, limits, now)

	action := model.ActionAllow
	switch {
	case tokens >= 1:
		tokens--
	case tokens > 0.1:
		action = model.ActionThrottle
	default:
		action = model.ActionBlock
	}

	err = l.kv.HSet(ctx, key, map[string]string{
		"tokens":       strconv.FormatFloat(tokens, 'f', -1, 64),
		"last_refill":  strconv.FormatInt(now.UnixNano(), 10),
		"last_request": strconv.FormatInt(now.UnixNano(), 10),
	}, l.sec.BucketTTL)
	if err != nil {
		log.Error().Err(err).Str("bucket", key).Msg("rate limiter store write failed")
		return l.failDecision(limits, adjusted, now)
	}

	decision := &model.RateDecision{
		Action:         action,
		Limit:          limits.RequestsPerMinute,
		Remaining:      int(tokens),
		ResetAt:        resetAt(now, tokens, limits),
		ThreatAdjusted: adjusted,
	}
	if action != model.ActionAllow {
		decision.RetryAfter = retryAfter(tokens, limits.RequestsPerMinute)
	}
	return decision
}

// Status reports the bucket's current fill without drawing a token. An
// uninitialized bucket reads as full.
func (l *RateLimiter) Status(ctx context.Context, limitType model.LimitType, identifier, endpoint string, tier model.Tier, threatScore float64) (*model.RateDecision, error) {
	limits, adjusted := effectiveLimits(model.LimitsForTier(tier), threatScore)
	now := l.clock.Now()

	key := bucketNS + string(limitType) + ":" + identifier
	if endpoint != "" {
		key += ":" + endpoint
	}

	fields, err := l.kv.HGetAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read bucket %s: %w", key, err)
	}
	tokens := refillTokens(fields, limits, now)

	return &model.RateDecision{
		Action:         model.ActionAllow,
		Limit:          limits.RequestsPerMinute,
		Remaining:      int(tokens),
		ResetAt:        resetAt(now, tokens, limits),
		ThreatAdjusted: adjusted,
	}, nil
}

// refillTokens applies the elapsed-time refill to the stored bucket fields.
// Unreadable fields reset the bucket to full rather than guessing.
func refillTokens(fields map[string]string, limits model.TierLimits, now time.Time) float64 {
	full := float64(limits.BurstCapacity)
	raw, ok := fields["tokens"]
	if !ok {
		return full
	}
	stored, perr := strconv.ParseFloat(raw, 64)
	lastRefill, terr := strconv.ParseInt(fields["last_refill"], 10, 64)
	if perr != nil || terr != nil {
		return full
	}
	elapsed := now.Sub(time.Unix(0, lastRefill)).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	tokens := stored + elapsed*float64(limits.RequestsPerMinute)/60
	if tokens > full {
		tokens = full
	}
	return tokens
}

// retryAfter is the wait until the bucket regains a whole token, never less
// than a second.
func retryAfter(tokens float64, rpm int) time.Duration {
	secs := (1 - tokens) * 60 / float64(rpm)
	d := time.Duration(math.Ceil(secs)) * time.Second
	if d < time.Second {
		d = time.Second
	}
	return d
}

// resetAt estimates when the bucket is full again.
func resetAt(now time.Time, tokens float64, limits model.TierLimits) time.Time {
	if tokens >= float64(limits.BurstCapacity) {
		return now.Add(time.Minute)
	}
	rps := float64(limits.RequestsPerMinute) / 60
	secs := (float64(limits.BurstCapacity) - tokens) / rps
	return now.Add(time.Duration(secs * float64(time.Second)))
}

func (l *RateLimiter) failDecision(limits model.TierLimits, adjusted bool, now time.Time) *model.RateDecision {
	if l.sec.LimiterOnStoreError == config.PolicyDeny {
		return &model.RateDecision{
			Action:         model.ActionBlock,
			Limit:          limits.RequestsPerMinute,
			Remaining:      0,
			ResetAt:        now.Add(time.Minute),
			RetryAfter:     time.Second,
			ThreatAdjusted: adjusted,
		}
	}
	return &model.RateDecision{
		Action:         model.ActionAllow,
		Limit:          limits.RequestsPerMinute,
		Remaining:      limits.BurstCapacity,
		ResetAt:        now.Add(time.Minute),
		ThreatAdjusted: adjusted,
	}
}
