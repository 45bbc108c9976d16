package firewall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/algorand-firewall-service/internal/config"
	"github.com/algorand-firewall-service/internal/model"
	"github.com/algorand-firewall-service/internal/store"
)

func newTestRateLimiter(t *testing.T) (*RateLimiter, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := NewRateLimiter(store.NewMemory(), testSecurityConfig())
	l.clock = clk
	return l, clk
}

func TestRateLimiterBurst(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestRateLimiter(t)

	// Free tier: burst capacity 10, 60 rpm.
	for i := 0; i < 10; i++ {
		d := l.Check(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 0)
		if d.Action != model.ActionAllow {
			t.Fatalf("request %d: expected allow, got %s", i+1, d.Action)
		}
		if d.Remaining != 10-i-1 {
			t.Fatalf("request %d: expected remaining %d, got %d", i+1, 10-i-1, d.Remaining)
		}
	}

	d := l.Check(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 0)
	if d.Action != model.ActionBlock {
		t.Fatalf("expected block once the burst is spent, got %s", d.Action)
	}
	if d.RetryAfter != time.Second {
		t.Fatalf("expected 1s retry at 60 rpm, got %v", d.RetryAfter)
	}
	if d.Limit != 60 {
		t.Fatalf("expected limit 60, got %d", d.Limit)
	}
}

func TestRateLimiterRefill(t *testing.T) {
	ctx := context.Background()
	l, clk := newTestRateLimiter(t)

	for i := 0; i < 10; i++ {
		l.Check(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 0)
	}

	t.Run("partial refill throttles", func(t *testing.T) {
		clk.advance(500 * time.Millisecond)
		d := l.Check(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 0)
		if d.Action != model.ActionThrottle {
			t.Fatalf("expected throttle at half a token, got %s", d.Action)
		}
		if d.RetryAfter < time.Second {
			t.Fatalf("retry must never undercut a second, got %v", d.RetryAfter)
		}
	})

	t.Run("full token allows", func(t *testing.T) {
		clk.advance(time.Second)
		d := l.Check(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 0)
		if d.Action != model.ActionAllow {
			t.Fatalf("expected allow after a full token refilled, got %s", d.Action)
		}
	})

	t.Run("steady stream yields the per-minute rate", func(t *testing.T) {
		l2, clk2 := newTestRateLimiter(t)
		for i := 0; i < 10; i++ {
			l2.Check(ctx, model.LimitPerKey, "hash-b", "", model.TierFree, 0)
		}

		allows := 0
		for i := 0; i < 240; i++ {
			clk2.advance(250 * time.Millisecond)
			d := l2.Check(ctx, model.LimitPerKey, "hash-b", "", model.TierFree, 0)
			if d.Action == model.ActionAllow {
				allows++
			}
		}
		if allows != 60 {
			t.Fatalf("expected 60 allows over a hammered minute, got %d", allows)
		}
	})

	t.Run("refill caps at burst capacity", func(t *testing.T) {
		clk.advance(time.Hour)
		for i := 0; i < 10; i++ {
			d := l.Check(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 0)
			if d.Action != model.ActionAllow {
				t.Fatalf("request %d: expected allow, got %s", i+1, d.Action)
			}
		}
		d := l.Check(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 0)
		if d.Action == model.ActionAllow {
			t.Fatal("an hour idle must not stack more than the burst capacity")
		}
	})
}

func TestRateLimiterThreatAdjustment(t *testing.T) {
	ctx := context.Background()

	t.Run("half score halves the limits", func(t *testing.T) {
		l, _ := newTestRateLimiter(t)
		d := l.Check(ctx, model.LimitPerKey, "hash-a", "", model.TierPro, 5)
		if !d.ThreatAdjusted {
			t.Fatal("expected the decision to be flagged as adjusted")
		}
		if d.Limit != 150 {
			t.Fatalf("expected pro 300 rpm to halve to 150, got %d", d.Limit)
		}
		// Scaled burst is 25; one token was just consumed.
		if d.Remaining != 24 {
			t.Fatalf("expected remaining 24, got %d", d.Remaining)
		}
	})

	t.Run("score ten leaves a tenth", func(t *testing.T) {
		l, _ := newTestRateLimiter(t)
		d := l.Check(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 10)
		if d.Limit != 6 {
			t.Fatalf("expected free 60 rpm cut to 6, got %d", d.Limit)
		}
		if d.Action != model.ActionAllow {
			t.Fatalf("first request should still pass, got %s", d.Action)
		}
		d = l.Check(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 10)
		if d.Action == model.ActionAllow {
			t.Fatal("scaled burst of 1 must deny the second request")
		}
	})

	t.Run("clean score is untouched", func(t *testing.T) {
		l, _ := newTestRateLimiter(t)
		d := l.Check(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 0)
		if d.ThreatAdjusted {
			t.Fatal("zero score must not flag an adjustment")
		}
	})
}

func TestRateLimiterScopes(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestRateLimiter(t)

	for i := 0; i < 10; i++ {
		l.Check(ctx, model.LimitPerKey, "hash-a", "/v1/validate", model.TierFree, 0)
	}
	if d := l.Check(ctx, model.LimitPerKey, "hash-a", "/v1/validate", model.TierFree, 0); d.Action == model.ActionAllow {
		t.Fatal("scoped bucket should be spent")
	}

	// A different endpoint and a different identifier each get a fresh bucket.
	if d := l.Check(ctx, model.LimitPerKey, "hash-a", "/v1/threats", model.TierFree, 0); d.Action != model.ActionAllow {
		t.Fatalf("expected fresh endpoint bucket to allow, got %s", d.Action)
	}
	if d := l.Check(ctx, model.LimitPerKey, "hash-b", "/v1/validate", model.TierFree, 0); d.Action != model.ActionAllow {
		t.Fatalf("expected fresh identifier bucket to allow, got %s", d.Action)
	}
	if d := l.Check(ctx, model.LimitPerIP, "hash-a", "/v1/validate", model.TierFree, 0); d.Action != model.ActionAllow {
		t.Fatalf("expected fresh limit type bucket to allow, got %s", d.Action)
	}
}

func TestRateLimiterStatus(t *testing.T) {
	ctx := context.Background()
	l, clk := newTestRateLimiter(t)

	t.Run("unused bucket reads full", func(t *testing.T) {
		d, err := l.Status(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 0)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if d.Remaining != 10 {
			t.Fatalf("expected a full burst of 10, got %d", d.Remaining)
		}
	})

	t.Run("reading does not consume", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			l.Check(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 0)
		}
		for i := 0; i < 3; i++ {
			d, err := l.Status(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 0)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if d.Remaining != 6 {
				t.Fatalf("expected remaining 6, got %d", d.Remaining)
			}
		}
	})

	t.Run("status sees the refill", func(t *testing.T) {
		clk.advance(2 * time.Second)
		d, err := l.Status(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 0)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if d.Remaining != 8 {
			t.Fatalf("expected remaining 8 after two tokens refilled, got %d", d.Remaining)
		}
	})

	t.Run("store error surfaces", func(t *testing.T) {
		broken := NewRateLimiter(failingKV{}, testSecurityConfig())
		if _, err := broken.Status(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 0); err == nil {
			t.Fatal("expected a store error")
		}
	})
}

var errStoreDown = errors.New("store down")

// failingKV fails every operation the hot-path components use.
type failingKV struct {
	store.KV
}

func (failingKV) Get(ctx context.Context, key string) (string, error) {
	return "", errStoreDown
}

func (failingKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return errStoreDown
}

func (failingKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return false, errStoreDown
}

func (failingKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return errStoreDown
}

func (failingKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errStoreDown
}

func (failingKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return nil, errStoreDown
}

func (failingKV) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	return errStoreDown
}

func (failingKV) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return 0, errStoreDown
}

func (failingKV) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return false, errStoreDown
}

func (failingKV) SMembers(ctx context.Context, key string) ([]string, error) {
	return nil, errStoreDown
}

func (failingKV) LPush(ctx context.Context, key string, values ...string) error {
	return errStoreDown
}

func (failingKV) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return nil, errStoreDown
}

func (failingKV) LTrim(ctx context.Context, key string, start, stop int64) error {
	return errStoreDown
}

func TestRateLimiterFailurePolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("fails open by default", func(t *testing.T) {
		l := NewRateLimiter(failingKV{}, testSecurityConfig())
		d := l.Check(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 0)
		if d.Action != model.ActionAllow {
			t.Fatalf("expected allow under the default policy, got %s", d.Action)
		}
	})

	t.Run("deny policy blocks", func(t *testing.T) {
		sec := testSecurityConfig()
		sec.LimiterOnStoreError = config.PolicyDeny
		l := NewRateLimiter(failingKV{}, sec)
		d := l.Check(ctx, model.LimitPerKey, "hash-a", "", model.TierFree, 0)
		if d.Action != model.ActionBlock {
			t.Fatalf("expected block under the deny policy, got %s", d.Action)
		}
		if d.RetryAfter < time.Second {
			t.Fatalf("blocked decisions need a retry hint, got %v", d.RetryAfter)
		}
	})
}
