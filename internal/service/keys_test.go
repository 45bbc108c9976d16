package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/google/uuid"

	"github.com/algorand-firewall-service/internal/config"
	"github.com/algorand-firewall-service/internal/firewall"
	"github.com/algorand-firewall-service/internal/model"
	"github.com/algorand-firewall-service/internal/store"
)

// testSecurityConfig mirrors the env defaults for the engines the service
// layer drives. The DDoS guard runs in the middleware, not here, so its
// thresholds are left out.
func testSecurityConfig() config.SecurityConfig {
	return config.SecurityConfig{
		SuspendScore:          8.0,
		ScoreDecay:            0.8,
		LimiterOnStoreError:   config.PolicyAllow,
		ValidatorOnStoreError: config.PolicyDeny,
		BucketTTL:             time.Hour,
		ReplayWindow:          5 * time.Minute,
		FingerprintTTL:        time.Hour,
		FlashLoanFloor:        1_000_000_000_000,
		FlashWindow:           time.Minute,
		FlashRecentLimit:      3,
		AnomalousMultiplier:   100,
		AnomalousFloor:        10_000_000,
		AverageTTL:            168 * time.Hour,
		RateWindow:            time.Minute,
		RateAbuseLimit:        300,
		MEVWindow:             5 * time.Minute,
		MEVSubWindow:          30 * time.Second,
		MEVRecentMin:          3,
		FeeMin:                1000,
		FeeMax:                10_000,
		ReplayHighBand:        time.Minute,
		ReplayLowBand:         5 * time.Minute,
		RoundUnit:             1_000_000,
		RoundFloor:            100_000_000,
		MEVFastInterval:       10 * time.Second,
		SandwichAmountFloor:   1_000_000,
		ValidatorFlashFloor:   100_000_000_000,
		BalanceMultiplier:     10,
		FlashSequenceMin:      3,
		TemporalWindow:        time.Hour,
		TemporalMaxEntries:    20,
		TemporalMinSamples:    5,
		TemporalBotStdDev:     2.0,
		TemporalBotInterval:   30 * time.Second,
		TemporalFastInterval:  5 * time.Second,
		AlertTTL:              168 * time.Hour,
		AlertHistoryLimit:     500,
		ReportTTL:             720 * time.Hour,
		ReportHistoryLimit:    100,
		RequestLogTTL:         168 * time.Hour,
	}
}

// walletAddr derives a distinct well-formed Algorand address per seed.
func walletAddr(seed byte) string {
	var raw types.Address
	raw[0] = seed
	return raw.String()
}

func newTestKeyService(t *testing.T) *KeyService {
	t.Helper()
	keys := firewall.NewKeyManager(store.NewMemory(), testSecurityConfig(), "fw_test_", nil)
	return NewKeyService(keys)
}

func wantServiceError(t *testing.T, err error, kind ErrorKind, code string) *Error {
	t.Helper()
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected *service.Error, got %v", err)
	}
	if svcErr.Kind != kind {
		t.Fatalf("expected error kind %d, got %d (%v)", kind, svcErr.Kind, svcErr)
	}
	if svcErr.Code != code {
		t.Fatalf("expected error code %q, got %q", code, svcErr.Code)
	}
	return svcErr
}

func TestKeyServiceIssue(t *testing.T) {
	ctx := context.Background()
	svc := newTestKeyService(t)

	t.Run("rejects malformed wallet", func(t *testing.T) {
		_, err := svc.Issue(ctx, IssueKeyInput{WalletAddress: "not-an-address", Tier: "free"})
		wantServiceError(t, err, ErrBadRequest, "invalid_request")
	})

	t.Run("rejects unknown tier", func(t *testing.T) {
		_, err := svc.Issue(ctx, IssueKeyInput{WalletAddress: walletAddr(1), Tier: "platinum"})
		wantServiceError(t, err, ErrBadRequest, "invalid_request")
	})

	t.Run("defaults to free tier", func(t *testing.T) {
		issued, err := svc.Issue(ctx, IssueKeyInput{WalletAddress: walletAddr(2)})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if issued.Record.Tier != model.TierFree {
			t.Fatalf("expected free tier, got %s", issued.Record.Tier)
		}
		if issued.Rotated {
			t.Fatal("first issuance must not report a rotation")
		}
	})

	t.Run("rotates on reissue", func(t *testing.T) {
		first, err := svc.Issue(ctx, IssueKeyInput{WalletAddress: walletAddr(3), Tier: "pro"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		second, err := svc.Issue(ctx, IssueKeyInput{WalletAddress: walletAddr(3), Tier: "pro"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !second.Rotated {
			t.Fatal("reissue for the same wallet must report a rotation")
		}
		if second.RawKey == first.RawKey {
			t.Fatal("rotation must mint a fresh token")
		}
	})
}

func TestKeyServiceWalletKey(t *testing.T) {
	ctx := context.Background()
	svc := newTestKeyService(t)

	t.Run("rejects malformed address", func(t *testing.T) {
		_, err := svc.WalletKey(ctx, "oops")
		wantServiceError(t, err, ErrBadRequest, "invalid_request")
	})

	t.Run("unknown wallet is not found", func(t *testing.T) {
		_, err := svc.WalletKey(ctx, walletAddr(9))
		wantServiceError(t, err, ErrNotFound, "not_found")
	})

	t.Run("returns metadata without the token", func(t *testing.T) {
		issued, err := svc.Issue(ctx, IssueKeyInput{WalletAddress: walletAddr(4), Tier: "enterprise"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		record, err := svc.WalletKey(ctx, walletAddr(4))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if record.KeyPrefix != issued.Record.KeyPrefix {
			t.Fatalf("expected prefix %s, got %s", issued.Record.KeyPrefix, record.KeyPrefix)
		}
		if record.Tier != model.TierEnterprise {
			t.Fatalf("expected enterprise tier, got %s", record.Tier)
		}
	})
}

func TestKeyServiceUsage(t *testing.T) {
	ctx := context.Background()
	svc := newTestKeyService(t)

	issued, err := svc.Issue(ctx, IssueKeyInput{WalletAddress: walletAddr(5), Tier: "pro"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	stats, err := svc.Usage(ctx, issued.Record.KeyHash)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stats.Tier != model.TierPro || stats.UsageCount != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.HourlyAllowance != 10000 {
		t.Fatalf("expected pro hourly allowance 10000, got %d", stats.HourlyAllowance)
	}

	if _, err := svc.Usage(ctx, "no-such-hash"); err == nil {
		t.Fatal("expected an error for an unknown key hash")
	} else {
		wantServiceError(t, err, ErrNotFound, "not_found")
	}
}

func TestKeyServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newTestKeyService(t)

	issued, err := svc.Issue(ctx, IssueKeyInput{WalletAddress: walletAddr(6), Tier: "free"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	id := issued.Record.ID

	t.Run("suspend", func(t *testing.T) {
		if err := svc.Suspend(ctx, id); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		record, err := svc.Get(ctx, id)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if record.Status != model.StatusSuspended {
			t.Fatalf("expected suspended, got %s", record.Status)
		}
	})

	t.Run("reinstate", func(t *testing.T) {
		if err := svc.Reinstate(ctx, id); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		record, err := svc.Get(ctx, id)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if record.Status != model.StatusActive {
			t.Fatalf("expected active, got %s", record.Status)
		}
	})

	t.Run("revoke", func(t *testing.T) {
		if err := svc.Revoke(ctx, id); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		record, err := svc.Get(ctx, id)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if record.Status != model.StatusRevoked {
			t.Fatalf("expected revoked, got %s", record.Status)
		}
	})

	t.Run("revocation is terminal", func(t *testing.T) {
		wantServiceError(t, svc.Revoke(ctx, id), ErrBadRequest, "invalid_status")
		wantServiceError(t, svc.Suspend(ctx, id), ErrBadRequest, "invalid_status")
		wantServiceError(t, svc.Reinstate(ctx, id), ErrBadRequest, "invalid_status")
	})

	t.Run("unknown id", func(t *testing.T) {
		wantServiceError(t, svc.Suspend(ctx, uuid.New()), ErrNotFound, "not_found")
	})
}

func TestKeyServiceList(t *testing.T) {
	ctx := context.Background()
	svc := newTestKeyService(t)

	wallets := []string{walletAddr(10), walletAddr(11), walletAddr(12)}
	for _, w := range wallets {
		if _, err := svc.Issue(ctx, IssueKeyInput{WalletAddress: w, Tier: "free"}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	t.Run("newest first across pages", func(t *testing.T) {
		page1, err := svc.List(ctx, 1, 2)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if page1.Total != 3 || len(page1.Keys) != 2 {
			t.Fatalf("expected total 3 and 2 items, got total %d and %d items", page1.Total, len(page1.Keys))
		}
		if page1.Keys[0].Wallet != wallets[2] || page1.Keys[1].Wallet != wallets[1] {
			t.Fatalf("unexpected order: %s, %s", page1.Keys[0].Wallet, page1.Keys[1].Wallet)
		}

		page2, err := svc.List(ctx, 2, 2)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(page2.Keys) != 1 || page2.Keys[0].Wallet != wallets[0] {
			t.Fatalf("unexpected second page: %+v", page2.Keys)
		}
	})

	t.Run("page past the end is empty", func(t *testing.T) {
		page, err := svc.List(ctx, 5, 2)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if page.Total != 3 || len(page.Keys) != 0 {
			t.Fatalf("expected empty page with total 3, got %+v", page)
		}
	})
}

func TestKeyServiceSetAllowlist(t *testing.T) {
	ctx := context.Background()
	svc := newTestKeyService(t)

	issued, err := svc.Issue(ctx, IssueKeyInput{WalletAddress: walletAddr(7), Tier: "free"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	t.Run("rejects malformed entries", func(t *testing.T) {
		err := svc.SetAllowlist(ctx, issued.Record.ID, []string{"10.0.0.0/999"})
		wantServiceError(t, err, ErrBadRequest, "invalid_request")
	})

	t.Run("unknown id", func(t *testing.T) {
		err := svc.SetAllowlist(ctx, uuid.New(), []string{"198.51.100.7"})
		wantServiceError(t, err, ErrNotFound, "not_found")
	})

	t.Run("stores and clears entries", func(t *testing.T) {
		entries := []string{"198.51.100.7", "10.0.0.0/8"}
		if err := svc.SetAllowlist(ctx, issued.Record.ID, entries); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		record, err := svc.Get(ctx, issued.Record.ID)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(record.IPAllowlist) != 2 {
			t.Fatalf("expected 2 allowlist entries, got %v", record.IPAllowlist)
		}

		if err := svc.SetAllowlist(ctx, issued.Record.ID, nil); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		record, err = svc.Get(ctx, issued.Record.ID)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(record.IPAllowlist) != 0 {
			t.Fatalf("expected cleared allowlist, got %v", record.IPAllowlist)
		}
	})
}
