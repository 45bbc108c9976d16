package service

import (
	"context"
	"testing"

	"github.com/algorand-firewall-service/internal/firewall"
	"github.com/algorand-firewall-service/internal/model"
	"github.com/algorand-firewall-service/internal/store"
)

func newTestSecurityService(t *testing.T) (*SecurityService, *firewall.KeyManager) {
	t.Helper()
	kv := store.NewMemory()
	sec := testSecurityConfig()
	keys := firewall.NewKeyManager(kv, sec, "fw_test_", nil)
	detector := firewall.NewThreatDetector(kv, sec, nil)
	validator := firewall.NewTxValidator(kv, sec, nil)
	limiter := firewall.NewRateLimiter(kv, sec)
	return NewSecurityService(detector, validator, keys, limiter), keys
}

// authedContext issues a key and validates it once, the way the middleware
// would before any service call.
func authedContext(t *testing.T, keys *firewall.KeyManager, wallet string, tier model.Tier) *model.SecurityContext {
	t.Helper()
	ctx := context.Background()
	issued, err := keys.Generate(ctx, wallet, tier)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	sc, err := keys.Validate(ctx, issued.RawKey, "198.51.100.7")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return sc
}

func TestSecurityServiceValidateTransaction(t *testing.T) {
	ctx := context.Background()
	svc, keys := newTestSecurityService(t)
	sc := authedContext(t, keys, walletAddr(20), model.TierPro)

	fee := uint64(1000)
	clean := &model.TransactionPayload{
		Type:     "pay",
		Sender:   walletAddr(21),
		Receiver: walletAddr(22),
		Amount:   5_000_000,
		Fee:      &fee,
		Note:     "invoice 8841",
	}

	t.Run("rejects malformed wallet", func(t *testing.T) {
		_, err := svc.ValidateTransaction(ctx, sc, ValidateTransactionInput{WalletAddress: "nope", Transaction: clean})
		wantServiceError(t, err, ErrBadRequest, "invalid_request")
	})

	t.Run("requires a transaction", func(t *testing.T) {
		_, err := svc.ValidateTransaction(ctx, sc, ValidateTransactionInput{WalletAddress: walletAddr(21)})
		wantServiceError(t, err, ErrBadRequest, "invalid_request")
	})

	t.Run("clean transfer is valid", func(t *testing.T) {
		result, err := svc.ValidateTransaction(ctx, sc, ValidateTransactionInput{WalletAddress: walletAddr(21), Transaction: clean})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.Report.Verdict != model.VerdictValid {
			t.Fatalf("expected valid verdict, got %s (%v)", result.Report.Verdict, result.Report.Issues)
		}
		if len(result.Alerts) != 0 {
			t.Fatalf("expected no alerts, got %+v", result.Alerts)
		}
	})

	t.Run("blacklisted contract is malicious", func(t *testing.T) {
		if err := svc.SetContractBlacklist(ctx, []uint64{42}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		bad := &model.TransactionPayload{
			Type:          "appl",
			Sender:        walletAddr(23),
			Fee:           &fee,
			ApplicationID: 42,
		}
		result, err := svc.ValidateTransaction(ctx, sc, ValidateTransactionInput{WalletAddress: walletAddr(23), Transaction: bad})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.Report.Verdict != model.VerdictMalicious {
			t.Fatalf("expected malicious verdict, got %s (risk %.1f)", result.Report.Verdict, result.Report.RiskScore)
		}
	})
}

func TestSecurityServiceThreatSummary(t *testing.T) {
	ctx := context.Background()
	svc, keys := newTestSecurityService(t)
	sc := authedContext(t, keys, walletAddr(24), model.TierFree)

	t.Run("defaults the lookback", func(t *testing.T) {
		summary, err := svc.ThreatSummary(ctx, sc, 0)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if summary.TotalAlerts != 0 {
			t.Fatalf("expected no alerts, got %d", summary.TotalAlerts)
		}
		if summary.LookbackHours != defaultLookbackHours {
			t.Fatalf("expected lookback %d, got %d", defaultLookbackHours, summary.LookbackHours)
		}
	})

	t.Run("clamps the lookback", func(t *testing.T) {
		summary, err := svc.ThreatSummary(ctx, sc, 9999)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if summary.LookbackHours != maxLookbackHours {
			t.Fatalf("expected lookback %d, got %d", maxLookbackHours, summary.LookbackHours)
		}
	})
}

func TestSecurityServiceWalletRisk(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestSecurityService(t)

	t.Run("rejects malformed address", func(t *testing.T) {
		_, err := svc.WalletRisk(ctx, "xyz")
		wantServiceError(t, err, ErrBadRequest, "invalid_request")
	})

	t.Run("unseen wallet is unknown", func(t *testing.T) {
		profile, err := svc.WalletRisk(ctx, walletAddr(25))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if profile.RiskLevel != model.RiskUnknown || profile.SampleCount != 0 {
			t.Fatalf("unexpected profile: %+v", profile)
		}
	})
}

func TestSecurityServiceDashboard(t *testing.T) {
	ctx := context.Background()
	svc, keys := newTestSecurityService(t)
	sc := authedContext(t, keys, walletAddr(26), model.TierFree)

	d, err := svc.Dashboard(ctx, sc, 24)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if d.Usage.UsageCount != 1 {
		t.Fatalf("expected usage count 1 after one validation, got %d", d.Usage.UsageCount)
	}
	if d.Threats.TotalAlerts != 0 {
		t.Fatalf("expected no alerts, got %d", d.Threats.TotalAlerts)
	}
	if d.Bucket.Action != model.ActionAllow {
		t.Fatalf("expected an allow peek, got %s", d.Bucket.Action)
	}
	if d.Bucket.Remaining != 10 {
		t.Fatalf("expected an untouched free bucket of 10, got %d", d.Bucket.Remaining)
	}
}

func TestSecurityServiceBlacklists(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestSecurityService(t)

	t.Run("rejects malformed address entries", func(t *testing.T) {
		err := svc.SetAddressBlacklist(ctx, []string{"not-an-address"})
		wantServiceError(t, err, ErrBadRequest, "invalid_request")
	})

	t.Run("round-trips addresses", func(t *testing.T) {
		want := map[string]bool{walletAddr(30): true, walletAddr(31): true}
		if err := svc.SetAddressBlacklist(ctx, []string{walletAddr(30), walletAddr(31)}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		got, err := svc.AddressBlacklist(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 entries, got %v", got)
		}
		for _, addr := range got {
			if !want[addr] {
				t.Fatalf("unexpected entry %s", addr)
			}
		}
	})

	t.Run("round-trips contracts", func(t *testing.T) {
		if err := svc.SetContractBlacklist(ctx, []uint64{7, 9}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		got, err := svc.ContractBlacklist(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 entries, got %v", got)
		}
		seen := map[uint64]bool{}
		for _, id := range got {
			seen[id] = true
		}
		if !seen[7] || !seen[9] {
			t.Fatalf("missing entries in %v", got)
		}
	})
}
