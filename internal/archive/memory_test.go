package archive

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/algorand-firewall-service/internal/model"
)

func seedAlerts(t *testing.T, m *Memory) []*model.ThreatAlert {
	t.Helper()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	alerts := []*model.ThreatAlert{
		{ID: uuid.New(), Kind: model.ThreatReplay, Severity: model.SeverityHigh, KeyHash: "hash-a", Timestamp: base},
		{ID: uuid.New(), Kind: model.ThreatFlashLoan, Severity: model.SeverityHigh, KeyHash: "hash-a", Timestamp: base.Add(time.Minute)},
		{ID: uuid.New(), Kind: model.ThreatMEVPattern, Severity: model.SeverityMedium, KeyHash: "hash-b", Timestamp: base.Add(2 * time.Minute)},
	}
	for _, a := range alerts {
		if err := m.SaveAlert(context.Background(), a); err != nil {
			t.Fatalf("save alert: %v", err)
		}
	}
	return alerts
}

func TestMemoryListAlerts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	alerts := seedAlerts(t, m)

	t.Run("newest first", func(t *testing.T) {
		got, total, err := m.ListAlerts(ctx, AlertFilters{})
		if err != nil {
			t.Fatalf("list alerts: %v", err)
		}
		if total != 3 || len(got) != 3 {
			t.Fatalf("unexpected result: total=%d len=%d", total, len(got))
		}
		if got[0].ID != alerts[2].ID || got[2].ID != alerts[0].ID {
			t.Fatal("expected newest alert first")
		}
	})

	t.Run("filter by key hash", func(t *testing.T) {
		hash := "hash-a"
		got, total, err := m.ListAlerts(ctx, AlertFilters{KeyHash: &hash})
		if err != nil {
			t.Fatalf("list alerts: %v", err)
		}
		if total != 2 || len(got) != 2 {
			t.Fatalf("unexpected result: total=%d len=%d", total, len(got))
		}
	})

	t.Run("filter by kind", func(t *testing.T) {
		kind := model.ThreatReplay
		got, total, err := m.ListAlerts(ctx, AlertFilters{Kind: &kind})
		if err != nil {
			t.Fatalf("list alerts: %v", err)
		}
		if total != 1 || got[0].Kind != model.ThreatReplay {
			t.Fatalf("unexpected result: total=%d", total)
		}
	})

	t.Run("filter by time window", func(t *testing.T) {
		from := alerts[1].Timestamp
		_, total, err := m.ListAlerts(ctx, AlertFilters{From: &from})
		if err != nil {
			t.Fatalf("list alerts: %v", err)
		}
		if total != 2 {
			t.Fatalf("expected 2 alerts at or after cutoff, got %d", total)
		}
	})

	t.Run("pagination", func(t *testing.T) {
		got, total, err := m.ListAlerts(ctx, AlertFilters{Page: 2, PerPage: 2})
		if err != nil {
			t.Fatalf("list alerts: %v", err)
		}
		if total != 3 || len(got) != 1 {
			t.Fatalf("unexpected page: total=%d len=%d", total, len(got))
		}
		if got[0].ID != alerts[0].ID {
			t.Fatal("expected the oldest alert on the last page")
		}
	})
}

func TestMemoryListReports(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reports := []*model.ValidationReport{
		{ID: uuid.New(), Wallet: "WALLETA", Verdict: model.VerdictValid, RiskScore: 0, Timestamp: base},
		{ID: uuid.New(), Wallet: "WALLETA", Verdict: model.VerdictMalicious, RiskScore: 9.5, Timestamp: base.Add(time.Minute)},
		{ID: uuid.New(), Wallet: "WALLETB", Verdict: model.VerdictSuspicious, RiskScore: 5.0, Timestamp: base.Add(2 * time.Minute)},
	}
	for _, r := range reports {
		if err := m.SaveReport(ctx, r); err != nil {
			t.Fatalf("save report: %v", err)
		}
	}

	wallet := "WALLETA"
	verdict := model.VerdictMalicious
	got, total, err := m.ListReports(ctx, ReportFilters{Wallet: &wallet, Verdict: &verdict})
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if total != 1 || len(got) != 1 {
		t.Fatalf("unexpected result: total=%d len=%d", total, len(got))
	}
	if got[0].RiskScore != 9.5 {
		t.Fatalf("unexpected report: %+v", got[0])
	}
}

func TestMemorySaveCopiesRow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	alert := &model.ThreatAlert{ID: uuid.New(), Kind: model.ThreatReplay, Severity: model.SeverityHigh, Timestamp: time.Now()}
	if err := m.SaveAlert(ctx, alert); err != nil {
		t.Fatalf("save alert: %v", err)
	}
	alert.Severity = model.SeverityLow

	got, _, err := m.ListAlerts(ctx, AlertFilters{})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if got[0].Severity != model.SeverityHigh {
		t.Fatal("expected stored alert unaffected by caller mutation")
	}
}
