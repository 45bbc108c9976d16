package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/algorand-firewall-service/internal/archive"
	"github.com/algorand-firewall-service/internal/httputil"
	"github.com/algorand-firewall-service/internal/model"
)

func seedAlert(t *testing.T, arch archive.Archive, kind model.ThreatKind, severity model.Severity) {
	t.Helper()
	err := arch.SaveAlert(context.Background(), &model.ThreatAlert{
		ID:        uuid.New(),
		Kind:      kind,
		Severity:  severity,
		KeyHash:   "hash-1",
		KeyPrefix: "fw_test_9xk2",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed alert: %v", err)
	}
}

func TestAlertsHandlerFilters(t *testing.T) {
	arch := archive.NewMemory()
	seedAlert(t, arch, model.ThreatReplay, model.SeverityHigh)
	seedAlert(t, arch, model.ThreatReplay, model.SeverityHigh)
	seedAlert(t, arch, model.ThreatMEVPattern, model.SeverityMedium)

	// The key_id path is never reached in these cases, so no key service is
	// wired up.
	h := NewAlertsHandler(arch, nil)

	type listedAlert struct {
		Kind     model.ThreatKind `json:"kind"`
		Severity model.Severity   `json:"severity"`
	}
	type listing struct {
		Alerts []listedAlert `json:"alerts"`
		Total  int           `json:"total"`
	}

	list := func(t *testing.T, query string) listing {
		t.Helper()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/alerts"+query, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var got listing
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		return got
	}

	t.Run("lists newest first", func(t *testing.T) {
		got := list(t, "")
		if got.Total != 3 || len(got.Alerts) != 3 {
			t.Fatalf("expected 3 alerts, got total=%d len=%d", got.Total, len(got.Alerts))
		}
		if got.Alerts[0].Kind != model.ThreatMEVPattern {
			t.Fatalf("expected newest alert first, got %s", got.Alerts[0].Kind)
		}
	})

	t.Run("filters by kind", func(t *testing.T) {
		got := list(t, "?kind=replay")
		if got.Total != 2 {
			t.Fatalf("expected 2 replay alerts, got %d", got.Total)
		}
	})

	t.Run("filters by severity", func(t *testing.T) {
		got := list(t, "?severity=medium")
		if got.Total != 1 || got.Alerts[0].Severity != model.SeverityMedium {
			t.Fatalf("expected 1 medium alert, got total=%d", got.Total)
		}
	})

	t.Run("paginates", func(t *testing.T) {
		got := list(t, "?per_page=2&page=2")
		if got.Total != 3 || len(got.Alerts) != 1 {
			t.Fatalf("expected page 2 with 1 alert, got total=%d len=%d", got.Total, len(got.Alerts))
		}
	})

	t.Run("rejects out-of-range per_page", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/alerts?per_page=500", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		var resp httputil.ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode error response: %v", err)
		}
		if !strings.Contains(resp.Message, "per_page must be between") {
			t.Fatalf("unexpected message %q", resp.Message)
		}
	})

	t.Run("rejects malformed key id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/alerts?key_id=not-a-uuid", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("rejects malformed from date", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/alerts?from=yesterday", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		var resp httputil.ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode error response: %v", err)
		}
		if !strings.Contains(resp.Message, "RFC3339") {
			t.Fatalf("unexpected message %q", resp.Message)
		}
	})

	t.Run("time window excludes older alerts", func(t *testing.T) {
		cutoff := time.Now().Add(time.Minute).UTC().Format(time.RFC3339)
		got := list(t, "?from="+cutoff)
		if got.Total != 0 {
			t.Fatalf("expected no alerts after cutoff, got %d", got.Total)
		}
	})
}
