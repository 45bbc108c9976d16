// Package archive persists alerts, validation reports and DDoS events to
// Postgres for long-term review. The hot path never reads from here; admin
// and dashboard endpoints do.
package archive

import (
	"context"
	"time"

	"github.com/algorand-firewall-service/internal/model"
)

type Archive interface {
	SaveAlert(ctx context.Context, alert *model.ThreatAlert) error
	SaveReport(ctx context.Context, report *model.ValidationReport) error
	SaveDDoSEvent(ctx context.Context, event *model.DDoSEvent) error
	ListAlerts(ctx context.Context, filters AlertFilters) ([]*model.ThreatAlert, int, error)
	ListReports(ctx context.Context, filters ReportFilters) ([]*model.ValidationReport, int, error)
	Ping(ctx context.Context) error
}

type AlertFilters struct {
	KeyHash  *string
	Kind     *model.ThreatKind
	Severity *model.Severity
	From     *time.Time
	To       *time.Time
	Page     int
	PerPage  int
}

type ReportFilters struct {
	Wallet  *string
	Verdict *model.Verdict
	From    *time.Time
	To      *time.Time
	Page    int
	PerPage int
}
