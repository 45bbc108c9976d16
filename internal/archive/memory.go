package archive

import (
	"context"
	"sync"

	"github.com/algorand-firewall-service/internal/model"
)

// memoryCap bounds each in-memory table; oldest rows fall off first.
const memoryCap = 10_000

// Memory keeps archive rows in process memory. It backs deployments without
// a DATABASE_URL and the handler tests.
type Memory struct {
	mu      sync.Mutex
	alerts  []*model.ThreatAlert
	reports []*model.ValidationReport
	events  []*model.DDoSEvent
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) SaveAlert(ctx context.Context, alert *model.ThreatAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *alert
	m.alerts = append(m.alerts, &copied)
	if len(m.alerts) > memoryCap {
		m.alerts = m.alerts[len(m.alerts)-memoryCap:]
	}
	return nil
}

func (m *Memory) SaveReport(ctx context.Context, report *model.ValidationReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *report
	m.reports = append(m.reports, &copied)
	if len(m.reports) > memoryCap {
		m.reports = m.reports[len(m.reports)-memoryCap:]
	}
	return nil
}

func (m *Memory) SaveDDoSEvent(ctx context.Context, event *model.DDoSEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *event
	m.events = append(m.events, &copied)
	if len(m.events) > memoryCap {
		m.events = m.events[len(m.events)-memoryCap:]
	}
	return nil
}

func (m *Memory) ListAlerts(ctx context.Context, filters AlertFilters) ([]*model.ThreatAlert, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*model.ThreatAlert
	// Newest first, matching the SQL ORDER BY created_at DESC.
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if filters.KeyHash != nil && a.KeyHash != *filters.KeyHash {
			continue
		}
		if filters.Kind != nil && a.Kind != *filters.Kind {
			continue
		}
		if filters.Severity != nil && a.Severity != *filters.Severity {
			continue
		}
		if filters.From != nil && a.Timestamp.Before(*filters.From) {
			continue
		}
		if filters.To != nil && a.Timestamp.After(*filters.To) {
			continue
		}
		matched = append(matched, a)
	}

	total := len(matched)
	limit, offset := pageWindow(filters.Page, filters.PerPage)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) ListReports(ctx context.Context, filters ReportFilters) ([]*model.ValidationReport, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*model.ValidationReport
	for i := len(m.reports) - 1; i >= 0; i-- {
		r := m.reports[i]
		if filters.Wallet != nil && r.Wallet != *filters.Wallet {
			continue
		}
		if filters.Verdict != nil && r.Verdict != *filters.Verdict {
			continue
		}
		if filters.From != nil && r.Timestamp.Before(*filters.From) {
			continue
		}
		if filters.To != nil && r.Timestamp.After(*filters.To) {
			continue
		}
		matched = append(matched, r)
	}

	total := len(matched)
	limit, offset := pageWindow(filters.Page, filters.PerPage)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}
