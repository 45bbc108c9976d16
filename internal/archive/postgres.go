package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/algorand-firewall-service/internal/model"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) SaveAlert(ctx context.Context, alert *model.ThreatAlert) error {
	var detailsJSON []byte
	if alert.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(alert.Details)
		if err != nil {
			return fmt.Errorf("marshal alert details: %w", err)
		}
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO threat_alerts (
			id, kind, severity, description, key_hash, key_prefix,
			client_ip, wallet_address, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		alert.ID, alert.Kind, alert.Severity, alert.Description,
		alert.KeyHash, alert.KeyPrefix, nullString(alert.ClientIP),
		nullString(alert.Wallet), detailsJSON, alert.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert threat_alert: %w", err)
	}
	return nil
}

func (p *Postgres) SaveReport(ctx context.Context, report *model.ValidationReport) error {
	issuesJSON, err := json.Marshal(report.Issues)
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}
	recsJSON, err := json.Marshal(report.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}
	var checksJSON []byte
	if len(report.CheckRisks) > 0 {
		checksJSON, err = json.Marshal(report.CheckRisks)
		if err != nil {
			return fmt.Errorf("marshal check risks: %w", err)
		}
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO validation_reports (
			id, wallet_address, key_hash, verdict, risk_score,
			issues, recommendations, check_risks, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		report.ID, report.Wallet, report.KeyHash, report.Verdict, report.RiskScore,
		issuesJSON, recsJSON, checksJSON, report.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert validation_report: %w", err)
	}
	return nil
}

func (p *Postgres) SaveDDoSEvent(ctx context.Context, event *model.DDoSEvent) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO ddos_events (id, client_ip, time_window, request_count, action, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		event.ID, event.ClientIP, event.Window, event.Count, event.Action, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert ddos_event: %w", err)
	}
	return nil
}

func (p *Postgres) ListAlerts(ctx context.Context, filters AlertFilters) ([]*model.ThreatAlert, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if filters.KeyHash != nil {
		where += fmt.Sprintf(" AND key_hash = $%d", argIdx)
		args = append(args, *filters.KeyHash)
		argIdx++
	}
	if filters.Kind != nil {
		where += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, *filters.Kind)
		argIdx++
	}
	if filters.Severity != nil {
		where += fmt.Sprintf(" AND severity = $%d", argIdx)
		args = append(args, *filters.Severity)
		argIdx++
	}
	if filters.From != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *filters.From)
		argIdx++
	}
	if filters.To != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *filters.To)
		argIdx++
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM threat_alerts %s", where)
	if err := p.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count threat_alerts: %w", err)
	}

	perPage, offset := pageWindow(filters.Page, filters.PerPage)
	args = append(args, perPage, offset)
	query := fmt.Sprintf(`
		SELECT id, kind, severity, description, key_hash, key_prefix,
		       client_ip, wallet_address, details, created_at
		FROM threat_alerts %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, argIdx, argIdx+1)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list threat_alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.ThreatAlert
	for rows.Next() {
		var alert model.ThreatAlert
		var clientIP, wallet *string
		var detailsJSON []byte

		err := rows.Scan(
			&alert.ID, &alert.Kind, &alert.Severity, &alert.Description,
			&alert.KeyHash, &alert.KeyPrefix, &clientIP, &wallet,
			&detailsJSON, &alert.Timestamp,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan threat_alert: %w", err)
		}
		if clientIP != nil {
			alert.ClientIP = *clientIP
		}
		if wallet != nil {
			alert.Wallet = *wallet
		}
		if len(detailsJSON) > 0 {
			details, err := model.DecodeAlertDetails(alert.Kind, detailsJSON)
			if err != nil {
				return nil, 0, fmt.Errorf("decode alert details: %w", err)
			}
			alert.Details = details
		}
		alerts = append(alerts, &alert)
	}
	return alerts, total, nil
}

func (p *Postgres) ListReports(ctx context.Context, filters ReportFilters) ([]*model.ValidationReport, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if filters.Wallet != nil {
		where += fmt.Sprintf(" AND wallet_address = $%d", argIdx)
		args = append(args, *filters.Wallet)
		argIdx++
	}
	if filters.Verdict != nil {
		where += fmt.Sprintf(" AND verdict = $%d", argIdx)
		args = append(args, *filters.Verdict)
		argIdx++
	}
	if filters.From != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *filters.From)
		argIdx++
	}
	if filters.To != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *filters.To)
		argIdx++
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM validation_reports %s", where)
	if err := p.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count validation_reports: %w", err)
	}

	perPage, offset := pageWindow(filters.Page, filters.PerPage)
	args = append(args, perPage, offset)
	query := fmt.Sprintf(`
		SELECT id, wallet_address, key_hash, verdict, risk_score,
		       issues, recommendations, check_risks, created_at
		FROM validation_reports %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, argIdx, argIdx+1)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list validation_reports: %w", err)
	}
	defer rows.Close()

	var reports []*model.ValidationReport
	for rows.Next() {
		var report model.ValidationReport
		var issuesJSON, recsJSON, checksJSON []byte

		err := rows.Scan(
			&report.ID, &report.Wallet, &report.KeyHash, &report.Verdict, &report.RiskScore,
			&issuesJSON, &recsJSON, &checksJSON, &report.Timestamp,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan validation_report: %w", err)
		}
		if err := json.Unmarshal(issuesJSON, &report.Issues); err != nil {
			return nil, 0, fmt.Errorf("unmarshal issues: %w", err)
		}
		if err := json.Unmarshal(recsJSON, &report.Recommendations); err != nil {
			return nil, 0, fmt.Errorf("unmarshal recommendations: %w", err)
		}
		if len(checksJSON) > 0 {
			if err := json.Unmarshal(checksJSON, &report.CheckRisks); err != nil {
				return nil, 0, fmt.Errorf("unmarshal check risks: %w", err)
			}
		}
		reports = append(reports, &report)
	}
	return reports, total, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping archive: %w", err)
	}
	return nil
}

func pageWindow(page, perPage int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return perPage, (page - 1) * perPage
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
