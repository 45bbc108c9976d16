package model

import (
	"time"

	"github.com/google/uuid"
)

// Verdict is the categorical outcome of transaction validation.
type Verdict string

const (
	VerdictValid      Verdict = "valid"
	VerdictSuspicious Verdict = "suspicious"
	VerdictMalicious  Verdict = "malicious"
	VerdictInvalid    Verdict = "invalid"
)

// ValidationReport is the result of one validation call: every sub-check's
// issues and risk contributions summed into a single score and verdict.
type ValidationReport struct {
	ID              uuid.UUID          `json:"id"`
	Wallet          string             `json:"wallet_address"`
	KeyHash         string             `json:"-"`
	Verdict         Verdict            `json:"verdict"`
	RiskScore       float64            `json:"risk_score"`
	Issues          []string           `json:"issues"`
	Recommendations []string           `json:"recommendations"`
	CheckRisks      map[string]float64 `json:"check_risks,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
}

// ReportHistoryEntry is the compact form retained per wallet for risk
// profiling.
type ReportHistoryEntry struct {
	Verdict   Verdict   `json:"verdict"`
	RiskScore float64   `json:"risk_score"`
	Timestamp time.Time `json:"timestamp"`
}

// RiskLevel buckets a wallet's aggregate risk.
type RiskLevel string

const (
	RiskUnknown RiskLevel = "unknown"
	RiskMinimal RiskLevel = "minimal"
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
)

// WalletRiskProfile aggregates the last stored validation reports for a
// wallet.
type WalletRiskProfile struct {
	Wallet         string    `json:"wallet_address"`
	RiskLevel      RiskLevel `json:"risk_level"`
	AverageRisk    float64   `json:"average_risk"`
	MaxRisk        float64   `json:"max_risk"`
	MaliciousCount int       `json:"malicious_count"`
	SampleCount    int       `json:"sample_count"`
	GeneratedAt    time.Time `json:"generated_at"`
}
