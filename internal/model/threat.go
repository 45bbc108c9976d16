package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ThreatKind identifies which detection heuristic produced an alert.
type ThreatKind string

const (
	ThreatReplay          ThreatKind = "replay"
	ThreatFlashLoan       ThreatKind = "flash_loan"
	ThreatMEVPattern      ThreatKind = "mev_pattern"
	ThreatRateAbuse       ThreatKind = "rate_abuse"
	ThreatAnomalousAmount ThreatKind = "anomalous_amount"
)

// Severity ranks how urgent an alert is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertDetails is the typed payload variant carried by a ThreatAlert. Each
// detection heuristic has its own case; there is no loose metadata map.
type AlertDetails interface {
	ThreatKind() ThreatKind
}

type ReplayDetails struct {
	Fingerprint    string  `json:"fingerprint"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

func (ReplayDetails) ThreatKind() ThreatKind { return ThreatReplay }

type FlashLoanDetails struct {
	Amount      uint64 `json:"amount"`
	RecentCount int64  `json:"recent_count"`
}

func (FlashLoanDetails) ThreatKind() ThreatKind { return ThreatFlashLoan }

type MEVDetails struct {
	RecentCount   int     `json:"recent_count"`
	WindowSeconds float64 `json:"window_seconds"`
}

func (MEVDetails) ThreatKind() ThreatKind { return ThreatMEVPattern }

type RateAbuseDetails struct {
	IPCount  int64 `json:"ip_count"`
	KeyCount int64 `json:"key_count"`
}

func (RateAbuseDetails) ThreatKind() ThreatKind { return ThreatRateAbuse }

type AnomalousAmountDetails struct {
	Amount     uint64  `json:"amount"`
	Average    float64 `json:"average"`
	Multiplier float64 `json:"multiplier"`
}

func (AnomalousAmountDetails) ThreatKind() ThreatKind { return ThreatAnomalousAmount }

// ThreatAlert is an immutable record of one fired heuristic. Written once,
// never updated.
type ThreatAlert struct {
	ID          uuid.UUID    `json:"id"`
	Kind        ThreatKind   `json:"kind"`
	Severity    Severity     `json:"severity"`
	Description string       `json:"description"`
	KeyHash     string       `json:"key_hash"`
	KeyPrefix   string       `json:"key_prefix,omitempty"`
	ClientIP    string       `json:"client_ip,omitempty"`
	Wallet      string       `json:"wallet_address,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	Details     AlertDetails `json:"details,omitempty"`
}

// threatAlertJSON mirrors ThreatAlert with raw details for two-phase decoding.
type threatAlertJSON struct {
	ID          uuid.UUID       `json:"id"`
	Kind        ThreatKind      `json:"kind"`
	Severity    Severity        `json:"severity"`
	Description string          `json:"description"`
	KeyHash     string          `json:"key_hash"`
	KeyPrefix   string          `json:"key_prefix,omitempty"`
	ClientIP    string          `json:"client_ip,omitempty"`
	Wallet      string          `json:"wallet_address,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Details     json.RawMessage `json:"details,omitempty"`
}

func (a *ThreatAlert) UnmarshalJSON(data []byte) error {
	var raw threatAlertJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.ID = raw.ID
	a.Kind = raw.Kind
	a.Severity = raw.Severity
	a.Description = raw.Description
	a.KeyHash = raw.KeyHash
	a.KeyPrefix = raw.KeyPrefix
	a.ClientIP = raw.ClientIP
	a.Wallet = raw.Wallet
	a.Timestamp = raw.Timestamp
	a.Details = nil

	if len(raw.Details) == 0 {
		return nil
	}

	details, err := DecodeAlertDetails(raw.Kind, raw.Details)
	if err != nil {
		return err
	}
	a.Details = details
	return nil
}

// DecodeAlertDetails picks the concrete details variant for a kind.
func DecodeAlertDetails(kind ThreatKind, data []byte) (AlertDetails, error) {
	switch kind {
	case ThreatReplay:
		var d ReplayDetails
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case ThreatFlashLoan:
		var d FlashLoanDetails
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case ThreatMEVPattern:
		var d MEVDetails
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case ThreatRateAbuse:
		var d RateAbuseDetails
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case ThreatAnomalousAmount:
		var d AnomalousAmountDetails
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown threat kind %q", kind)
	}
}

// ThreatSummary aggregates retained alerts for one key over a lookback window.
type ThreatSummary struct {
	KeyPrefix     string                      `json:"key_prefix"`
	LookbackHours int                         `json:"lookback_hours"`
	TotalAlerts   int                         `json:"total_alerts"`
	ByKind        map[ThreatKind]int          `json:"by_kind"`
	BySeverity    map[Severity]int            `json:"by_severity"`
	Latest        map[ThreatKind]*ThreatAlert `json:"latest,omitempty"`
}
