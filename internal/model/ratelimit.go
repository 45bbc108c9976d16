package model

import (
	"time"

	"github.com/google/uuid"
)

// LimitType scopes a token bucket to an identifier class.
type LimitType string

const (
	LimitPerKey LimitType = "api_key"
	LimitPerIP  LimitType = "ip"
)

// RateAction is the outcome of a rate-limit or DDoS check.
type RateAction string

const (
	ActionAllow    RateAction = "allow"
	ActionThrottle RateAction = "throttle"
	ActionBlock    RateAction = "block"
	ActionCaptcha  RateAction = "captcha"
)

// Rejected reports whether the action denies the request.
func (a RateAction) Rejected() bool {
	return a != ActionAllow
}

// RateDecision is the outcome of one token-bucket check.
type RateDecision struct {
	Action     RateAction    `json:"action"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after"`

	// True when the key's threat score shrank the effective limits.
	ThreatAdjusted bool `json:"threat_adjusted,omitempty"`
}

// DDoSDecision is the outcome of the per-IP burst heuristic.
type DDoSDecision struct {
	Action      RateAction    `json:"action"`
	Window      string        `json:"window,omitempty"`
	Count       int64         `json:"count,omitempty"`
	Remaining   int64         `json:"remaining"`
	ThreatLevel float64       `json:"threat_level"`
	RetryAfter  time.Duration `json:"retry_after"`
}

// DDoSEvent is the durable record of a rejected burst, kept for offline
// review of attack traffic.
type DDoSEvent struct {
	ID        uuid.UUID  `json:"id"`
	ClientIP  string     `json:"client_ip"`
	Window    string     `json:"window"`
	Count     int64      `json:"count"`
	Action    RateAction `json:"action"`
	Timestamp time.Time  `json:"timestamp"`
}

// RequestLogRecord is the analytics record written after each authenticated
// request.
type RequestLogRecord struct {
	Timestamp   time.Time     `json:"timestamp"`
	KeyHash     string        `json:"-"`
	KeyPrefix   string        `json:"key_prefix"`
	Wallet      string        `json:"wallet_address"`
	Tier        Tier          `json:"tier"`
	ClientIP    string        `json:"client_ip"`
	Method      string        `json:"method"`
	Path        string        `json:"path"`
	Status      int           `json:"status"`
	Duration    time.Duration `json:"duration"`
	ThreatScore float64       `json:"threat_score"`
	UserAgent   string        `json:"user_agent,omitempty"`
}
