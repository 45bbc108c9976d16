package model

import (
	"time"

	"github.com/google/uuid"
)

// KeyStatus is the lifecycle state of an API key.
type KeyStatus string

const (
	StatusActive      KeyStatus = "active"
	StatusSuspended   KeyStatus = "suspended"
	StatusRevoked     KeyStatus = "revoked"
	StatusRateLimited KeyStatus = "rate_limited"
)

// APIKey is the stored metadata for an issued key. The raw token is never
// persisted; KeyHash is its SHA-256 hex digest and KeyPrefix the displayable
// first characters.
type APIKey struct {
	ID          uuid.UUID `json:"id"`
	KeyHash     string    `json:"-"`
	KeyPrefix   string    `json:"key_prefix"`
	Wallet      string    `json:"wallet_address"`
	Tier        Tier      `json:"tier"`
	Status      KeyStatus `json:"status"`
	ThreatScore float64   `json:"threat_score"`
	UsageCount  int64     `json:"usage_count"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`

	// Populated on admin reads when an allowlist is configured for the key.
	IPAllowlist []string `json:"ip_allowlist,omitempty"`
}

// IssuedKey carries the one-time raw token alongside the stored record.
type IssuedKey struct {
	RawKey  string
	Record  *APIKey
	Rotated bool
}

// SecurityContext is attached to a request after successful authentication.
type SecurityContext struct {
	KeyID       uuid.UUID `json:"key_id"`
	KeyHash     string    `json:"-"`
	KeyPrefix   string    `json:"key_prefix"`
	Wallet      string    `json:"wallet_address"`
	Tier        Tier      `json:"tier"`
	Permissions []string  `json:"permissions"`
	ThreatScore float64   `json:"threat_score"`
	UsageCount  int64     `json:"usage_count"`

	// Filled in by the middleware as the checks run.
	ClientIP        string  `json:"client_ip,omitempty"`
	RateRemaining   int     `json:"rate_limit_remaining"`
	DDoSThreatLevel float64 `json:"ddos_threat_level"`
}

// HasPermission reports whether the context grants the named permission.
// The enterprise wildcard "*" grants everything.
func (c *SecurityContext) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == "*" || p == perm {
			return true
		}
	}
	return false
}

// UsageStats is the per-key usage summary exposed to key holders.
type UsageStats struct {
	KeyPrefix       string    `json:"key_prefix"`
	Wallet          string    `json:"wallet_address"`
	Tier            Tier      `json:"tier"`
	Status          KeyStatus `json:"status"`
	UsageCount      int64     `json:"usage_count"`
	ThreatScore     float64   `json:"threat_score"`
	CreatedAt       time.Time `json:"created_at"`
	LastUsedAt      time.Time `json:"last_used_at"`
	HourlyAllowance int       `json:"hourly_allowance"`
}
