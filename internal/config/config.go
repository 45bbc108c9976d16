package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Policy names the behavior of a component when the backing store fails.
type Policy string

const (
	PolicyAllow Policy = "allow"
	PolicyDeny  Policy = "deny"
)

type Config struct {
	Network     string   `env:"ALGORAND_NETWORK,default=testnet"`
	Port        int      `env:"PORT,default=8080"`
	LogLevel    string   `env:"LOG_LEVEL,default=info"`
	LogFormat   string   `env:"LOG_FORMAT,default=json"`
	CORSOrigins []string `env:"CORS_ORIGINS"`

	// Empty REDIS_ADDR selects the in-process store. That store is not
	// shared across replicas, so it is only valid for single-instance runs.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	// Empty DATABASE_URL disables the Postgres event archive.
	DatabaseURL string `env:"DATABASE_URL"`

	// Admin surface is mounted only when a Google client ID is configured.
	GoogleClientID      string   `env:"GOOGLE_CLIENT_ID"`
	GoogleAllowedDomain string   `env:"GOOGLE_ALLOWED_DOMAIN"`
	GoogleAllowedEmails []string `env:"GOOGLE_ALLOWED_EMAILS"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	KeyCacheTTL      time.Duration `env:"KEY_CACHE_TTL,default=5s"`
	KeyCacheDisabled bool          `env:"KEY_CACHE_DISABLED,default=false"`

	// HTTP server timeouts
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT,default=60s"`

	Security SecurityConfig `env:",prefix=SECURITY_"`
}

// SecurityConfig gathers every heuristic threshold in one injected structure.
// Amounts are microalgos. Tests construct this directly instead of relying on
// numbers buried in the detection logic.
type SecurityConfig struct {
	// Key manager
	SuspendScore float64 `env:"SUSPEND_SCORE,default=8.0"`
	ScoreDecay   float64 `env:"SCORE_DECAY,default=0.8"`

	// Failure policies
	LimiterOnStoreError   Policy `env:"LIMITER_ON_STORE_ERROR,default=allow"`
	ValidatorOnStoreError Policy `env:"VALIDATOR_ON_STORE_ERROR,default=deny"`

	// Token buckets
	BucketTTL time.Duration `env:"BUCKET_TTL,default=1h"`

	// DDoS windows
	DDoSBurstWindow   time.Duration `env:"DDOS_BURST_WINDOW,default=10s"`
	DDoSBurstLimit    int64         `env:"DDOS_BURST_LIMIT,default=50"`
	DDoSBlockRetry    time.Duration `env:"DDOS_BLOCK_RETRY,default=300s"`
	DDoSMinuteWindow  time.Duration `env:"DDOS_MINUTE_WINDOW,default=60s"`
	DDoSMinuteLimit   int64         `env:"DDOS_MINUTE_LIMIT,default=120"`
	DDoSThrottleRetry time.Duration `env:"DDOS_THROTTLE_RETRY,default=60s"`
	DDoSHourWindow    time.Duration `env:"DDOS_HOUR_WINDOW,default=1h"`
	DDoSHourLimit     int64         `env:"DDOS_HOUR_LIMIT,default=5000"`
	DDoSCaptchaRetry  time.Duration `env:"DDOS_CAPTCHA_RETRY,default=30s"`
	DDoSEventTTL      time.Duration `env:"DDOS_EVENT_TTL,default=24h"`

	// Threat detector
	ReplayWindow        time.Duration `env:"REPLAY_WINDOW,default=5m"`
	FingerprintTTL      time.Duration `env:"FINGERPRINT_TTL,default=1h"`
	FlashLoanFloor      uint64        `env:"FLASH_LOAN_FLOOR,default=1000000000000"`
	FlashWindow         time.Duration `env:"FLASH_WINDOW,default=60s"`
	FlashRecentLimit    int64         `env:"FLASH_RECENT_LIMIT,default=3"`
	AnomalousMultiplier float64       `env:"ANOMALOUS_MULTIPLIER,default=100"`
	AnomalousFloor      uint64        `env:"ANOMALOUS_FLOOR,default=10000000"`
	AverageTTL          time.Duration `env:"AVERAGE_TTL,default=168h"`
	RateWindow          time.Duration `env:"RATE_WINDOW,default=60s"`
	RateAbuseLimit      int64         `env:"RATE_ABUSE_LIMIT,default=300"`
	MEVWindow           time.Duration `env:"MEV_WINDOW,default=5m"`
	MEVSubWindow        time.Duration `env:"MEV_SUB_WINDOW,default=30s"`
	MEVRecentMin        int           `env:"MEV_RECENT_MIN,default=3"`

	// Transaction validator
	FeeMin               uint64        `env:"FEE_MIN,default=1000"`
	FeeMax               uint64        `env:"FEE_MAX,default=10000"`
	ReplayHighBand       time.Duration `env:"REPLAY_HIGH_BAND,default=60s"`
	ReplayLowBand        time.Duration `env:"REPLAY_LOW_BAND,default=300s"`
	RoundUnit            uint64        `env:"ROUND_UNIT,default=1000000"`
	RoundFloor           uint64        `env:"ROUND_FLOOR,default=100000000"`
	MEVFastInterval      time.Duration `env:"MEV_FAST_INTERVAL,default=10s"`
	SandwichAmountFloor  uint64        `env:"SANDWICH_AMOUNT_FLOOR,default=1000000"`
	ValidatorFlashFloor  uint64        `env:"VALIDATOR_FLASH_FLOOR,default=100000000000"`
	BalanceMultiplier    float64       `env:"BALANCE_MULTIPLIER,default=10"`
	FlashSequenceMin     int           `env:"FLASH_SEQUENCE_MIN,default=3"`
	TemporalWindow       time.Duration `env:"TEMPORAL_WINDOW,default=1h"`
	TemporalMaxEntries   int           `env:"TEMPORAL_MAX_ENTRIES,default=20"`
	TemporalMinSamples   int           `env:"TEMPORAL_MIN_SAMPLES,default=5"`
	TemporalBotStdDev    float64       `env:"TEMPORAL_BOT_STDDEV,default=2.0"`
	TemporalBotInterval  time.Duration `env:"TEMPORAL_BOT_INTERVAL,default=30s"`
	TemporalFastInterval time.Duration `env:"TEMPORAL_FAST_INTERVAL,default=5s"`

	// Retention
	AlertTTL           time.Duration `env:"ALERT_TTL,default=168h"`
	AlertHistoryLimit  int64         `env:"ALERT_HISTORY_LIMIT,default=500"`
	ReportTTL          time.Duration `env:"REPORT_TTL,default=720h"`
	ReportHistoryLimit int64         `env:"REPORT_HISTORY_LIMIT,default=100"`
	RequestLogTTL      time.Duration `env:"REQUEST_LOG_TTL,default=168h"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Network != "testnet" && c.Network != "mainnet" {
		return fmt.Errorf("ALGORAND_NETWORK must be 'testnet' or 'mainnet', got %q", c.Network)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	if c.GoogleClientID != "" {
		if c.GoogleAllowedDomain == "" {
			return fmt.Errorf("GOOGLE_ALLOWED_DOMAIN is required when GOOGLE_CLIENT_ID is set")
		}
		if len(c.GoogleAllowedEmails) == 0 {
			return fmt.Errorf("GOOGLE_ALLOWED_EMAILS is required when GOOGLE_CLIENT_ID is set")
		}
	}

	return c.Security.validate()
}

func (s *SecurityConfig) validate() error {
	if s.SuspendScore <= 0 {
		return fmt.Errorf("SECURITY_SUSPEND_SCORE must be positive, got %g", s.SuspendScore)
	}
	if s.ScoreDecay < 0 || s.ScoreDecay >= 1 {
		return fmt.Errorf("SECURITY_SCORE_DECAY must be in [0, 1), got %g", s.ScoreDecay)
	}
	for name, p := range map[string]Policy{
		"SECURITY_LIMITER_ON_STORE_ERROR":   s.LimiterOnStoreError,
		"SECURITY_VALIDATOR_ON_STORE_ERROR": s.ValidatorOnStoreError,
	} {
		if p != PolicyAllow && p != PolicyDeny {
			return fmt.Errorf("%s must be 'allow' or 'deny', got %q", name, p)
		}
	}
	if s.FeeMin > s.FeeMax {
		return fmt.Errorf("SECURITY_FEE_MIN %d exceeds SECURITY_FEE_MAX %d", s.FeeMin, s.FeeMax)
	}
	return nil
}

// AdminEnabled reports whether the operator surface should be mounted.
func (c *Config) AdminEnabled() bool {
	return c.GoogleClientID != ""
}

// KeyPrefix returns the API key prefix for the configured network.
func (c *Config) KeyPrefix() string {
	if c.Network == "mainnet" {
		return "fw_live_"
	}
	return "fw_test_"
}
