package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/algorand-firewall-service/internal/firewall"
	"github.com/algorand-firewall-service/internal/model"
	"github.com/algorand-firewall-service/internal/validation"
)

const (
	defaultLookbackHours = 24
	maxLookbackHours     = 168
)

// SecurityService exposes the threat detector and transaction validator to
// the API surface.
type SecurityService struct {
	detector  *firewall.ThreatDetector
	validator *firewall.TxValidator
	keys      *firewall.KeyManager
	limiter   *firewall.RateLimiter
}

// NewSecurityService creates a new security service.
func NewSecurityService(detector *firewall.ThreatDetector, validator *firewall.TxValidator, keys *firewall.KeyManager, limiter *firewall.RateLimiter) *SecurityService {
	return &SecurityService{detector: detector, validator: validator, keys: keys, limiter: limiter}
}

// ValidateTransactionInput contains an explicitly submitted transaction.
type ValidateTransactionInput struct {
	WalletAddress string
	Transaction   *model.TransactionPayload
}

// ValidateTransactionResult pairs the validator's report with the detector's
// alerts for the same submission.
type ValidateTransactionResult struct {
	Report *model.ValidationReport
	Alerts []model.ThreatAlert
}

// ValidateTransaction runs the full detection and validation pipeline for a
// transaction submitted to the validation endpoint.
func (s *SecurityService) ValidateTransaction(ctx context.Context, sc *model.SecurityContext, input ValidateTransactionInput) (*ValidateTransactionResult, error) {
	if err := validation.WalletAddress(input.WalletAddress); err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}
	if input.Transaction == nil {
		return nil, NewBadRequest("invalid_request", "transaction is required")
	}

	alerts := s.detector.Analyze(ctx, sc, input.Transaction)
	report := s.validator.Validate(ctx, input.WalletAddress, input.Transaction, sc.KeyHash)
	return &ValidateTransactionResult{Report: report, Alerts: alerts}, nil
}

// ThreatSummary aggregates the key's retained alerts over a lookback window.
func (s *SecurityService) ThreatSummary(ctx context.Context, sc *model.SecurityContext, hours int) (*model.ThreatSummary, error) {
	summary, err := s.detector.Summary(ctx, sc.KeyHash, normalizeLookback(hours))
	if err != nil {
		log.Error().Err(err).Str("key_prefix", sc.KeyPrefix).Msg("failed to summarize threats")
		return nil, NewInternal("internal_error", "Failed to load threat summary")
	}
	return summary, nil
}

// WalletRisk aggregates the stored validation history for one wallet.
func (s *SecurityService) WalletRisk(ctx context.Context, address string) (*model.WalletRiskProfile, error) {
	if err := validation.WalletAddress(address); err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}

	profile, err := s.validator.WalletRiskProfile(ctx, address)
	if err != nil {
		log.Error().Err(err).Str("wallet", address).Msg("failed to build wallet risk profile")
		return nil, NewInternal("internal_error", "Failed to load wallet risk profile")
	}
	return profile, nil
}

// DashboardResult bundles usage, threat and rate-bucket state for one key.
type DashboardResult struct {
	Usage   *model.UsageStats
	Threats *model.ThreatSummary
	Bucket  *model.RateDecision
}

// Dashboard builds the combined view for the presented key. The bucket read
// is a peek; loading the dashboard never costs the caller a token.
func (s *SecurityService) Dashboard(ctx context.Context, sc *model.SecurityContext, hours int) (*DashboardResult, error) {
	usage, err := s.keys.UsageStats(ctx, sc.KeyHash)
	if err != nil {
		log.Error().Err(err).Str("key_prefix", sc.KeyPrefix).Msg("failed to load usage stats")
		return nil, NewInternal("internal_error", "Failed to load dashboard")
	}

	threats, err := s.detector.Summary(ctx, sc.KeyHash, normalizeLookback(hours))
	if err != nil {
		log.Error().Err(err).Str("key_prefix", sc.KeyPrefix).Msg("failed to summarize threats")
		return nil, NewInternal("internal_error", "Failed to load dashboard")
	}

	bucket, err := s.limiter.Status(ctx, model.LimitPerKey, sc.KeyHash, "", sc.Tier, sc.ThreatScore)
	if err != nil {
		log.Error().Err(err).Str("key_prefix", sc.KeyPrefix).Msg("failed to read rate bucket")
		return nil, NewInternal("internal_error", "Failed to load dashboard")
	}

	return &DashboardResult{Usage: usage, Threats: threats, Bucket: bucket}, nil
}

// SetAddressBlacklist replaces the shared address blacklist. Every entry must
// be a well-formed Algorand address; a malformed entry could never match an
// inbound sender and would sit in the set dead.
func (s *SecurityService) SetAddressBlacklist(ctx context.Context, addrs []string) error {
	for _, addr := range addrs {
		if err := validation.WalletAddress(addr); err != nil {
			return NewBadRequest("invalid_request", err.Error())
		}
	}

	if err := s.validator.BlacklistAddresses(ctx, addrs); err != nil {
		log.Error().Err(err).Msg("failed to store address blacklist")
		return NewInternal("internal_error", "Failed to update address blacklist")
	}
	log.Info().Int("entries", len(addrs)).Msg("address blacklist replaced")
	return nil
}

// AddressBlacklist lists the shared address blacklist.
func (s *SecurityService) AddressBlacklist(ctx context.Context) ([]string, error) {
	addrs, err := s.validator.BlacklistedAddresses(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load address blacklist")
		return nil, NewInternal("internal_error", "Failed to load address blacklist")
	}
	return addrs, nil
}

// SetContractBlacklist replaces the shared application-id blacklist.
func (s *SecurityService) SetContractBlacklist(ctx context.Context, appIDs []uint64) error {
	if err := s.validator.BlacklistContracts(ctx, appIDs); err != nil {
		log.Error().Err(err).Msg("failed to store contract blacklist")
		return NewInternal("internal_error", "Failed to update contract blacklist")
	}
	log.Info().Int("entries", len(appIDs)).Msg("contract blacklist replaced")
	return nil
}

// ContractBlacklist lists the shared application-id blacklist.
func (s *SecurityService) ContractBlacklist(ctx context.Context) ([]uint64, error) {
	appIDs, err := s.validator.BlacklistedContracts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load contract blacklist")
		return nil, NewInternal("internal_error", "Failed to load contract blacklist")
	}
	return appIDs, nil
}

func normalizeLookback(hours int) time.Duration {
	if hours <= 0 {
		hours = defaultLookbackHours
	}
	if hours > maxLookbackHours {
		hours = maxLookbackHours
	}
	return time.Duration(hours) * time.Hour
}
