package service

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/algorand-firewall-service/internal/firewall"
	"github.com/algorand-firewall-service/internal/model"
	"github.com/algorand-firewall-service/internal/validation"
)

// KeyService handles API key business logic.
type KeyService struct {
	keys *firewall.KeyManager
}

// NewKeyService creates a new API key service.
func NewKeyService(keys *firewall.KeyManager) *KeyService {
	return &KeyService{keys: keys}
}

// IssueKeyInput contains the parameters for issuing a new API key.
type IssueKeyInput struct {
	WalletAddress string
	Tier          string
}

// Issue validates input and issues a key for a wallet. A wallet that already
// holds a key gets a rotation, not a second key. The raw token appears in the
// result and nowhere else.
func (s *KeyService) Issue(ctx context.Context, input IssueKeyInput) (*model.IssuedKey, error) {
	if err := validation.WalletAddress(input.WalletAddress); err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}
	tier := input.Tier
	if tier == "" {
		tier = string(model.TierFree)
	}
	if err := validation.Tier(tier); err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}

	issued, err := s.keys.Generate(ctx, input.WalletAddress, model.Tier(tier))
	if err != nil {
		log.Error().Err(err).Str("wallet", input.WalletAddress).Msg("failed to issue API key")
		return nil, NewInternal("internal_error", "Failed to issue API key")
	}
	return issued, nil
}

// WalletKey returns the key metadata owned by a wallet, never the raw token.
func (s *KeyService) WalletKey(ctx context.Context, address string) (*model.APIKey, error) {
	if err := validation.WalletAddress(address); err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}

	record, err := s.keys.GetByWallet(ctx, address)
	if err != nil {
		if errors.Is(err, firewall.ErrInvalidKey) {
			return nil, NewNotFound("not_found", "No API key issued for this wallet")
		}
		log.Error().Err(err).Str("wallet", address).Msg("failed to load wallet key")
		return nil, NewInternal("internal_error", "Failed to load API key")
	}
	return record, nil
}

// Usage returns the usage summary for an authenticated key.
func (s *KeyService) Usage(ctx context.Context, keyHash string) (*model.UsageStats, error) {
	stats, err := s.keys.UsageStats(ctx, keyHash)
	if err != nil {
		if errors.Is(err, firewall.ErrInvalidKey) {
			return nil, NewNotFound("not_found", "API key not found")
		}
		log.Error().Err(err).Msg("failed to load usage stats")
		return nil, NewInternal("internal_error", "Failed to load usage stats")
	}
	return stats, nil
}

// ListKeysResult contains one page of key records.
type ListKeysResult struct {
	Keys  []*model.APIKey
	Total int
}

// List returns key records newest first, sliced to the requested page.
func (s *KeyService) List(ctx context.Context, page, perPage int) (*ListKeysResult, error) {
	records, err := s.keys.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list API keys")
		return nil, NewInternal("internal_error", "Failed to list API keys")
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	total := len(records)
	start := (page - 1) * perPage
	if start >= total {
		return &ListKeysResult{Keys: []*model.APIKey{}, Total: total}, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return &ListKeysResult{Keys: records[start:end], Total: total}, nil
}

// Get returns one key record by its admin-facing id, allowlist included.
func (s *KeyService) Get(ctx context.Context, id uuid.UUID) (*model.APIKey, error) {
	record, err := s.keys.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, firewall.ErrInvalidKey) {
			return nil, NewNotFound("not_found", "API key not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to load API key")
		return nil, NewInternal("internal_error", "Failed to load API key")
	}
	return record, nil
}

// Suspend disables a key by operator action.
func (s *KeyService) Suspend(ctx context.Context, id uuid.UUID) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if record.Status == model.StatusRevoked {
		return NewBadRequest("invalid_status", "Cannot suspend a revoked API key")
	}

	if err := s.keys.Suspend(ctx, id); err != nil {
		log.Error().Err(err).Str("id", id.String()).Msg("failed to suspend API key")
		return NewInternal("internal_error", "Failed to suspend API key")
	}
	log.Info().Str("key_prefix", record.KeyPrefix).Msg("api key suspended by operator")
	return nil
}

// Reinstate reactivates a suspended key and clears its threat score.
// Revocation is permanent; a revoked key cannot come back.
func (s *KeyService) Reinstate(ctx context.Context, id uuid.UUID) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if record.Status == model.StatusRevoked {
		return NewBadRequest("invalid_status", "Cannot reinstate a revoked API key")
	}

	if err := s.keys.Reinstate(ctx, id); err != nil {
		log.Error().Err(err).Str("id", id.String()).Msg("failed to reinstate API key")
		return NewInternal("internal_error", "Failed to reinstate API key")
	}
	log.Info().Str("key_prefix", record.KeyPrefix).Msg("api key reinstated by operator")
	return nil
}

// Revoke permanently disables a key. The record stays for audit.
func (s *KeyService) Revoke(ctx context.Context, id uuid.UUID) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if record.Status == model.StatusRevoked {
		return NewBadRequest("invalid_status", "API key is already revoked")
	}

	if err := s.keys.Revoke(ctx, id); err != nil {
		log.Error().Err(err).Str("id", id.String()).Msg("failed to revoke API key")
		return NewInternal("internal_error", "Failed to revoke API key")
	}
	log.Info().Str("key_prefix", record.KeyPrefix).Msg("api key revoked by operator")
	return nil
}

// SetAllowlist replaces a key's IP allowlist. An empty list removes the
// restriction.
func (s *KeyService) SetAllowlist(ctx context.Context, id uuid.UUID, entries []string) error {
	if err := validation.IPAllowlist(entries); err != nil {
		return NewBadRequest("invalid_request", err.Error())
	}

	if err := s.keys.SetIPAllowlist(ctx, id, entries); err != nil {
		if errors.Is(err, firewall.ErrInvalidKey) {
			return NewNotFound("not_found", "API key not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to set API key allowlist")
		return NewInternal("internal_error", "Failed to update allowlist")
	}
	return nil
}
