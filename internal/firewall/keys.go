package firewall

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/algorand-firewall-service/internal/config"
	"github.com/algorand-firewall-service/internal/model"
	"github.com/algorand-firewall-service/internal/store"
)

// Sentinel errors for the validation path. Callers map all three to 401;
// they stay distinct for logging.
var (
	ErrInvalidKey   = errors.New("invalid api key")
	ErrKeyInactive  = errors.New("api key is not active")
	ErrIPNotAllowed = errors.New("client ip not in key allowlist")
)

const (
	rawKeyBytes      = 32
	rawKeyLength     = 72 // 8-char prefix + 64 hex chars
	displayPrefixLen = 12

	keyRecordNS   = "apikey:"
	walletIndexNS = "idx:wallet:"
	keyIDIndexNS  = "idx:keyid:"
	ipAllowlistNS = "allowlist:"
)

// KeyManager issues, validates and administers API keys over the KV store.
// Records are hashes keyed by the token's SHA-256; the raw token exists only
// in the issuance response.
type KeyManager struct {
	kv        store.KV
	sec       config.SecurityConfig
	keyPrefix string
	cache     *keyCache
	clock     clock
}

func NewKeyManager(kv store.KV, sec config.SecurityConfig, keyPrefix string, cache *keyCache) *KeyManager {
	return &KeyManager{
		kv:        kv,
		sec:       sec,
		keyPrefix: keyPrefix,
		cache:     cache,
		clock:     timeNowClock{},
	}
}

// NewKeyCache builds the optional L1 record cache for NewKeyManager.
func NewKeyCache(ttl time.Duration) (*keyCache, error) {
	return newKeyCache(ttl)
}

// Generate issues a key for a wallet. A wallet that already holds a key gets
// a rotation: the old record and its indexes are replaced, and the old token
// stops validating. The raw token is returned exactly once.
func (m *KeyManager) Generate(ctx context.Context, wallet string, tier model.Tier) (*model.IssuedKey, error) {
	var old *model.APIKey
	oldHash, err := m.kv.Get(ctx, walletIndexNS+wallet)
	switch {
	case err == nil:
		if old, err = m.loadRecord(ctx, oldHash); err != nil && !errors.Is(err, ErrInvalidKey) {
			return nil, err
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, fmt.Errorf("lookup wallet index: %w", err)
	}

	rawKey, err := m.generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	keyHash := sha256Hex(rawKey)
	now := m.clock.Now()

	record := &model.APIKey{
		ID:          uuid.New(),
		KeyHash:     keyHash,
		KeyPrefix:   rawKey[:displayPrefixLen] + "...",
		Wallet:      wallet,
		Tier:        tier,
		Status:      model.StatusActive,
		ThreatScore: 0,
		UsageCount:  0,
		CreatedAt:   now,
		LastUsedAt:  now,
	}

	if err := m.kv.HSet(ctx, keyRecordNS+keyHash, recordFields(record), 0); err != nil {
		return nil, fmt.Errorf("store key record: %w", err)
	}
	if err := m.kv.Set(ctx, walletIndexNS+wallet, keyHash, 0); err != nil {
		return nil, fmt.Errorf("store wallet index: %w", err)
	}
	if err := m.kv.Set(ctx, keyIDIndexNS+record.ID.String(), keyHash, 0); err != nil {
		return nil, fmt.Errorf("store id index: %w", err)
	}

	// The old token must stop validating the moment the new one exists.
	if old != nil {
		if err := m.kv.Del(ctx, keyRecordNS+old.KeyHash, keyIDIndexNS+old.ID.String(), ipAllowlistNS+old.KeyHash); err != nil {
			log.Error().Err(err).Str("wallet", wallet).Msg("failed to delete rotated key record")
		}
		m.cache.del(old.KeyHash)
		log.Info().Str("wallet", wallet).Str("old_prefix", old.KeyPrefix).Str("new_prefix", record.KeyPrefix).Msg("api key rotated")
	}

	return &model.IssuedKey{RawKey: rawKey, Record: record, Rotated: old != nil}, nil
}

// Validate authenticates a raw token and returns the request's security
// context. Format failures never touch the store.
func (m *KeyManager) Validate(ctx context.Context, rawKey, clientIP string) (*model.SecurityContext, error) {
	if len(rawKey) != rawKeyLength || !strings.HasPrefix(rawKey, m.keyPrefix) {
		return nil, ErrInvalidKey
	}
	keyHash := sha256Hex(rawKey)

	record, allowlist, err := m.loadForValidation(ctx, keyHash)
	if err != nil {
		return nil, err
	}

	if record.Status != model.StatusActive {
		return nil, fmt.Errorf("%w: status %s", ErrKeyInactive, record.Status)
	}
	if len(allowlist) > 0 && !ipAllowed(clientIP, allowlist) {
		return nil, fmt.Errorf("%w: %s", ErrIPNotAllowed, clientIP)
	}

	// The usage stamp must not fail the request; a missed count is a stats
	// blemish, a failed request is an outage.
	usage := record.UsageCount + 1
	if n, err := m.kv.HIncrBy(ctx, keyRecordNS+keyHash, "usage_count", 1); err != nil {
		log.Error().Err(err).Str("key_prefix", record.KeyPrefix).Msg("failed to count key usage")
	} else {
		usage = n
	}
	stamp := map[string]string{"last_used_at": m.clock.Now().Format(time.RFC3339Nano)}
	if err := m.kv.HSet(ctx, keyRecordNS+keyHash, stamp, 0); err != nil {
		log.Error().Err(err).Str("key_prefix", record.KeyPrefix).Msg("failed to stamp key usage")
	}

	return &model.SecurityContext{
		KeyID:       record.ID,
		KeyHash:     keyHash,
		KeyPrefix:   record.KeyPrefix,
		Wallet:      record.Wallet,
		Tier:        record.Tier,
		Permissions: model.PermissionsForTier(record.Tier),
		ThreatScore: record.ThreatScore,
		UsageCount:  usage,
		ClientIP:    clientIP,
	}, nil
}

func (m *KeyManager) loadForValidation(ctx context.Context, keyHash string) (*model.APIKey, []string, error) {
	if entry, ok := m.cache.get(keyHash); ok {
		record := entry.record
		return &record, entry.allowlist, nil
	}

	record, err := m.loadRecord(ctx, keyHash)
	if err != nil {
		return nil, nil, err
	}
	allowlist, err := m.kv.SMembers(ctx, ipAllowlistNS+keyHash)
	if err != nil {
		return nil, nil, fmt.Errorf("load key allowlist: %w", err)
	}

	m.cache.set(keyHash, &cachedKey{record: *record, allowlist: allowlist})
	return record, allowlist, nil
}

// UpdateThreatScore overwrites the stored score. Crossing the suspend
// threshold flips the key to suspended; two scorers racing both observe the
// crossing and both log, which is harmless.
func (m *KeyManager) UpdateThreatScore(ctx context.Context, keyHash string, score float64) error {
	record, err := m.loadRecord(ctx, keyHash)
	if err != nil {
		return err
	}
	return m.writeScore(ctx, record, score)
}

// RecordObservedRisk folds one request's observed risk into the stored score
// as an exponential moving average.
func (m *KeyManager) RecordObservedRisk(ctx context.Context, keyHash string, risk float64) error {
	record, err := m.loadRecord(ctx, keyHash)
	if err != nil {
		return err
	}
	score := m.sec.ScoreDecay*record.ThreatScore + (1-m.sec.ScoreDecay)*risk
	return m.writeScore(ctx, record, score)
}

func (m *KeyManager) writeScore(ctx context.Context, record *model.APIKey, score float64) error {
	fields := map[string]string{
		"threat_score": strconv.FormatFloat(score, 'f', -1, 64),
	}
	if score > m.sec.SuspendScore && record.Status == model.StatusActive {
		fields["status"] = string(model.StatusSuspended)
		log.Warn().
			Str("key_prefix", record.KeyPrefix).
			Str("wallet", record.Wallet).
			Float64("threat_score", score).
			Msg("threat score crossed suspend threshold, key suspended")
	}
	if err := m.kv.HSet(ctx, keyRecordNS+record.KeyHash, fields, 0); err != nil {
		return fmt.Errorf("store threat score: %w", err)
	}
	m.cache.del(record.KeyHash)
	return nil
}

// UsageStats summarizes a key for its holder.
func (m *KeyManager) UsageStats(ctx context.Context, keyHash string) (*model.UsageStats, error) {
	record, err := m.loadRecord(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	limits := model.LimitsForTier(record.Tier)
	return &model.UsageStats{
		KeyPrefix:       record.KeyPrefix,
		Wallet:          record.Wallet,
		Tier:            record.Tier,
		Status:          record.Status,
		UsageCount:      record.UsageCount,
		ThreatScore:     record.ThreatScore,
		CreatedAt:       record.CreatedAt,
		LastUsedAt:      record.LastUsedAt,
		HourlyAllowance: limits.RequestsPerHour,
	}, nil
}

// GetByWallet returns the key metadata owned by a wallet.
func (m *KeyManager) GetByWallet(ctx context.Context, wallet string) (*model.APIKey, error) {
	keyHash, err := m.kv.Get(ctx, walletIndexNS+wallet)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("lookup wallet index: %w", err)
	}
	return m.loadRecord(ctx, keyHash)
}

// GetByID returns the key metadata for an admin-facing key id.
func (m *KeyManager) GetByID(ctx context.Context, id uuid.UUID) (*model.APIKey, error) {
	keyHash, err := m.resolveID(ctx, id)
	if err != nil {
		return nil, err
	}
	record, err := m.loadRecord(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	allowlist, err := m.kv.SMembers(ctx, ipAllowlistNS+keyHash)
	if err != nil {
		return nil, fmt.Errorf("load key allowlist: %w", err)
	}
	record.IPAllowlist = allowlist
	return record, nil
}

// List returns every stored key record via a store scan. Admin-only; the
// scan cost is proportional to the number of issued keys.
func (m *KeyManager) List(ctx context.Context) ([]*model.APIKey, error) {
	keys, err := m.kv.Scan(ctx, keyRecordNS+"*")
	if err != nil {
		return nil, fmt.Errorf("scan key records: %w", err)
	}
	records := make([]*model.APIKey, 0, len(keys))
	for _, key := range keys {
		record, err := m.loadRecord(ctx, strings.TrimPrefix(key, keyRecordNS))
		if err != nil {
			if errors.Is(err, ErrInvalidKey) {
				continue // deleted between scan and load
			}
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// KeyCount reports how many key records exist, for health output.
func (m *KeyManager) KeyCount(ctx context.Context) (int, error) {
	keys, err := m.kv.Scan(ctx, keyRecordNS+"*")
	if err != nil {
		return 0, fmt.Errorf("scan key records: %w", err)
	}
	return len(keys), nil
}

// Suspend flips a key to suspended by operator action.
func (m *KeyManager) Suspend(ctx context.Context, id uuid.UUID) error {
	return m.setStatus(ctx, id, model.StatusSuspended, nil)
}

// Reinstate reactivates a suspended key and clears its threat score, so the
// next scorer starts from a clean slate instead of re-crossing the threshold.
func (m *KeyManager) Reinstate(ctx context.Context, id uuid.UUID) error {
	return m.setStatus(ctx, id, model.StatusActive, map[string]string{"threat_score": "0"})
}

// Revoke permanently disables a key. The record stays for audit; Generate
// replaces it if the wallet requests a new key.
func (m *KeyManager) Revoke(ctx context.Context, id uuid.UUID) error {
	return m.setStatus(ctx, id, model.StatusRevoked, nil)
}

func (m *KeyManager) setStatus(ctx context.Context, id uuid.UUID, status model.KeyStatus, extra map[string]string) error {
	keyHash, err := m.resolveID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := m.loadRecord(ctx, keyHash); err != nil {
		return err
	}
	fields := map[string]string{"status": string(status)}
	for k, v := range extra {
		fields[k] = v
	}
	if err := m.kv.HSet(ctx, keyRecordNS+keyHash, fields, 0); err != nil {
		return fmt.Errorf("store key status: %w", err)
	}
	m.cache.del(keyHash)
	return nil
}

// SetIPAllowlist replaces a key's allowlist. An empty list removes the
// restriction.
func (m *KeyManager) SetIPAllowlist(ctx context.Context, id uuid.UUID, entries []string) error {
	keyHash, err := m.resolveID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := m.loadRecord(ctx, keyHash); err != nil {
		return err
	}
	if err := m.kv.Del(ctx, ipAllowlistNS+keyHash); err != nil {
		return fmt.Errorf("clear key allowlist: %w", err)
	}
	if len(entries) > 0 {
		if err := m.kv.SAdd(ctx, ipAllowlistNS+keyHash, entries...); err != nil {
			return fmt.Errorf("store key allowlist: %w", err)
		}
	}
	m.cache.del(keyHash)
	return nil
}

func (m *KeyManager) resolveID(ctx context.Context, id uuid.UUID) (string, error) {
	keyHash, err := m.kv.Get(ctx, keyIDIndexNS+id.String())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidKey
		}
		return "", fmt.Errorf("lookup id index: %w", err)
	}
	return keyHash, nil
}

func (m *KeyManager) loadRecord(ctx context.Context, keyHash string) (*model.APIKey, error) {
	fields, err := m.kv.HGetAll(ctx, keyRecordNS+keyHash)
	if err != nil {
		return nil, fmt.Errorf("load key record: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrInvalidKey
	}
	return parseRecord(keyHash, fields)
}

func (m *KeyManager) generateToken() (string, error) {
	b := make([]byte, rawKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand failed: %w", err)
	}
	return m.keyPrefix + hex.EncodeToString(b), nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func recordFields(record *model.APIKey) map[string]string {
	return map[string]string{
		"id":           record.ID.String(),
		"key_prefix":   record.KeyPrefix,
		"wallet":       record.Wallet,
		"tier":         string(record.Tier),
		"status":       string(record.Status),
		"threat_score": strconv.FormatFloat(record.ThreatScore, 'f', -1, 64),
		"usage_count":  strconv.FormatInt(record.UsageCount, 10),
		"created_at":   record.CreatedAt.Format(time.RFC3339Nano),
		"last_used_at": record.LastUsedAt.Format(time.RFC3339Nano),
	}
}

func parseRecord(keyHash string, fields map[string]string) (*model.APIKey, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("parse key record id: %w", err)
	}
	threatScore, err := strconv.ParseFloat(fields["threat_score"], 64)
	if err != nil {
		return nil, fmt.Errorf("parse threat score: %w", err)
	}
	usageCount, err := strconv.ParseInt(fields["usage_count"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse usage count: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	lastUsedAt, err := time.Parse(time.RFC3339Nano, fields["last_used_at"])
	if err != nil {
		return nil, fmt.Errorf("parse last_used_at: %w", err)
	}
	return &model.APIKey{
		ID:          id,
		KeyHash:     keyHash,
		KeyPrefix:   fields["key_prefix"],
		Wallet:      fields["wallet"],
		Tier:        model.Tier(fields["tier"]),
		Status:      model.KeyStatus(fields["status"]),
		ThreatScore: threatScore,
		UsageCount:  usageCount,
		CreatedAt:   createdAt,
		LastUsedAt:  lastUsedAt,
	}, nil
}

// ipAllowed matches an IP against allowlist entries, which may be plain IPs
// or CIDR blocks.
func ipAllowed(clientIP string, entries []string) bool {
	ip := net.ParseIP(clientIP)
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			_, block, err := net.ParseCIDR(entry)
			if err == nil && ip != nil && block.Contains(ip) {
				return true
			}
			continue
		}
		if entry == clientIP {
			return true
		}
	}
	return false
}
