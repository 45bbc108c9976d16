package model

// Tier is a service level determining rate limits and permitted operations.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// TierLimits are the base rate-limit parameters for a tier, before any
// threat-score adjustment.
type TierLimits struct {
	RequestsPerMinute int
	RequestsPerHour   int
	BurstCapacity     int
}

var tierLimits = map[Tier]TierLimits{
	TierFree:       {RequestsPerMinute: 60, RequestsPerHour: 1000, BurstCapacity: 10},
	TierPro:        {RequestsPerMinute: 300, RequestsPerHour: 10000, BurstCapacity: 50},
	TierEnterprise: {RequestsPerMinute: 1000, RequestsPerHour: 50000, BurstCapacity: 200},
}

var tierPermissions = map[Tier][]string{
	TierFree:       {"credit_score", "basic_validation"},
	TierPro:        {"credit_score", "transaction_validation", "threat_detection", "webhooks"},
	TierEnterprise: {"*"},
}

// LimitsForTier returns the base limits for a tier. Unknown tiers fall back
// to the free tier.
func LimitsForTier(t Tier) TierLimits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[TierFree]
}

// PermissionsForTier returns a copy of the permission list for a tier.
func PermissionsForTier(t Tier) []string {
	perms, ok := tierPermissions[t]
	if !ok {
		perms = tierPermissions[TierFree]
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// KnownTiers lists the supported tiers in ascending order of capability.
func KnownTiers() []Tier {
	return []Tier{TierFree, TierPro, TierEnterprise}
}

// ValidTier reports whether t names a supported tier.
func ValidTier(t Tier) bool {
	_, ok := tierLimits[t]
	return ok
}
