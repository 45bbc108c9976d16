package validation

import (
	"fmt"
	"net"
	"strings"

	"github.com/algorand-firewall-service/internal/algorand"
	"github.com/algorand-firewall-service/internal/model"
)

// Tier validates a subscription tier name.
func Tier(tier string) error {
	if tier == "" {
		return fmt.Errorf("tier cannot be empty")
	}
	if !model.ValidTier(model.Tier(tier)) {
		known := model.KnownTiers()
		names := make([]string, len(known))
		for i, t := range known {
			names[i] = string(t)
		}
		return fmt.Errorf("tier %q is not supported (use one of: %s)", tier, strings.Join(names, ", "))
	}
	return nil
}

// WalletAddress validates an Algorand account address.
func WalletAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("wallet_address cannot be empty")
	}
	if !algorand.IsValidAddress(addr) {
		return fmt.Errorf("invalid wallet address %q", addr)
	}
	return nil
}

// IPAllowlist validates that every entry is an IP address or CIDR block and
// that there are no duplicates.
func IPAllowlist(entries []string) error {
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if _, exists := seen[entry]; exists {
			return fmt.Errorf("duplicate allowlist entry %q", entry)
		}
		seen[entry] = struct{}{}

		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return fmt.Errorf("invalid CIDR block %q", entry)
			}
			continue
		}
		if net.ParseIP(entry) == nil {
			return fmt.Errorf("invalid IP address %q", entry)
		}
	}
	return nil
}
