// Package algorand wraps the chain SDK touchpoints the firewall needs:
// address parsing and microAlgo formatting.
package algorand

import (
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/types"
)

// MicroAlgosPerAlgo is the number of microAlgos in one Algo.
const MicroAlgosPerAlgo uint64 = 1_000_000

// IsValidAddress reports whether addr is a well-formed Algorand address
// (58-character base32 with a valid checksum).
func IsValidAddress(addr string) bool {
	_, err := types.DecodeAddress(addr)
	return err == nil
}

// CanonicalAddress parses addr and re-encodes it in canonical form.
func CanonicalAddress(addr string) (string, error) {
	decoded, err := types.DecodeAddress(addr)
	if err != nil {
		return "", fmt.Errorf("decode address: %w", err)
	}
	return decoded.String(), nil
}

// FormatMicroAlgos renders a microAlgo amount as a decimal Algo string,
// e.g. 1_500_000 -> "1.5".
func FormatMicroAlgos(micro uint64) string {
	whole := micro / MicroAlgosPerAlgo
	frac := micro % MicroAlgosPerAlgo
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	s := fmt.Sprintf("%d.%06d", whole, frac)
	for s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	return s
}
