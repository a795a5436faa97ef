package bridge

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rail-service/bridge_core/pkg/crypto"
)

// BuildVerificationHash binds a transfer's identity to its cross-chain
// correlation key. Inputs are length-prefixed so that field boundaries cannot
// be shifted between addresses. The timestamp is normalised to UTC; transfers
// record it at microsecond precision so the value read back from storage
// reproduces the hash.
func BuildVerificationHash(sourceAddress, destinationAddress string, amount decimal.Decimal, createdAt time.Time) string {
	fields := []string{
		sourceAddress,
		destinationAddress,
		amount.String(),
		createdAt.UTC().Format(time.RFC3339Nano),
	}

	parts := make([][]byte, 0, len(fields)*2)
	for _, f := range fields {
		parts = append(parts, lengthPrefix(len(f)), []byte(f))
	}
	return crypto.EncodeHex(crypto.Keccak256(parts...))
}

func lengthPrefix(n int) []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}
