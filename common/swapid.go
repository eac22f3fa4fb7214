package common

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// SwapId is a 32-byte opaque identifier for a swap, derived by the wallet
// boundary from the public offer it was negotiated from.
type SwapId [32]byte

// EmptySwapId is the zero value, never a valid swap id.
var EmptySwapId = SwapId{}

// String renders the swap id as a 0x-prefixed hex string.
func (s SwapId) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// IsZero reports whether s is the empty swap id.
func (s SwapId) IsZero() bool {
	return s == EmptySwapId
}

// HexToSwapId decodes a hex-encoded (optionally 0x-prefixed) string into a
// SwapId.
func HexToSwapId(s string) (SwapId, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return EmptySwapId, fmt.Errorf("invalid swap id hex: %w", err)
	}

	if len(b) != len(SwapId{}) {
		return EmptySwapId, fmt.Errorf("invalid swap id length=%d, want %d", len(b), len(SwapId{}))
	}

	var id SwapId
	copy(id[:], b)
	return id, nil
}
