package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/arena-api/x402/types"
)

// ParseChainID extracts the chain ID from a CAIP-2 network tag
// ("eip155:<chainId>").
func ParseChainID(network string) (*big.Int, error) {
	if !strings.HasPrefix(network, "eip155:") {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	chainID, ok := new(big.Int).SetString(strings.TrimPrefix(network, "eip155:"), 10)
	if !ok {
		return nil, fmt.Errorf("invalid chain id in network tag: %s", network)
	}
	return chainID, nil
}

// CreateNonce generates a random 32-byte nonce as a 0x-hex string.
func CreateNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(nonce), nil
}

// NormalizeAddress lowercases an address and ensures the 0x prefix.
func NormalizeAddress(address string) string {
	return "0x" + strings.TrimPrefix(strings.ToLower(address), "0x")
}

// IsValidAddress checks if a string is a 20-byte hex Ethereum address.
func IsValidAddress(address string) bool {
	addr := strings.TrimPrefix(address, "0x")
	if len(addr) != 40 {
		return false
	}
	_, err := hex.DecodeString(addr)
	return err == nil
}

// HexToBytes converts a 0x-hex string to bytes.
func HexToBytes(hexStr string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
}

// FormatAmount renders an amount in the token's smallest unit as a decimal
// string for logs.
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	quotient, remainder := new(big.Int).DivMod(amount, divisor, new(big.Int))

	decStr := remainder.String()
	if len(decStr) < decimals {
		decStr = strings.Repeat("0", decimals-len(decStr)) + decStr
	}
	decStr = strings.TrimRight(decStr, "0")

	if decStr == "" {
		return quotient.String()
	}
	return quotient.String() + "." + decStr
}

// windowBig parses the authorization window as big integers for EIP-712
// message encoding.
func windowBig(auth types.ExactEIP3009Authorization) (validAfter, validBefore *big.Int, err error) {
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, nil, fmt.Errorf("invalid validAfter: %q", auth.ValidAfter)
	}
	validBefore, ok = new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, nil, fmt.Errorf("invalid validBefore: %q", auth.ValidBefore)
	}
	return validAfter, validBefore, nil
}

// NonceBytes32 decodes a 0x-hex nonce into a [32]byte for ABI calls.
func NonceBytes32(nonce string) ([32]byte, error) {
	var out [32]byte
	b, err := HexToBytes(nonce)
	if err != nil {
		return out, fmt.Errorf("invalid nonce: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("invalid nonce length: expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
