package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// RevertError is an EVM execution revert with its decoded reason, as opposed
// to a transport or node failure. Callers that need to tell the two apart
// use errors.As.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("execution reverted: %s", e.Reason)
}

// errorStringSelector is the 4-byte selector of Error(string).
const errorStringSelector = "08c379a0"

// DecodeRevert turns raw revert data from eth_call into a RevertError.
// Handles the solidity Error(string) encoding and raw ASCII payloads; data
// that decodes to nothing yields a RevertError with the fallback message.
func DecodeRevert(data []byte, fallback string) *RevertError {
	if reason, ok := decodeErrorString(data); ok {
		return &RevertError{Reason: reason}
	}
	if len(data) > 0 && isPrintable(data) {
		return &RevertError{Reason: string(data)}
	}
	if fallback == "" {
		fallback = "execution reverted"
	}
	return &RevertError{Reason: fallback}
}

// decodeErrorString unpacks abi-encoded Error(string) revert data.
func decodeErrorString(data []byte) (string, bool) {
	if len(data) < 4+32+32 {
		return "", false
	}
	if hex.EncodeToString(data[:4]) != errorStringSelector {
		return "", false
	}
	body := data[4:]
	// offset word, then length word, then the string bytes
	length := new(big.Int).SetBytes(body[32:64]).Int64()
	if length < 0 || 64+length > int64(len(body)) {
		return "", false
	}
	return string(body[64 : 64+length]), true
}

func isPrintable(data []byte) bool {
	for _, b := range data {
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return len(strings.TrimSpace(string(data))) > 0
}
