package evm

import (
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
)

// encodeErrorString builds the solidity Error(string) revert blob.
func encodeErrorString(t *testing.T, msg string) []byte {
	t.Helper()
	selector, err := hex.DecodeString(errorStringSelector)
	if err != nil {
		t.Fatalf("bad selector: %v", err)
	}

	word := func(n int) []byte {
		w := make([]byte, 32)
		w[31] = byte(n)
		return w
	}

	padded := make([]byte, (len(msg)+31)/32*32)
	copy(padded, msg)

	data := append([]byte{}, selector...)
	data = append(data, word(32)...)
	data = append(data, word(len(msg))...)
	data = append(data, padded...)
	return data
}

func TestDecodeRevert(t *testing.T) {
	t.Run("abi-encoded Error(string)", func(t *testing.T) {
		revert := DecodeRevert(encodeErrorString(t, "Nonce already used"), "")
		if revert.Reason != "Nonce already used" {
			t.Errorf("Reason = %q, want %q", revert.Reason, "Nonce already used")
		}
	})

	t.Run("raw ascii payload", func(t *testing.T) {
		revert := DecodeRevert([]byte("transfer amount exceeds balance"), "")
		if revert.Reason != "transfer amount exceeds balance" {
			t.Errorf("Reason = %q", revert.Reason)
		}
	})

	t.Run("empty data uses fallback", func(t *testing.T) {
		revert := DecodeRevert(nil, "settlement reverted")
		if revert.Reason != "settlement reverted" {
			t.Errorf("Reason = %q, want fallback", revert.Reason)
		}
	})

	t.Run("empty data and empty fallback", func(t *testing.T) {
		revert := DecodeRevert(nil, "")
		if revert.Reason != "execution reverted" {
			t.Errorf("Reason = %q", revert.Reason)
		}
	})

	t.Run("binary garbage uses fallback", func(t *testing.T) {
		revert := DecodeRevert([]byte{0x00, 0x01, 0xff}, "opaque failure")
		if revert.Reason != "opaque failure" {
			t.Errorf("Reason = %q", revert.Reason)
		}
	})

	t.Run("truncated Error(string) is not decoded", func(t *testing.T) {
		data := encodeErrorString(t, "truncated")[:40]
		revert := DecodeRevert(data, "fallback")
		if revert.Reason == "truncated" {
			t.Error("Truncated blob must not decode to the message")
		}
	})
}

func TestRevertErrorAs(t *testing.T) {
	wrapped := fmt.Errorf("static call failed: %w", &RevertError{Reason: "Order already settled"})

	var revert *RevertError
	if !errors.As(wrapped, &revert) {
		t.Fatal("errors.As should find the RevertError")
	}
	if revert.Reason != "Order already settled" {
		t.Errorf("Reason = %q", revert.Reason)
	}
	if revert.Error() != "execution reverted: Order already settled" {
		t.Errorf("Error() = %q", revert.Error())
	}
}
