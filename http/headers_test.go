package http

import (
	"encoding/base64"
	"strings"
	"testing"

	x402 "github.com/arena-api/x402"
	"github.com/arena-api/x402/types"
)

func sampleRequirements() []types.PaymentRequirements {
	return []types.PaymentRequirements{
		{
			Scheme:            "exact",
			Network:           "eip155:1030",
			Asset:             "0xaf375c94a898bcc5c7a833b1e40d2e5a2e7a47ff",
			PayTo:             "0x1111111111111111111111111111111111111111",
			Amount:            "10000",
			MaxTimeoutSeconds: 300,
			Extra: types.RequirementsExtra{
				SettlementMode: types.ModeTransfer,
				Name:           "USDT0",
				Version:        "1",
			},
		},
		{
			Scheme:  "exact",
			Network: "eip155:1030",
			Asset:   "0xaf375c94a898bcc5c7a833b1e40d2e5a2e7a47ff",
			PayTo:   "0x2222222222222222222222222222222222222222",
			Amount:  "10000",
			Extra: types.RequirementsExtra{
				AssetTransferMethod: types.AssetTransferMethodEIP3009,
			},
		},
	}
}

func TestRequirementsRoundTrip(t *testing.T) {
	encoded, err := EncodeRequirements(sampleRequirements())
	if err != nil {
		t.Fatalf("EncodeRequirements() error = %v", err)
	}

	// base64 of a JSON array always starts with '[' encoded.
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("Header is not valid base64: %v", err)
	}
	if !strings.HasPrefix(string(raw), "[") {
		t.Errorf("PAYMENT-REQUIRED must carry a JSON array, got %s", raw[:1])
	}

	decoded, err := DecodeRequirements(encoded)
	if err != nil {
		t.Fatalf("DecodeRequirements() error = %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("Expected 2 requirements, got %d", len(decoded))
	}
	if decoded[0].PayTo != "0x1111111111111111111111111111111111111111" {
		t.Errorf("PayTo = %s", decoded[0].PayTo)
	}
	if decoded[0].Mode() != types.ModeTransfer {
		t.Errorf("Mode() = %q, want transfer", decoded[0].Mode())
	}
	if decoded[1].Mode() != types.ModeEscrow {
		t.Errorf("Mode() = %q, want escrow", decoded[1].Mode())
	}
}

func TestEncodeRequirementsRejectsEmpty(t *testing.T) {
	if _, err := EncodeRequirements(nil); err == nil {
		t.Error("Expected error for empty requirements list")
	}
}

func TestDecodeRequirementsRejectsGarbage(t *testing.T) {
	if _, err := DecodeRequirements("not base64!!!"); err == nil {
		t.Error("Expected error for invalid base64")
	}

	// Valid base64, but a bare object instead of an array.
	object := base64.StdEncoding.EncodeToString([]byte(`{"scheme":"exact"}`))
	if _, err := DecodeRequirements(object); err == nil {
		t.Error("Expected error for bare-object requirements")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	payload := types.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Scheme:      "exact",
		Network:     "eip155:1030",
		Payload: types.ExactPayload{
			Signature: "0x" + strings.Repeat("ab", 65),
			Authorization: types.ExactEIP3009Authorization{
				From:        "0x14791697260E4c9A71f18484C9f997B308e59325",
				To:          "0x1111111111111111111111111111111111111111",
				Value:       "10000",
				ValidAfter:  "0",
				ValidBefore: "1700000000",
				Nonce:       "0x" + strings.Repeat("01", 32),
			},
		},
	}

	encoded, err := EncodePayload(payload)
	if err != nil {
		t.Fatalf("EncodePayload() error = %v", err)
	}

	decoded, err := DecodePayload(encoded)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if decoded.X402Version != x402.ProtocolVersion {
		t.Errorf("X402Version = %d", decoded.X402Version)
	}
	if decoded.Payload.Authorization.From != payload.Payload.Authorization.From {
		t.Errorf("From = %s", decoded.Payload.Authorization.From)
	}
	if decoded.Payload.Signature != payload.Payload.Signature {
		t.Errorf("Signature mangled in transit")
	}

	// DecodePayloadBytes hands back the raw JSON untouched.
	raw, err := DecodePayloadBytes(encoded)
	if err != nil {
		t.Fatalf("DecodePayloadBytes() error = %v", err)
	}
	if !strings.Contains(string(raw), `"x402Version":2`) {
		t.Errorf("Raw payload missing version field: %s", raw)
	}
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	if _, err := DecodePayload("%%%"); err == nil {
		t.Error("Expected error for invalid base64")
	}
	notJSON := base64.StdEncoding.EncodeToString([]byte("hello"))
	if _, err := DecodePayload(notJSON); err == nil {
		t.Error("Expected error for non-JSON payload")
	}
}

func TestSettlementRoundTrip(t *testing.T) {
	result := types.SettlementResult{
		Success:     true,
		Transaction: "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
		Payer:       "0x14791697260E4c9A71f18484C9f997B308e59325",
		Scheme:      "exact",
		Network:     "eip155:1030",
		X402Version: x402.ProtocolVersion,
	}

	encoded, err := EncodeSettlement(result)
	if err != nil {
		t.Fatalf("EncodeSettlement() error = %v", err)
	}

	decoded, err := DecodeSettlement(encoded)
	if err != nil {
		t.Fatalf("DecodeSettlement() error = %v", err)
	}
	if !decoded.Success {
		t.Error("Success lost in transit")
	}
	if decoded.Transaction != result.Transaction {
		t.Errorf("Transaction = %s", decoded.Transaction)
	}
	if decoded.Network != "eip155:1030" {
		t.Errorf("Network = %s", decoded.Network)
	}
}

func TestDecodeSettlementRejectsGarbage(t *testing.T) {
	if _, err := DecodeSettlement("!!!"); err == nil {
		t.Error("Expected error for invalid base64")
	}
	notJSON := base64.StdEncoding.EncodeToString([]byte(";;"))
	if _, err := DecodeSettlement(notJSON); err == nil {
		t.Error("Expected error for non-JSON settlement")
	}
}
