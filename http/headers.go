package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/arena-api/x402/types"
)

// The three payment headers carry base64-encoded JSON. PAYMENT-REQUIRED is
// always a non-empty array of requirements, never a bare object, so clients
// can index entry 0 without sniffing.

// EncodeRequirements encodes the requirements list for PAYMENT-REQUIRED.
func EncodeRequirements(list []types.PaymentRequirements) (string, error) {
	if len(list) == 0 {
		return "", fmt.Errorf("requirements list is empty")
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to encode requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeRequirements decodes a PAYMENT-REQUIRED header value.
func DecodeRequirements(header string) ([]types.PaymentRequirements, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid PAYMENT-REQUIRED encoding: %w", err)
	}
	return types.DecodeRequirementsList(raw)
}

// EncodePayload encodes a signed payment payload for PAYMENT-SIGNATURE.
func EncodePayload(p types.PaymentPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayloadBytes decodes a PAYMENT-SIGNATURE header value to raw JSON,
// leaving schema validation and unmarshalling to the caller.
func DecodePayloadBytes(header string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid PAYMENT-SIGNATURE encoding: %w", err)
	}
	return raw, nil
}

// DecodePayload decodes and unmarshals a PAYMENT-SIGNATURE header value.
func DecodePayload(header string) (*types.PaymentPayload, error) {
	raw, err := DecodePayloadBytes(header)
	if err != nil {
		return nil, err
	}
	return types.DecodePaymentPayload(raw)
}

// EncodeSettlement encodes a settlement result for PAYMENT-RESPONSE.
func EncodeSettlement(r types.SettlementResult) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSettlement decodes a PAYMENT-RESPONSE header value.
func DecodeSettlement(header string) (*types.SettlementResult, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid PAYMENT-RESPONSE encoding: %w", err)
	}
	var result types.SettlementResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("invalid PAYMENT-RESPONSE body: %w", err)
	}
	return &result, nil
}
