package types

import (
	"encoding/json"
	"fmt"
)

// DetectVersion extracts x402Version from JSON bytes without committing to
// a full decode. Used by HTTP surfaces to reject foreign protocol versions
// before any signature work happens.
func DetectVersion(data []byte) (int, error) {
	var detector struct {
		X402Version int `json:"x402Version"`
	}
	if err := json.Unmarshal(data, &detector); err != nil {
		return 0, fmt.Errorf("failed to detect version: %w", err)
	}
	if detector.X402Version < 1 {
		return 0, fmt.Errorf("invalid version: %d", detector.X402Version)
	}
	return detector.X402Version, nil
}

// DecodeRequirementsList parses a PAYMENT-REQUIRED value. The wire format is
// a JSON array of requirement objects; a bare object is rejected so clients
// never have to guess the shape.
func DecodeRequirementsList(data []byte) ([]PaymentRequirements, error) {
	var list []PaymentRequirements
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("requirements must be a JSON array: %w", err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("requirements array is empty")
	}
	return list, nil
}

// DecodePaymentPayload parses a PAYMENT-SIGNATURE value after base64
// decoding.
func DecodePaymentPayload(data []byte) (*PaymentPayload, error) {
	var payload PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse payment payload: %w", err)
	}
	return &payload, nil
}
