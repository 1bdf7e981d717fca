package types

import (
	"github.com/xeipuuv/gojsonschema"
)

// paymentPayloadSchema is the structural contract for PAYMENT-SIGNATURE
// values. It guards field presence and formats only; semantic checks
// (signature recovery, balances, windows) belong to the facilitator.
const paymentPayloadSchema = `{
	"type": "object",
	"required": ["x402Version", "scheme", "network", "payload"],
	"properties": {
		"x402Version": {"type": "integer"},
		"scheme": {"type": "string", "minLength": 1},
		"network": {"type": "string", "pattern": "^[a-z0-9]+:[A-Za-z0-9]+$"},
		"payload": {
			"type": "object",
			"required": ["signature", "authorization"],
			"properties": {
				"signature": {"type": "string", "pattern": "^0x[0-9a-fA-F]{130}$"},
				"authorization": {
					"type": "object",
					"required": ["from", "to", "value", "validAfter", "validBefore", "nonce"],
					"properties": {
						"from": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
						"to": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
						"value": {"type": "string", "pattern": "^[0-9]+$"},
						"validAfter": {"type": "string", "pattern": "^[0-9]+$"},
						"validBefore": {"type": "string", "pattern": "^[0-9]+$"},
						"nonce": {"type": "string", "pattern": "^0x[0-9a-fA-F]{64}$"}
					}
				}
			}
		}
	}
}`

// FieldError is one schema violation, classified so HTTP layers can map it
// to a machine-readable code.
type FieldError struct {
	Field   string
	Missing bool
	Detail  string
}

// PayloadValidation is the outcome of ValidatePaymentPayload.
type PayloadValidation struct {
	Valid  bool
	Errors []FieldError
}

var payloadSchemaLoader = gojsonschema.NewStringLoader(paymentPayloadSchema)

// ValidatePaymentPayload checks raw payment payload JSON against the wire
// schema. A schema-engine failure is reported as a single non-missing error
// rather than an internal fault, keeping the caller's handling uniform.
func ValidatePaymentPayload(raw []byte) PayloadValidation {
	result, err := gojsonschema.Validate(payloadSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return PayloadValidation{
			Valid:  false,
			Errors: []FieldError{{Field: "(payload)", Detail: err.Error()}},
		}
	}
	if result.Valid() {
		return PayloadValidation{Valid: true}
	}
	var errs []FieldError
	for _, desc := range result.Errors() {
		errs = append(errs, FieldError{
			Field:   desc.Field(),
			Missing: desc.Type() == "required",
			Detail:  desc.Description(),
		})
	}
	return PayloadValidation{Valid: false, Errors: errs}
}
