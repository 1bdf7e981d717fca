package x402

// Version constants
const (
	// Version is the library version
	Version = "2.0.0"

	// ProtocolVersion is the x402 protocol version spoken on the wire
	ProtocolVersion = 2
)

// Network is a CAIP-2 network tag, e.g. "eip155:1030"
type Network string

// Wire headers. PAYMENT-REQUIRED and PAYMENT-RESPONSE carry base64-encoded
// JSON on responses; PAYMENT-SIGNATURE carries the signed payload on requests.
const (
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"

	// Informational copies for clients that cannot read non-X headers
	HeaderXPaymentRequired  = "X-Payment-Required"
	HeaderXPaymentSignature = "X-Payment-Signature"
	HeaderXPaymentResponse  = "X-Payment-Response"
)

// Facilitator auth headers. Either one may carry the shared secret.
const (
	HeaderAPIKey         = "X-API-Key"
	HeaderFacilitatorKey = "X-Facilitator-Key"
)

// Machine-readable error codes emitted by the payment gate and the seller
// surface around it.
const (
	CodePaymentRequired    = "X402_PAYMENT_REQUIRED"
	CodeInvalidPayload     = "X402_INVALID_PAYLOAD"
	CodeVerifyFailed       = "X402_VERIFY_FAILED"
	CodeSettleFailed       = "X402_SETTLE_FAILED"
	CodeServiceUnavailable = "SRV_SERVICE_UNAVAILABLE"
	CodeMethodNotAllowed   = "OP_METHOD_NOT_ALLOWED"
	CodeRequiredField      = "VAL_REQUIRED_FIELD"
	CodeInvalidFormat      = "VAL_INVALID_FORMAT"
	CodeRateLimit          = "OP_RATE_LIMIT"
)
