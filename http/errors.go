package http

import (
	"encoding/json"
	"net/http"

	x402 "github.com/arena-api/x402"
	"github.com/arena-api/x402/types"
)

// ErrorBody is the JSON envelope for every non-2xx answer the seller side
// produces. Reason carries the verify failure reason when there is one;
// Fields carries per-field validation results for malformed payloads;
// Accepts duplicates the 402 challenge for clients that cannot reach
// response headers.
type ErrorBody struct {
	Error   string                      `json:"error"`
	Code    string                      `json:"code"`
	Reason  string                      `json:"reason,omitempty"`
	Fields  []FieldViolation            `json:"fields,omitempty"`
	Accepts []types.PaymentRequirements `json:"accepts,omitempty"`
}

// FieldViolation is one schema violation on the wire.
type FieldViolation struct {
	Field  string `json:"field"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

func fieldViolations(errs []types.FieldError) []FieldViolation {
	out := make([]FieldViolation, 0, len(errs))
	for _, e := range errs {
		code := x402.CodeInvalidFormat
		if e.Missing {
			code = x402.CodeRequiredField
		}
		out = append(out, FieldViolation{Field: e.Field, Code: code, Detail: e.Detail})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already gone; an encode failure here has nowhere
	// to go but the connection.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, ErrorBody{Error: message, Code: code})
}

// MethodNotAllowed answers anything but the allowed methods with a 405.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, x402.CodeMethodNotAllowed, "method not allowed")
}

// ServiceUnavailable reports a dependency outage.
func ServiceUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, x402.CodeServiceUnavailable, message)
}
