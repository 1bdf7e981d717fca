package http

import (
	"net/http"
	"strings"

	x402 "github.com/arena-api/x402"
)

var (
	corsExposedHeaders = strings.Join([]string{
		x402.HeaderPaymentRequired,
		x402.HeaderPaymentResponse,
		x402.HeaderPaymentSignature,
		x402.HeaderXPaymentRequired,
		x402.HeaderXPaymentResponse,
		x402.HeaderXPaymentSignature,
	}, ", ")

	corsAllowedHeaders = strings.Join([]string{
		"Content-Type",
		"Authorization",
		x402.HeaderPaymentSignature,
		x402.HeaderXPaymentSignature,
	}, ", ")
)

// CORS opens the payment headers to browser buyers. Without the expose list
// a browser client can complete a payment but never read the challenge or
// the settlement receipt.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Expose-Headers", corsExposedHeaders)
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
