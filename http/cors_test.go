package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	x402 "github.com/arena-api/x402"
)

func TestCORSExposesPaymentHeaders(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/paid", nil)
	req.Header.Set("Origin", "https://buyer.example")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://buyer.example" {
		t.Errorf("Allow-Origin = %q", got)
	}

	exposed := recorder.Header().Get("Access-Control-Expose-Headers")
	for _, header := range []string{x402.HeaderPaymentRequired, x402.HeaderPaymentResponse, x402.HeaderPaymentSignature} {
		if !strings.Contains(exposed, header) {
			t.Errorf("Expose-Headers missing %s: %q", header, exposed)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/paid", nil)
	req.Header.Set("Origin", "https://buyer.example")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("Status = %d, want 204", recorder.Code)
	}
	if called {
		t.Error("Preflight must not reach the wrapped handler")
	}
	if !strings.Contains(recorder.Header().Get("Access-Control-Allow-Headers"), x402.HeaderPaymentSignature) {
		t.Error("Preflight must allow the payment signature header")
	}
}

func TestCORSNoOriginPassesThrough(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/paid", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d", recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("No CORS headers expected without an Origin")
	}
}
