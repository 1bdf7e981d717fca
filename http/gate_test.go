package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	x402 "github.com/arena-api/x402"
	"github.com/arena-api/x402/paylog"
	"github.com/arena-api/x402/types"
)

const gateMockTxHash = "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"

// stubFacilitator implements Facilitator in-process so gate tests never
// need a server or a chain.
type stubFacilitator struct {
	verifyResult *types.VerifyResult
	verifyErr    error
	settleResult *types.SettlementResult
	settleErr    error

	verifyCalls    int
	settleCalls    int
	lastVerifyMode string
	lastSettleMode string
}

func (s *stubFacilitator) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements, mode string) (*types.VerifyResult, error) {
	s.verifyCalls++
	s.lastVerifyMode = mode
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	if s.verifyResult != nil {
		return s.verifyResult, nil
	}
	return &types.VerifyResult{Valid: true, Payer: payload.Payload.Authorization.From}, nil
}

func (s *stubFacilitator) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements, mode string) (*types.SettlementResult, error) {
	s.settleCalls++
	s.lastSettleMode = mode
	if s.settleErr != nil {
		return nil, s.settleErr
	}
	if s.settleResult != nil {
		return s.settleResult, nil
	}
	return &types.SettlementResult{
		Success:     true,
		Transaction: gateMockTxHash,
		Payer:       payload.Payload.Authorization.From,
		Scheme:      payload.Scheme,
		Network:     payload.Network,
		X402Version: x402.ProtocolVersion,
	}, nil
}

type failingStore struct{}

func (failingStore) Record(ctx context.Context, s paylog.Settlement) error {
	return errors.New("store is down")
}

func (failingStore) Recent(ctx context.Context, limit int) ([]paylog.Settlement, error) {
	return nil, nil
}

// gatePayload builds a schema-valid payload paying the given destination.
// The signature is well-formed but not recoverable; the stub facilitator
// never checks it.
func gatePayload(to string) types.PaymentPayload {
	return types.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Scheme:      "exact",
		Network:     "eip155:1030",
		Payload: types.ExactPayload{
			Signature: "0x" + strings.Repeat("ab", 65),
			Authorization: types.ExactEIP3009Authorization{
				From:        "0x14791697260E4c9A71f18484C9f997B308e59325",
				To:          to,
				Value:       "10000",
				ValidAfter:  "0",
				ValidBefore: "9999999999",
				Nonce:       "0x" + strings.Repeat("01", 32),
			},
		},
	}
}

func newTestGate(t *testing.T, facilitator Facilitator, store paylog.Store) *PaymentGate {
	t.Helper()
	gate, err := NewPaymentGate(GateConfig{
		Facilitator:  facilitator,
		Requirements: sampleRequirements(),
		Store:        store,
	})
	if err != nil {
		t.Fatalf("NewPaymentGate() error = %v", err)
	}
	return gate
}

func serveGate(gate *PaymentGate, req *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":"paid content"}`))
	}))
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeErrorBody(t *testing.T, recorder *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("Response body is not an error envelope: %v\n%s", err, recorder.Body.String())
	}
	return body
}

func paidRequest(payload types.PaymentPayload) *http.Request {
	encoded, _ := EncodePayload(payload)
	req := httptest.NewRequest(http.MethodGet, "/api/paid", nil)
	req.Header.Set(x402.HeaderPaymentSignature, encoded)
	return req
}

func TestNewPaymentGateValidation(t *testing.T) {
	facilitator := &stubFacilitator{}

	if _, err := NewPaymentGate(GateConfig{Requirements: sampleRequirements()}); err == nil {
		t.Error("Expected error without a facilitator")
	}
	if _, err := NewPaymentGate(GateConfig{Facilitator: facilitator}); err == nil {
		t.Error("Expected error without requirements")
	}

	noMode := sampleRequirements()
	noMode[0].Extra = types.RequirementsExtra{}
	if _, err := NewPaymentGate(GateConfig{Facilitator: facilitator, Requirements: noMode}); err == nil {
		t.Error("Expected error for a requirements entry with no settlement mode")
	}
}

func TestGateChallenge(t *testing.T) {
	gate := newTestGate(t, &stubFacilitator{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/paid", nil)
	recorder := serveGate(gate, req)

	if recorder.Code != http.StatusPaymentRequired {
		t.Fatalf("Status = %d, want 402", recorder.Code)
	}

	header := recorder.Header().Get(x402.HeaderPaymentRequired)
	if header == "" {
		t.Fatal("PAYMENT-REQUIRED header missing")
	}
	if recorder.Header().Get(x402.HeaderXPaymentRequired) != header {
		t.Error("X-Payment-Required must mirror PAYMENT-REQUIRED")
	}

	accepts, err := DecodeRequirements(header)
	if err != nil {
		t.Fatalf("Challenge header does not decode: %v", err)
	}
	if len(accepts) != 2 {
		t.Errorf("Expected 2 challenge entries, got %d", len(accepts))
	}

	body := decodeErrorBody(t, recorder)
	if body.Code != x402.CodePaymentRequired {
		t.Errorf("Code = %s", body.Code)
	}
	if len(body.Accepts) != 2 {
		t.Errorf("Body accepts = %d entries, want 2", len(body.Accepts))
	}
}

func TestGateRejectsMalformedHeader(t *testing.T) {
	gate := newTestGate(t, &stubFacilitator{}, nil)

	t.Run("not base64", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/paid", nil)
		req.Header.Set(x402.HeaderPaymentSignature, "!!!not-base64!!!")
		recorder := serveGate(gate, req)

		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("Status = %d, want 400", recorder.Code)
		}
		if body := decodeErrorBody(t, recorder); body.Code != x402.CodeInvalidPayload {
			t.Errorf("Code = %s", body.Code)
		}
	})

	t.Run("schema violation reports fields", func(t *testing.T) {
		payload := gatePayload("0x1111111111111111111111111111111111111111")
		payload.Payload.Signature = "0xdeadbeef"
		raw, _ := json.Marshal(payload)

		req := httptest.NewRequest(http.MethodGet, "/api/paid", nil)
		req.Header.Set(x402.HeaderPaymentSignature, base64.StdEncoding.EncodeToString(raw))
		recorder := serveGate(gate, req)

		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("Status = %d, want 400", recorder.Code)
		}
		body := decodeErrorBody(t, recorder)
		if body.Code != x402.CodeInvalidPayload {
			t.Errorf("Code = %s", body.Code)
		}
		if len(body.Fields) == 0 {
			t.Fatal("Expected field violations in the response")
		}
	})
}

func TestGateVerifyUnavailable(t *testing.T) {
	facilitator := &stubFacilitator{verifyErr: errors.New("facilitator unreachable")}
	gate := newTestGate(t, facilitator, nil)

	recorder := serveGate(gate, paidRequest(gatePayload("0x1111111111111111111111111111111111111111")))

	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("Status = %d, want 503", recorder.Code)
	}
	if body := decodeErrorBody(t, recorder); body.Code != x402.CodeServiceUnavailable {
		t.Errorf("Code = %s", body.Code)
	}
	if facilitator.settleCalls != 0 {
		t.Error("Settle must not run when verify is unavailable")
	}
}

func TestGateVerifyRejected(t *testing.T) {
	facilitator := &stubFacilitator{
		verifyResult: &types.VerifyResult{Valid: false, Reason: "authorization expired"},
	}
	gate := newTestGate(t, facilitator, nil)

	recorder := serveGate(gate, paidRequest(gatePayload("0x1111111111111111111111111111111111111111")))

	if recorder.Code != http.StatusPaymentRequired {
		t.Fatalf("Status = %d, want 402", recorder.Code)
	}
	body := decodeErrorBody(t, recorder)
	if body.Code != x402.CodeVerifyFailed {
		t.Errorf("Code = %s", body.Code)
	}
	if body.Reason != "authorization expired" {
		t.Errorf("Reason = %q", body.Reason)
	}
	// The rejection re-issues the challenge so the buyer can retry.
	if recorder.Header().Get(x402.HeaderPaymentRequired) == "" {
		t.Error("Rejection must carry the challenge header")
	}
	if facilitator.settleCalls != 0 {
		t.Error("Settle must not run for an invalid payment")
	}
}

func TestGateSettleFailures(t *testing.T) {
	t.Run("transport error", func(t *testing.T) {
		facilitator := &stubFacilitator{settleErr: errors.New("facilitator unreachable")}
		gate := newTestGate(t, facilitator, nil)

		recorder := serveGate(gate, paidRequest(gatePayload("0x1111111111111111111111111111111111111111")))

		if recorder.Code != http.StatusInternalServerError {
			t.Fatalf("Status = %d, want 500", recorder.Code)
		}
		if body := decodeErrorBody(t, recorder); body.Code != x402.CodeSettleFailed {
			t.Errorf("Code = %s", body.Code)
		}
		if facilitator.settleCalls != 1 {
			t.Errorf("Settle attempts = %d, want exactly 1", facilitator.settleCalls)
		}
	})

	t.Run("reverted on chain", func(t *testing.T) {
		facilitator := &stubFacilitator{
			settleResult: &types.SettlementResult{
				Success: false,
				Error:   "execution reverted: Nonce already used",
			},
		}
		gate := newTestGate(t, facilitator, nil)

		recorder := serveGate(gate, paidRequest(gatePayload("0x1111111111111111111111111111111111111111")))

		if recorder.Code != http.StatusInternalServerError {
			t.Fatalf("Status = %d, want 500", recorder.Code)
		}
		body := decodeErrorBody(t, recorder)
		if body.Code != x402.CodeSettleFailed {
			t.Errorf("Code = %s", body.Code)
		}
		if body.Reason != "execution reverted: Nonce already used" {
			t.Errorf("Reason = %q", body.Reason)
		}
	})
}

func TestGatePaidRequest(t *testing.T) {
	facilitator := &stubFacilitator{}
	store := paylog.NewMemoryStore()
	gate := newTestGate(t, facilitator, store)

	var fromContext *types.SettlementResult
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromContext, _ = SettlementFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":"paid content"}`))
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, paidRequest(gatePayload("0x1111111111111111111111111111111111111111")))

	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200\n%s", recorder.Code, recorder.Body.String())
	}
	if !strings.Contains(recorder.Body.String(), "paid content") {
		t.Error("Wrapped handler did not run")
	}

	if facilitator.lastVerifyMode != types.ModeTransfer || facilitator.lastSettleMode != types.ModeTransfer {
		t.Errorf("Modes = %s/%s, want transfer/transfer", facilitator.lastVerifyMode, facilitator.lastSettleMode)
	}

	header := recorder.Header().Get(x402.HeaderPaymentResponse)
	if header == "" {
		t.Fatal("PAYMENT-RESPONSE header missing")
	}
	settlement, err := DecodeSettlement(header)
	if err != nil {
		t.Fatalf("PAYMENT-RESPONSE does not decode: %v", err)
	}
	if !settlement.Success || settlement.Transaction != gateMockTxHash {
		t.Errorf("Unexpected settlement %+v", settlement)
	}

	if fromContext == nil {
		t.Fatal("Settlement missing from request context")
	}
	if fromContext.Transaction != gateMockTxHash {
		t.Errorf("Context transaction = %s", fromContext.Transaction)
	}

	recent, err := store.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 1 {
		t.Fatal("Expected one recorded settlement")
	}
	record := recent[0]
	if record.Endpoint != "/api/paid" || record.TxHash != gateMockTxHash || record.Amount != "10000" {
		t.Errorf("Unexpected settlement record %+v", record)
	}
}

func TestGateEscrowModeSelection(t *testing.T) {
	facilitator := &stubFacilitator{}
	gate := newTestGate(t, facilitator, nil)

	// Paying the escrow entry's destination selects the escrow mode.
	recorder := serveGate(gate, paidRequest(gatePayload("0x2222222222222222222222222222222222222222")))

	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200\n%s", recorder.Code, recorder.Body.String())
	}
	if facilitator.lastVerifyMode != types.ModeEscrow {
		t.Errorf("Verify mode = %s, want escrow", facilitator.lastVerifyMode)
	}
	if facilitator.lastSettleMode != types.ModeEscrow {
		t.Errorf("Settle mode = %s, want escrow", facilitator.lastSettleMode)
	}
}

func TestGateAcceptsFallbackHeader(t *testing.T) {
	facilitator := &stubFacilitator{}
	gate := newTestGate(t, facilitator, nil)

	encoded, _ := EncodePayload(gatePayload("0x1111111111111111111111111111111111111111"))
	req := httptest.NewRequest(http.MethodGet, "/api/paid", nil)
	req.Header.Set(x402.HeaderXPaymentSignature, encoded)

	recorder := serveGate(gate, req)
	if recorder.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200 via X-Payment-Signature", recorder.Code)
	}
}

func TestGateStoreFailureDoesNotFailDelivery(t *testing.T) {
	gate := newTestGate(t, &stubFacilitator{}, failingStore{})

	recorder := serveGate(gate, paidRequest(gatePayload("0x1111111111111111111111111111111111111111")))

	if recorder.Code != http.StatusOK {
		t.Errorf("Status = %d; a payment log outage must not fail a paid response", recorder.Code)
	}
	if recorder.Header().Get(x402.HeaderPaymentResponse) == "" {
		t.Error("PAYMENT-RESPONSE header missing")
	}
}
