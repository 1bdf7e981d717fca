package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	x402 "github.com/arena-api/x402"
	"github.com/arena-api/x402/paylog"
	"github.com/arena-api/x402/types"
)

// GateConfig configures a payment gate for one priced route group.
type GateConfig struct {
	// Facilitator verifies and settles payments. Required.
	Facilitator Facilitator

	// Requirements is the price list sent in the 402 challenge. At least one
	// entry, each with a resolvable settlement mode.
	Requirements []types.PaymentRequirements

	// Store receives settled-payment records. Optional; write failures are
	// logged and never fail the paid response.
	Store paylog.Store

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// PaymentGate guards HTTP routes behind x402 payments: unpaid requests get a
// 402 challenge, signed requests get verified and settled before the wrapped
// handler runs.
type PaymentGate struct {
	facilitator  Facilitator
	requirements []types.PaymentRequirements
	challenge    string
	store        paylog.Store
	logger       *slog.Logger
}

// NewPaymentGate validates the configuration and precomputes the challenge
// header, so every unpaid request gets byte-identical challenge bytes.
func NewPaymentGate(config GateConfig) (*PaymentGate, error) {
	if config.Facilitator == nil {
		return nil, errors.New("payment gate requires a facilitator")
	}
	if len(config.Requirements) == 0 {
		return nil, errors.New("payment gate requires at least one requirements entry")
	}
	for i := range config.Requirements {
		if config.Requirements[i].Mode() == "" {
			return nil, errors.New("requirements entry has no resolvable settlement mode")
		}
	}

	challenge, err := EncodeRequirements(config.Requirements)
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PaymentGate{
		facilitator:  config.Facilitator,
		requirements: config.Requirements,
		challenge:    challenge,
		store:        config.Store,
		logger:       logger,
	}, nil
}

// Middleware wraps a handler with the payment flow.
func (g *PaymentGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.Header.Get(x402.HeaderPaymentSignature)
		if signature == "" {
			signature = r.Header.Get(x402.HeaderXPaymentSignature)
		}
		if signature == "" {
			g.writeChallenge(w)
			return
		}

		raw, err := DecodePayloadBytes(signature)
		if err != nil {
			writeError(w, http.StatusBadRequest, x402.CodeInvalidPayload, "payment signature is not valid base64 JSON")
			return
		}

		if validation := types.ValidatePaymentPayload(raw); !validation.Valid {
			writeJSON(w, http.StatusBadRequest, ErrorBody{
				Error:  "payment payload failed validation",
				Code:   x402.CodeInvalidPayload,
				Fields: fieldViolations(validation.Errors),
			})
			return
		}

		payload, err := types.DecodePaymentPayload(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, x402.CodeInvalidPayload, "payment payload failed validation")
			return
		}

		requirements := g.matchRequirements(payload)
		mode := requirements.Mode()

		verify, err := g.facilitator.Verify(r.Context(), *payload, requirements, mode)
		if err != nil {
			g.logger.Error("payment verification unavailable", "error", err, "endpoint", r.URL.Path)
			ServiceUnavailable(w, "payment verification unavailable")
			return
		}
		if !verify.Valid {
			w.Header().Set(x402.HeaderPaymentRequired, g.challenge)
			w.Header().Set(x402.HeaderXPaymentRequired, g.challenge)
			writeJSON(w, http.StatusPaymentRequired, ErrorBody{
				Error:  "payment verification failed",
				Code:   x402.CodeVerifyFailed,
				Reason: verify.Reason,
			})
			return
		}

		// One settle attempt per request. After a transport error the
		// transaction may or may not be on-chain, and a blind retry could
		// double-spend the relayer's gas on a consumed nonce.
		settlement, err := g.facilitator.Settle(r.Context(), *payload, requirements, mode)
		if err != nil {
			g.logger.Error("payment settlement failed", "error", err, "endpoint", r.URL.Path, "payer", verify.Payer)
			writeError(w, http.StatusInternalServerError, x402.CodeSettleFailed, "payment settlement failed")
			return
		}
		if !settlement.Success {
			g.logger.Error("payment settlement reverted",
				"endpoint", r.URL.Path,
				"payer", verify.Payer,
				"transaction", settlement.Transaction,
				"reason", settlement.Error)
			writeJSON(w, http.StatusInternalServerError, ErrorBody{
				Error:  "payment settlement failed",
				Code:   x402.CodeSettleFailed,
				Reason: settlement.Error,
			})
			return
		}

		encoded, err := EncodeSettlement(*settlement)
		if err != nil {
			writeError(w, http.StatusInternalServerError, x402.CodeSettleFailed, "failed to encode settlement")
			return
		}
		w.Header().Set(x402.HeaderPaymentResponse, encoded)
		w.Header().Set(x402.HeaderXPaymentResponse, encoded)

		g.record(r, payload, requirements, settlement)

		ctx := context.WithValue(r.Context(), settlementContextKey{}, settlement)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeChallenge answers an unpaid request with the 402 challenge, in the
// header and duplicated in the body's accepts list.
func (g *PaymentGate) writeChallenge(w http.ResponseWriter) {
	w.Header().Set(x402.HeaderPaymentRequired, g.challenge)
	w.Header().Set(x402.HeaderXPaymentRequired, g.challenge)
	writeJSON(w, http.StatusPaymentRequired, ErrorBody{
		Error:   "payment required",
		Code:    x402.CodePaymentRequired,
		Accepts: g.requirements,
	})
}

// matchRequirements picks the entry the payload is paying against. On no
// match it falls back to the first entry and lets the facilitator produce
// the precise rejection.
func (g *PaymentGate) matchRequirements(payload *types.PaymentPayload) types.PaymentRequirements {
	if req, ok := types.MatchRequirements(payload, g.requirements); ok {
		return req
	}
	return g.requirements[0]
}

// record writes the settlement to the payment log. The response is already
// committed to succeed, so failures are logged and swallowed, and the write
// survives the client hanging up.
func (g *PaymentGate) record(r *http.Request, payload *types.PaymentPayload, requirements types.PaymentRequirements, settlement *types.SettlementResult) {
	if g.store == nil {
		return
	}

	entry := paylog.Settlement{
		ID:       uuid.NewString(),
		Endpoint: r.URL.Path,
		Payer:    settlement.Payer,
		Asset:    requirements.Asset,
		Amount:   payload.Payload.Authorization.Value,
		TxHash:   settlement.Transaction,
		RequestMetadata: map[string]string{
			"method":     r.Method,
			"user_agent": r.UserAgent(),
		},
		ResponseMetadata: map[string]string{
			"scheme":  settlement.Scheme,
			"network": settlement.Network,
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := g.store.Record(context.WithoutCancel(r.Context()), entry); err != nil {
		g.logger.Warn("failed to record settlement", "error", err, "transaction", settlement.Transaction)
	}
}

type settlementContextKey struct{}

// SettlementFromContext returns the settlement recorded for this request,
// if the payment gate ran.
func SettlementFromContext(ctx context.Context) (*types.SettlementResult, bool) {
	settlement, ok := ctx.Value(settlementContextKey{}).(*types.SettlementResult)
	return settlement, ok
}
