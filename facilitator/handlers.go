package facilitator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	x402 "github.com/arena-api/x402"
	xhttp "github.com/arena-api/x402/http"
	"github.com/arena-api/x402/mechanisms/evm"
	exactclient "github.com/arena-api/x402/mechanisms/evm/exact/client"
	signers "github.com/arena-api/x402/signers/evm"
	"github.com/arena-api/x402/types"
)

// bindRequest decodes a verify/settle envelope. The protocol version is
// checked on the raw bytes first: a foreign-versioned body has a different
// shape and must not be half-parsed into a v2 request.
func bindRequest(c *gin.Context) (*types.FacilitatorRequest, bool) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return nil, false
	}
	version, err := types.DetectVersion(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return nil, false
	}
	if version != x402.ProtocolVersion {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("unsupported x402 version: %d", version),
			"code":  x402.CodeInvalidPayload,
		})
		return nil, false
	}

	var req types.FacilitatorRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return nil, false
	}
	return &req, true
}

// handleHealth reports liveness, relayer identity and balance, and the
// supported-asset table. It is the one unauthenticated endpoint.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	resp := types.HealthResponse{
		Status:        "healthy",
		Relayer:       s.chain.Address(),
		Network:       s.scheme.Network(),
		Assets:        s.assetHealth(),
		EscrowAdapter: s.scheme.EscrowAdapter(),
		X402Version:   x402.ProtocolVersion,
		Version:       x402.Version,
	}

	chainID, err := s.chain.GetChainID(ctx)
	if err != nil {
		s.logger.Error("health: chain unreachable", "error", err)
		resp.Status = "degraded"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	if expected, err := evm.ParseChainID(s.config.Network); err == nil && chainID.Cmp(expected) != 0 {
		s.logger.Error("health: connected to wrong chain", "expected", expected, "got", chainID)
		resp.Status = "degraded"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	balance, err := s.chain.GetBalance(ctx, s.chain.Address())
	if err != nil {
		s.logger.Error("health: balance read failed", "error", err)
		resp.Status = "degraded"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	resp.NativeBalance = balance.String()

	f, _ := new(big.Float).SetInt(balance).Float64()
	relayerBalanceWei.Set(f)

	// Warnings are logged, never returned: the health body is consumed by
	// dashboards that only care whether settlement is possible right now.
	if balance.Cmp(lowBalanceWei) < 0 {
		s.logger.Warn("relayer native balance low",
			"relayer", s.chain.Address(),
			"balance", balance.String(),
			"threshold", lowBalanceWei.String())
	}

	c.JSON(http.StatusOK, resp)
}

// assetHealth projects the registry into the health report's asset table.
func (s *Server) assetHealth() []types.AssetHealth {
	assets := s.scheme.Assets().List()
	out := make([]types.AssetHealth, len(assets))
	for i, a := range assets {
		out[i] = types.AssetHealth{
			Address: a.Address,
			Symbol:  a.Symbol,
			EIP3009: a.SupportsEIP3009,
		}
	}
	return out
}

// handleSupported lists the scheme/network/asset combinations this process
// settles.
func (s *Server) handleSupported(c *gin.Context) {
	assets := s.scheme.Assets().List()
	addresses := make([]string, len(assets))
	for i, a := range assets {
		addresses[i] = a.Address
	}

	c.JSON(http.StatusOK, types.SupportedResponse{
		Kinds: []types.SupportedKind{{
			Scheme:  s.scheme.Scheme(),
			Network: s.scheme.Network(),
			Assets:  addresses,
		}},
	})
}

// handleVerify runs the off-chain checks for one settlement mode. Business
// verdicts, valid or not, answer 200; only an unreadable body gets a 400 and
// only a chain-backend failure gets a 500.
func (s *Server) handleVerify(mode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindRequest(c)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), verifyTimeout)
		defer cancel()

		result, err := s.scheme.Verify(ctx, req.PaymentPayload, req.PaymentRequirements, mode)
		if err != nil {
			s.logger.Error("verify backend failure", "mode", mode, "error", err)
			verifyTotal.WithLabelValues(mode, "error").Inc()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification backend failure"})
			return
		}

		if result.Valid {
			verifyTotal.WithLabelValues(mode, "valid").Inc()
		} else {
			verifyTotal.WithLabelValues(mode, "invalid").Inc()
			s.logger.Info("verify rejected",
				"mode", mode,
				"reason", result.Reason,
				"payer", req.PaymentPayload.Payload.Authorization.From)
		}

		c.JSON(http.StatusOK, result)
	}
}

// handleSettle broadcasts the settlement for one mode. The receipt wait is
// detached from the request context: after broadcast the outcome must be
// known and logged even if the peer disconnects.
func (s *Server) handleSettle(mode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindRequest(c)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), settleTimeout)
		defer cancel()

		start := time.Now()
		result, err := s.scheme.Settle(ctx, req.PaymentPayload, req.PaymentRequirements, mode)
		if err != nil {
			s.logger.Error("settle failed before broadcast", "mode", mode, "error", err)
			settleTotal.WithLabelValues(mode, "error").Inc()
			c.JSON(http.StatusInternalServerError, types.SettlementResult{
				Success:     false,
				Network:     s.scheme.Network(),
				Scheme:      s.scheme.Scheme(),
				X402Version: x402.ProtocolVersion,
				Error:       err.Error(),
			})
			return
		}

		if !result.Success {
			s.logger.Error("settlement failed",
				"mode", mode,
				"transaction", result.Transaction,
				"error", result.Error,
				"duration", time.Since(start))
			settleTotal.WithLabelValues(mode, "reverted").Inc()
			c.JSON(http.StatusInternalServerError, result)
			return
		}

		s.logger.Info("settlement confirmed",
			"mode", mode,
			"transaction", result.Transaction,
			"payer", result.Payer,
			"duration", time.Since(start))
		settleTotal.WithLabelValues(mode, "success").Inc()
		c.JSON(http.StatusOK, result)
	}
}

// handleDemo runs the full buyer flow server-side with the configured demo
// key, so browser demos never hold a private key.
func (s *Server) handleDemo(c *gin.Context) {
	if s.config.DemoBuyerKey == "" || s.config.DemoSellerURL == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "demo is not configured",
			"code":  x402.CodeServiceUnavailable,
		})
		return
	}

	var req types.DemoRequest
	if raw, err := io.ReadAll(c.Request.Body); err == nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), demoTimeout)
	defer cancel()

	buyer, err := signers.NewClientSignerFromPrivateKey(s.config.DemoBuyerKey)
	if err != nil {
		s.logger.Error("demo: bad buyer key", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "demo is not configured",
			"code":  x402.CodeServiceUnavailable,
		})
		return
	}
	scheme := exactclient.NewExactEvmScheme(buyer, s.scheme.Network(), s.scheme.Assets())

	target := s.config.DemoSellerURL
	if req.Prompt != "" {
		sep := "?"
		if u, err := url.Parse(target); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		target += sep + "q=" + url.QueryEscape(req.Prompt)
	}

	httpClient := &http.Client{Timeout: demoTimeout}

	status, body, header, err := s.demoGet(ctx, httpClient, target, "")
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "seller unreachable: " + err.Error()})
		return
	}
	if status != http.StatusPaymentRequired {
		c.JSON(http.StatusOK, types.DemoResponse{Status: status, Paid: false, Body: rawBody(body)})
		return
	}

	challenge := header.Get(x402.HeaderPaymentRequired)
	if challenge == "" {
		challenge = header.Get(x402.HeaderXPaymentRequired)
	}
	list, err := xhttp.DecodeRequirements(challenge)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "seller sent an unreadable challenge: " + err.Error()})
		return
	}

	selected, err := scheme.SelectRequirement(list)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	amount, err := selected.AmountBig()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "seller sent an invalid amount: " + err.Error()})
		return
	}
	balance, err := s.chain.BalanceOf(ctx, selected.Asset, buyer.Address())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "buyer balance check failed: " + err.Error()})
		return
	}
	if balance.Cmp(amount) < 0 {
		s.logger.Warn("demo buyer underfunded",
			"buyer", buyer.Address(),
			"balance", balance.String(),
			"required", amount.String())
		c.JSON(http.StatusOK, types.DemoResponse{
			Status: http.StatusPaymentRequired,
			Paid:   false,
			Body:   rawBody([]byte(`{"error":"demo buyer has insufficient balance"}`)),
		})
		return
	}

	payload, err := scheme.CreatePaymentPayload(ctx, *selected)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign payment: " + err.Error()})
		return
	}
	encoded, err := xhttp.EncodePayload(payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status, body, header, err = s.demoGet(ctx, httpClient, target, encoded)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "seller unreachable on paid retry: " + err.Error()})
		return
	}

	var settlement *types.SettlementResult
	if encodedSettlement := headerFirst(header, x402.HeaderPaymentResponse, x402.HeaderXPaymentResponse); encodedSettlement != "" {
		settlement, err = xhttp.DecodeSettlement(encodedSettlement)
		if err != nil {
			s.logger.Warn("demo: unreadable settlement header", "error", err)
			settlement = nil
		}
	}

	c.JSON(http.StatusOK, types.DemoResponse{
		Status:     status,
		Paid:       settlement != nil && settlement.Success,
		Body:       rawBody(body),
		Settlement: settlement,
	})
}

// demoGet performs one GET of the demo flow, optionally with a payment
// signature attached.
func (s *Server) demoGet(ctx context.Context, client *http.Client, target string, paymentSignature string) (int, []byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	if paymentSignature != "" {
		req.Header.Set(x402.HeaderPaymentSignature, paymentSignature)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, body, resp.Header, nil
}

func headerFirst(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// rawBody keeps valid JSON verbatim and quotes anything else so the demo
// response always marshals.
func rawBody(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, err := json.Marshal(string(b))
	if err != nil {
		return nil
	}
	return json.RawMessage(quoted)
}
