package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	x402 "github.com/arena-api/x402"
	"github.com/arena-api/x402/types"
)

// Facilitator is what the payment gate needs from a facilitator: one verify
// and one settle, both mode-aware. *FacilitatorClient implements it over
// HTTP; tests implement it in-process.
type Facilitator interface {
	Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements, mode string) (*types.VerifyResult, error)
	Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements, mode string) (*types.SettlementResult, error)
}

const (
	facilitatorTimeout     = 30 * time.Second
	facilitatorDemoTimeout = 45 * time.Second
	facilitatorBodyLimit   = 1 << 20
)

// FacilitatorClient talks to a facilitator over its loopback HTTP API.
// Deadlines are applied per call: verify and settle get facilitatorTimeout,
// the demo flow (which chains two seller calls) gets facilitatorDemoTimeout.
type FacilitatorClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewFacilitatorClient creates a client for the facilitator at baseURL,
// authenticating every call with the shared API key.
func NewFacilitatorClient(baseURL string, apiKey string) *FacilitatorClient {
	return &FacilitatorClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// Verify submits the payload for off-chain verification. The facilitator
// answers 200 for both valid and invalid payments; anything else is a
// transport-level failure.
func (c *FacilitatorClient) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
	mode string,
) (*types.VerifyResult, error) {
	path := "/x402/verify"
	if mode == types.ModeTransfer {
		path = "/x402/verify-transfer"
	}

	status, body, err := c.post(ctx, path, payload, requirements)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("facilitator verify returned %d: %s", status, truncate(body))
	}

	var result types.VerifyResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unreadable verify response: %w", err)
	}
	return &result, nil
}

// Settle submits the payload for on-chain settlement. Both 200 and 500
// carry a settlement result; the 500 body says why the chain said no.
func (c *FacilitatorClient) Settle(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
	mode string,
) (*types.SettlementResult, error) {
	path := "/x402/settle"
	if mode == types.ModeTransfer {
		path = "/x402/settle-transfer"
	}

	status, body, err := c.post(ctx, path, payload, requirements)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusInternalServerError {
		return nil, fmt.Errorf("facilitator settle returned %d: %s", status, truncate(body))
	}

	var result types.SettlementResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unreadable settle response: %w", err)
	}
	return &result, nil
}

// Health fetches the facilitator liveness report.
func (c *FacilitatorClient) Health(ctx context.Context) (*types.HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, facilitatorTimeout)
	defer cancel()

	status, body, err := c.do(ctx, http.MethodGet, "/x402/health", nil)
	if err != nil {
		return nil, err
	}

	var health types.HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("unreadable health response: %w", err)
	}
	if status != http.StatusOK {
		return &health, fmt.Errorf("facilitator unhealthy: %s", health.Status)
	}
	return &health, nil
}

// DemoAI triggers the server-side demo buyer flow.
func (c *FacilitatorClient) DemoAI(ctx context.Context, prompt string) (*types.DemoResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, facilitatorDemoTimeout)
	defer cancel()

	status, body, err := c.do(ctx, http.MethodPost, "/x402/demo-ai", types.DemoRequest{Prompt: prompt})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("facilitator demo returned %d: %s", status, truncate(body))
	}

	var demo types.DemoResponse
	if err := json.Unmarshal(body, &demo); err != nil {
		return nil, fmt.Errorf("unreadable demo response: %w", err)
	}
	return &demo, nil
}

func (c *FacilitatorClient) post(
	ctx context.Context,
	path string,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, facilitatorTimeout)
	defer cancel()

	return c.do(ctx, http.MethodPost, path, types.FacilitatorRequest{
		X402Version:         x402.ProtocolVersion,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	})
}

func (c *FacilitatorClient) do(ctx context.Context, method string, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode facilitator request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(x402.HeaderAPIKey, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("facilitator unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, facilitatorBodyLimit))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read facilitator response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
