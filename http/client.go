package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	x402 "github.com/arena-api/x402"
	exactclient "github.com/arena-api/x402/mechanisms/evm/exact/client"
	"github.com/arena-api/x402/types"
)

const clientTimeout = 60 * time.Second

// PaymentClient is an HTTP client that answers 402 challenges by signing a
// payment and retrying once. The caller sees the second response, with the
// settlement available through SettlementFromResponse.
type PaymentClient struct {
	httpClient *http.Client
	scheme     *exactclient.ExactEvmScheme
	logger     *slog.Logger
}

// PaymentClientOption customizes a PaymentClient.
type PaymentClientOption func(*PaymentClient)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) PaymentClientOption {
	return func(c *PaymentClient) { c.httpClient = httpClient }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) PaymentClientOption {
	return func(c *PaymentClient) { c.logger = logger }
}

// NewPaymentClient creates a payment-aware client around the given signing
// scheme.
func NewPaymentClient(scheme *exactclient.ExactEvmScheme, opts ...PaymentClientOption) *PaymentClient {
	c := &PaymentClient{
		httpClient: &http.Client{Timeout: clientTimeout},
		scheme:     scheme,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetWithPayment performs a GET, paying if challenged.
func (c *PaymentClient) GetWithPayment(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// PostWithPayment performs a POST with a replayable body, paying if
// challenged.
func (c *PaymentClient) PostWithPayment(ctx context.Context, url string, contentType string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.DoWithPayment(ctx, req)
}

// DoWithPayment performs the request; on a 402 it signs a payment for the
// first satisfiable requirements entry and retries once. Requests with a
// body must be replayable (GetBody set, as http.NewRequest does for byte
// and string readers).
func (c *PaymentClient) DoWithPayment(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	challenge := resp.Header.Get(x402.HeaderPaymentRequired)
	if challenge == "" {
		challenge = resp.Header.Get(x402.HeaderXPaymentRequired)
	}
	drain(resp)
	if challenge == "" {
		return nil, fmt.Errorf("402 response carries no %s header", x402.HeaderPaymentRequired)
	}

	list, err := DecodeRequirements(challenge)
	if err != nil {
		return nil, err
	}

	requirements, err := c.scheme.SelectRequirement(list)
	if err != nil {
		return nil, err
	}

	c.logger.Info("paying for resource",
		"url", req.URL.String(),
		"asset", requirements.Asset,
		"amount", requirements.Amount,
		"mode", requirements.Mode())

	payload, err := c.scheme.CreatePaymentPayload(ctx, *requirements)
	if err != nil {
		return nil, err
	}

	encoded, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	retry, err := replay(req)
	if err != nil {
		return nil, err
	}
	retry.Header.Set(x402.HeaderPaymentSignature, encoded)

	return c.httpClient.Do(retry)
}

// SettlementFromResponse decodes the PAYMENT-RESPONSE header of a paid
// response. ok is false when the response carries no settlement.
func SettlementFromResponse(resp *http.Response) (*types.SettlementResult, bool, error) {
	encoded := resp.Header.Get(x402.HeaderPaymentResponse)
	if encoded == "" {
		encoded = resp.Header.Get(x402.HeaderXPaymentResponse)
	}
	if encoded == "" {
		return nil, false, nil
	}
	decoded, err := DecodeSettlement(encoded)
	if err != nil {
		return nil, false, err
	}
	return decoded, true, nil
}

// replay rebuilds a request for the paid retry.
func replay(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	retry.Body = body
	return retry, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
