// Package types defines the x402 v2 wire structures exchanged between the
// buyer, the payment gate, and the facilitator.
package types

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Settlement modes supported by the facilitator.
const (
	ModeTransfer = "transfer"
	ModeEscrow   = "escrow"
)

// AssetTransferMethodEIP3009 marks requirements settled through an
// EIP-3009 authorization relayed by the escrow adapter.
const AssetTransferMethodEIP3009 = "eip3009"

// RequirementsExtra carries the scheme-specific fields of a requirement.
// Name and Version are the EIP-712 domain of the asset contract.
type RequirementsExtra struct {
	SettlementMode      string `json:"settlementMode,omitempty"`
	AssetTransferMethod string `json:"assetTransferMethod,omitempty"`
	Name                string `json:"name,omitempty"`
	Version             string `json:"version,omitempty"`
	OrderID             string `json:"orderId,omitempty"`
	Description         string `json:"description,omitempty"`
}

// PaymentRequirements describes one way a resource can be paid for.
// Amount is an integer in the asset's smallest unit, as a decimal string.
type PaymentRequirements struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	Asset             string            `json:"asset"`
	PayTo             string            `json:"payTo"`
	Amount            string            `json:"amount"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds,omitempty"`
	Extra             RequirementsExtra `json:"extra"`
}

// AmountBig parses the required amount.
func (r PaymentRequirements) AmountBig() (*big.Int, error) {
	n, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount: %q", r.Amount)
	}
	return n, nil
}

// Mode returns the settlement mode the requirement selects: ModeTransfer when
// extra.settlementMode says so, ModeEscrow when the transfer method is
// eip3009, empty otherwise.
func (r PaymentRequirements) Mode() string {
	if r.Extra.SettlementMode == ModeTransfer {
		return ModeTransfer
	}
	if r.Extra.SettlementMode == ModeEscrow || r.Extra.AssetTransferMethod == AssetTransferMethodEIP3009 {
		return ModeEscrow
	}
	return ""
}

// ExactEIP3009Authorization is the TransferWithAuthorization message signed
// by the buyer. All numeric fields travel as decimal strings; Nonce is a
// 32-byte 0x-hex value unique per authorization.
type ExactEIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ValueBig parses the authorized value.
func (a ExactEIP3009Authorization) ValueBig() (*big.Int, error) {
	n, ok := new(big.Int).SetString(a.Value, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid value: %q", a.Value)
	}
	return n, nil
}

// Window parses validAfter/validBefore as unix seconds.
func (a ExactEIP3009Authorization) Window() (validAfter, validBefore int64, err error) {
	after, ok := new(big.Int).SetString(a.ValidAfter, 10)
	if !ok {
		return 0, 0, fmt.Errorf("invalid validAfter: %q", a.ValidAfter)
	}
	before, ok := new(big.Int).SetString(a.ValidBefore, 10)
	if !ok {
		return 0, 0, fmt.Errorf("invalid validBefore: %q", a.ValidBefore)
	}
	return after.Int64(), before.Int64(), nil
}

// ExactPayload is the signed half of a payment: the 65-byte signature as
// 0x-hex plus the authorization it covers.
type ExactPayload struct {
	Signature     string                    `json:"signature"`
	Authorization ExactEIP3009Authorization `json:"authorization"`
}

// PaymentPayload is the full PAYMENT-SIGNATURE header value after base64
// and JSON decoding.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// VerifyResult is the facilitator's verdict on a payment. Verify endpoints
// always answer HTTP 200 with this body so the reason channel stays
// structured; only unreadable requests get transport-level errors.
type VerifyResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	Payer  string `json:"payer,omitempty"`
}

// SettlementResult reports the on-chain outcome of a settle call and is
// reflected back to the buyer in the PAYMENT-RESPONSE header.
type SettlementResult struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Scheme      string `json:"scheme,omitempty"`
	Network     string `json:"network,omitempty"`
	X402Version int    `json:"x402Version"`
	Error       string `json:"error,omitempty"`
}

// FacilitatorRequest is the body of facilitator verify and settle calls.
type FacilitatorRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// AssetHealth is one supported asset as reported by the health endpoint.
type AssetHealth struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	EIP3009 bool   `json:"eip3009"`
}

// HealthResponse is the facilitator liveness report.
type HealthResponse struct {
	Status        string        `json:"status"`
	Relayer       string        `json:"relayer"`
	NativeBalance string        `json:"nativeBalance"`
	Network       string        `json:"network"`
	Assets        []AssetHealth `json:"assets"`
	EscrowAdapter string        `json:"escrowAdapter,omitempty"`
	X402Version   int           `json:"x402Version"`
	Version       string        `json:"version"`
}

// SupportedKind is one scheme/network pair the facilitator settles.
type SupportedKind struct {
	Scheme  string   `json:"scheme"`
	Network string   `json:"network"`
	Assets  []string `json:"assets"`
}

// SupportedResponse lists everything the facilitator can settle.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// DemoRequest asks the facilitator to run the buyer flow server-side.
type DemoRequest struct {
	Prompt string `json:"prompt,omitempty"`
}

// DemoResponse reports the demo flow outcome, including the raw seller
// response body and the decoded settlement when payment happened.
type DemoResponse struct {
	Status     int               `json:"status"`
	Paid       bool              `json:"paid"`
	Body       json.RawMessage   `json:"body,omitempty"`
	Settlement *SettlementResult `json:"settlement,omitempty"`
}
