// Package facilitator implements the facilitator side of the exact EVM
// payment scheme: ordered off-chain verification and on-chain settlement of
// EIP-3009 authorizations, in direct-transfer and escrow-adapter modes.
package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/arena-api/x402"
	"github.com/arena-api/x402/mechanisms/evm"
	"github.com/arena-api/x402/types"
)

// Verify failure reasons. These travel to buyers through the gate, so the
// wording is part of the wire contract.
const (
	ReasonInvalidSignature = "Invalid signature"
	ReasonWrongDestination = "Wrong payment destination"
	ReasonLowBalance       = "Insufficient balance"
	ReasonOutOfWindow      = "Authorization expired or not yet valid"
	ReasonLowAmount        = "Insufficient amount"
	ReasonNonceUsed        = "authorization nonce already used"
)

// SchemeConfig holds the chain-facing configuration of the scheme.
type SchemeConfig struct {
	// Network is the CAIP-2 tag of the only chain this facilitator settles on
	Network string

	// Assets is the explicit supported-asset table
	Assets *evm.AssetRegistry

	// EscrowAdapter is the settlePayment contract address; empty disables
	// escrow mode
	EscrowAdapter string
}

// ExactEvmScheme verifies and settles exact EVM payments through a single
// relayer signer.
type ExactEvmScheme struct {
	signer  evm.FacilitatorEvmSigner
	network string
	chainID *big.Int
	assets  *evm.AssetRegistry
	adapter string
}

// NewExactEvmScheme creates an ExactEvmScheme. The network tag must be
// CAIP-2 ("eip155:<chainId>"); a nil asset registry falls back to the
// built-in defaults.
func NewExactEvmScheme(signer evm.FacilitatorEvmSigner, config SchemeConfig) (*ExactEvmScheme, error) {
	chainID, err := evm.ParseChainID(config.Network)
	if err != nil {
		return nil, err
	}
	assets := config.Assets
	if assets == nil {
		assets = evm.NewAssetRegistry(evm.DefaultAssets...)
	}
	return &ExactEvmScheme{
		signer:  signer,
		network: config.Network,
		chainID: chainID,
		assets:  assets,
		adapter: config.EscrowAdapter,
	}, nil
}

// Scheme returns the scheme identifier
func (f *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// Network returns the configured CAIP-2 network tag
func (f *ExactEvmScheme) Network() string {
	return f.network
}

// Assets returns the supported-asset registry
func (f *ExactEvmScheme) Assets() *evm.AssetRegistry {
	return f.assets
}

// EscrowAdapter returns the adapter address, empty when escrow is disabled
func (f *ExactEvmScheme) EscrowAdapter() string {
	return f.adapter
}

// Verify runs the ordered off-chain checks for the given settlement mode
// and stops at the first failure. Business failures come back as
// {Valid:false, Reason}; an error return means the chain backend itself
// failed and the caller should answer with a transport-level error.
func (f *ExactEvmScheme) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
	mode string,
) (*types.VerifyResult, error) {
	invalid := func(reason string) (*types.VerifyResult, error) {
		return &types.VerifyResult{Valid: false, Reason: reason}, nil
	}

	if payload.X402Version != x402.ProtocolVersion {
		return invalid(fmt.Sprintf("unsupported x402 version: %d", payload.X402Version))
	}

	if payload.Scheme != evm.SchemeExact {
		return invalid(fmt.Sprintf("unsupported scheme: %s", payload.Scheme))
	}

	if payload.Network != f.network {
		return invalid(fmt.Sprintf("wrong network: expected %s, got %s", f.network, payload.Network))
	}

	asset, ok := f.assets.Lookup(requirements.Asset)
	if !ok {
		return invalid(fmt.Sprintf("unsupported asset: %s", requirements.Asset))
	}
	if !asset.SupportsEIP3009 {
		return invalid(fmt.Sprintf("asset %s does not support eip3009", asset.Symbol))
	}

	switch mode {
	case types.ModeTransfer:
		if requirements.Extra.SettlementMode != types.ModeTransfer {
			return invalid(fmt.Sprintf("settlement mode mismatch: expected transfer, got %q", requirements.Extra.SettlementMode))
		}
	case types.ModeEscrow:
		if requirements.Extra.AssetTransferMethod != types.AssetTransferMethodEIP3009 {
			return invalid(fmt.Sprintf("unsupported asset transfer method: %q", requirements.Extra.AssetTransferMethod))
		}
		if f.adapter == "" {
			return invalid("escrow adapter not configured")
		}
	default:
		return invalid(fmt.Sprintf("unknown settlement mode: %q", mode))
	}

	auth := payload.Payload.Authorization
	domain := f.domainFor(asset, requirements)

	valid, err := evm.VerifyAuthorizationSignature(domain, auth, payload.Payload.Signature)
	if err != nil || !valid {
		// Malformed signatures and signer mismatches read the same to the
		// buyer; the distinction only matters on-chain where neither settles.
		return invalid(ReasonInvalidSignature)
	}

	destination := requirements.PayTo
	if mode == types.ModeEscrow {
		destination = f.adapter
	}
	if !strings.EqualFold(auth.To, destination) {
		return invalid(ReasonWrongDestination)
	}

	value, err := auth.ValueBig()
	if err != nil {
		return invalid(fmt.Sprintf("invalid authorization value: %q", auth.Value))
	}

	balance, err := f.signer.BalanceOf(ctx, asset.Address, auth.From)
	if err != nil {
		return nil, fmt.Errorf("balance check failed: %w", err)
	}
	if balance.Cmp(value) < 0 {
		return invalid(ReasonLowBalance)
	}

	validAfter, validBefore, err := auth.Window()
	if err != nil {
		return invalid("invalid authorization window")
	}
	now := time.Now().Unix()
	if now < validAfter || now > validBefore {
		return invalid(ReasonOutOfWindow)
	}

	required, err := requirements.AmountBig()
	if err != nil {
		return invalid(fmt.Sprintf("invalid required amount: %q", requirements.Amount))
	}
	if value.Cmp(required) < 0 {
		return invalid(ReasonLowAmount)
	}

	if mode == types.ModeEscrow {
		if reason, err := f.simulateSettle(ctx, asset, requirements, payload.Payload); err != nil {
			return nil, err
		} else if reason != "" {
			return invalid(reason)
		}
	} else {
		used, err := f.checkNonceUsed(ctx, auth.From, auth.Nonce, asset.Address)
		if err != nil {
			return nil, fmt.Errorf("nonce state check failed: %w", err)
		}
		if used {
			return invalid(ReasonNonceUsed)
		}
	}

	return &types.VerifyResult{Valid: true, Payer: auth.From}, nil
}

// Settle broadcasts the settlement transaction for the given mode and waits
// for its receipt. It trusts that Verify just ran and repeats none of its
// checks. On-chain failure comes back as {Success:false, Error} with a
// best-effort decoded revert reason; an error return means the transaction
// could not be broadcast or awaited at all.
func (f *ExactEvmScheme) Settle(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
	mode string,
) (*types.SettlementResult, error) {
	asset, ok := f.assets.Lookup(requirements.Asset)
	if !ok {
		return nil, fmt.Errorf("unsupported asset: %s", requirements.Asset)
	}

	auth := payload.Payload.Authorization
	call, err := f.settlementCall(asset, requirements, payload.Payload, mode)
	if err != nil {
		return nil, err
	}

	txHash, err := f.signer.WriteContract(ctx, call.to, call.abi, call.method, call.gasLimit, call.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to broadcast settlement: %w", err)
	}

	// The transaction is on the wire; even if the peer goes away we keep
	// waiting so the outcome is known and logged.
	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return &types.SettlementResult{
			Success:     false,
			Transaction: txHash,
			Network:     f.network,
			Scheme:      evm.SchemeExact,
			X402Version: x402.ProtocolVersion,
			Error:       fmt.Sprintf("failed to confirm settlement %s: %v", txHash, err),
		}, nil
	}

	if receipt.Status != evm.TxStatusSuccess {
		return &types.SettlementResult{
			Success:     false,
			Transaction: txHash,
			Network:     f.network,
			Scheme:      evm.SchemeExact,
			X402Version: x402.ProtocolVersion,
			Error:       f.revertReason(ctx, call),
		}, nil
	}

	return &types.SettlementResult{
		Success:     true,
		Transaction: txHash,
		Payer:       auth.From,
		Scheme:      evm.SchemeExact,
		Network:     f.network,
		X402Version: x402.ProtocolVersion,
	}, nil
}

// settlementCall describes one prepared settlement transaction.
type settlementCall struct {
	to       string
	abi      []byte
	method   string
	gasLimit uint64
	args     []interface{}
}

// settlementCall packs the mode-specific contract call.
func (f *ExactEvmScheme) settlementCall(
	asset evm.AssetInfo,
	requirements types.PaymentRequirements,
	p types.ExactPayload,
	mode string,
) (*settlementCall, error) {
	auth := p.Authorization

	value, err := auth.ValueBig()
	if err != nil {
		return nil, err
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validAfter: %q", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validBefore: %q", auth.ValidBefore)
	}
	nonce, err := evm.NonceBytes32(auth.Nonce)
	if err != nil {
		return nil, err
	}
	signature, err := evm.HexToBytes(p.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}

	switch mode {
	case types.ModeTransfer:
		return &settlementCall{
			to:       asset.Address,
			abi:      evm.TransferWithAuthorizationABI,
			method:   evm.FunctionTransferWithAuthorization,
			gasLimit: evm.GasLimitTransfer,
			args: []interface{}{
				common.HexToAddress(auth.From),
				common.HexToAddress(auth.To),
				value,
				validAfter,
				validBefore,
				nonce,
				signature,
			},
		}, nil

	case types.ModeEscrow:
		if f.adapter == "" {
			return nil, errors.New("escrow adapter not configured")
		}
		return &settlementCall{
			to:       f.adapter,
			abi:      evm.SettlePaymentABI,
			method:   evm.FunctionSettlePayment,
			gasLimit: evm.GasLimitSettle,
			args: []interface{}{
				common.HexToAddress(asset.Address),
				deriveOrderID(requirements.Extra.OrderID, nonce),
				common.HexToAddress(auth.From),
				value,
				validAfter,
				validBefore,
				nonce,
				signature,
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown settlement mode: %q", mode)
	}
}

// simulateSettle static-calls the escrow settlement from the relayer. An
// empty reason means the call would go through; a revert reason is returned
// verbatim so the buyer sees what the adapter would say.
func (f *ExactEvmScheme) simulateSettle(
	ctx context.Context,
	asset evm.AssetInfo,
	requirements types.PaymentRequirements,
	p types.ExactPayload,
) (string, error) {
	call, err := f.settlementCall(asset, requirements, p, types.ModeEscrow)
	if err != nil {
		return err.Error(), nil
	}

	err = f.signer.StaticCall(ctx, call.to, call.abi, call.method, f.signer.Address(), call.args...)
	if err == nil {
		return "", nil
	}

	var revert *evm.RevertError
	if errors.As(err, &revert) {
		return fmt.Sprintf("settlement would revert: %s", revert.Reason), nil
	}
	return "", fmt.Errorf("settlement simulation failed: %w", err)
}

// revertReason replays a failed settlement as a static call to harvest the
// contract's revert string. Falls back to a generic message when the node
// gives nothing back.
func (f *ExactEvmScheme) revertReason(ctx context.Context, call *settlementCall) string {
	err := f.signer.StaticCall(ctx, call.to, call.abi, call.method, f.signer.Address(), call.args...)
	if err == nil {
		return "transaction reverted"
	}
	var revert *evm.RevertError
	if errors.As(err, &revert) {
		return revert.Reason
	}
	return "transaction reverted"
}

// checkNonceUsed reads the EIP-3009 nonce bitmap on the token contract.
func (f *ExactEvmScheme) checkNonceUsed(ctx context.Context, from string, nonce string, tokenAddress string) (bool, error) {
	nonce32, err := evm.NonceBytes32(nonce)
	if err != nil {
		return false, err
	}

	result, err := f.signer.ReadContract(
		ctx,
		tokenAddress,
		evm.AuthorizationStateABI,
		evm.FunctionAuthorizationState,
		common.HexToAddress(from),
		nonce32,
	)
	if err != nil {
		return false, err
	}

	used, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type from authorizationState")
	}
	return used, nil
}

// domainFor resolves the EIP-712 domain: requirements extra wins, the asset
// registry supplies the defaults.
func (f *ExactEvmScheme) domainFor(asset evm.AssetInfo, requirements types.PaymentRequirements) evm.TypedDataDomain {
	name := asset.Name
	version := asset.Version
	if requirements.Extra.Name != "" {
		name = requirements.Extra.Name
	}
	if requirements.Extra.Version != "" {
		version = requirements.Extra.Version
	}
	return evm.TypedDataDomain{
		Name:              name,
		Version:           version,
		ChainID:           f.chainID,
		VerifyingContract: asset.Address,
	}
}

// deriveOrderID maps the requirements orderId onto the adapter's bytes32
// key: a 32-byte hex value is used as-is, any other string is hashed, and
// an absent orderId derives from the authorization nonce so verify and
// settle always agree.
func deriveOrderID(orderID string, nonce [32]byte) [32]byte {
	var out [32]byte
	if orderID == "" {
		copy(out[:], crypto.Keccak256(nonce[:]))
		return out
	}
	if b, err := evm.HexToBytes(orderID); err == nil && len(b) == 32 && strings.HasPrefix(orderID, "0x") {
		copy(out[:], b)
		return out
	}
	copy(out[:], crypto.Keccak256([]byte(orderID)))
	return out
}
