// Package client implements the buyer side of the exact EVM payment scheme:
// picking a payable requirements entry out of a 402 challenge and signing the
// EIP-3009 authorization that satisfies it.
package client

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	x402 "github.com/arena-api/x402"
	"github.com/arena-api/x402/mechanisms/evm"
	"github.com/arena-api/x402/types"
)

// ExactEvmScheme builds signed exact-scheme payment payloads for one network.
type ExactEvmScheme struct {
	signer  evm.ClientEvmSigner
	network string
	assets  *evm.AssetRegistry
}

// NewExactEvmScheme creates an ExactEvmScheme for the given CAIP-2 network.
// A nil registry falls back to the built-in asset table.
func NewExactEvmScheme(signer evm.ClientEvmSigner, network string, assets *evm.AssetRegistry) *ExactEvmScheme {
	if assets == nil {
		assets = evm.NewAssetRegistry(evm.DefaultAssets...)
	}
	return &ExactEvmScheme{
		signer:  signer,
		network: network,
		assets:  assets,
	}
}

// Scheme returns the scheme identifier
func (c *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// Network returns the CAIP-2 network tag this client pays on
func (c *ExactEvmScheme) Network() string {
	return c.network
}

// SelectRequirement picks the first entry this client can satisfy: exact
// scheme, matching network, and a settlement mode it knows how to sign for.
func (c *ExactEvmScheme) SelectRequirement(list []types.PaymentRequirements) (*types.PaymentRequirements, error) {
	for i := range list {
		req := &list[i]
		if req.Scheme != evm.SchemeExact {
			continue
		}
		if req.Network != c.network {
			continue
		}
		if req.Mode() == "" {
			continue
		}
		return req, nil
	}
	return nil, fmt.Errorf("no payable requirements for scheme %q on %s", evm.SchemeExact, c.network)
}

// CreatePaymentPayload signs a fresh EIP-3009 authorization for the given
// requirements. The authorization is valid immediately and expires after the
// default validity period.
func (c *ExactEvmScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	value, err := requirements.AmountBig()
	if err != nil {
		return types.PaymentPayload{}, err
	}

	nonce, err := evm.CreateNonce()
	if err != nil {
		return types.PaymentPayload{}, err
	}

	validBefore := time.Now().Unix() + evm.DefaultValidityPeriod

	authorization := types.ExactEIP3009Authorization{
		From:        c.signer.Address(),
		To:          requirements.PayTo,
		Value:       value.String(),
		ValidAfter:  "0",
		ValidBefore: strconv.FormatInt(validBefore, 10),
		Nonce:       nonce,
	}

	domain, err := c.domainFor(requirements)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	message, err := evm.AuthorizationMessage(authorization)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	signature, err := c.signer.SignTypedData(
		ctx,
		domain,
		evm.TransferWithAuthorizationTypes,
		evm.PrimaryTypeTransferWithAuthorization,
		message,
	)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	return types.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Scheme:      evm.SchemeExact,
		Network:     requirements.Network,
		Payload: types.ExactPayload{
			Signature:     "0x" + hex.EncodeToString(signature),
			Authorization: authorization,
		},
	}, nil
}

// domainFor resolves the EIP-712 domain for the requirements asset. The
// requirements extra names win; the asset registry fills in whatever they
// leave out.
func (c *ExactEvmScheme) domainFor(requirements types.PaymentRequirements) (evm.TypedDataDomain, error) {
	chainID, err := evm.ParseChainID(requirements.Network)
	if err != nil {
		return evm.TypedDataDomain{}, err
	}

	name := requirements.Extra.Name
	version := requirements.Extra.Version
	if name == "" || version == "" {
		asset, ok := c.assets.Lookup(requirements.Asset)
		if !ok {
			return evm.TypedDataDomain{}, fmt.Errorf("no EIP-712 domain for asset %s: requirements carry no name/version and the asset is unknown", requirements.Asset)
		}
		if name == "" {
			name = asset.Name
		}
		if version == "" {
			version = asset.Version
		}
	}

	return evm.TypedDataDomain{
		Name:              name,
		Version:           version,
		ChainID:           chainID,
		VerifyingContract: requirements.Asset,
	}, nil
}
