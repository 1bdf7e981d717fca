// Package evm provides key-backed signers for the EVM payment scheme: a
// lightweight client signer for buyers and a relayer signer that fronts a
// JSON-RPC node for the facilitator.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	x402evm "github.com/arena-api/x402/mechanisms/evm"
)

// ClientSigner implements x402evm.ClientEvmSigner with a local ECDSA key.
// It needs no RPC connection: buyers only sign, they never broadcast.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	ethClient  *ethclient.Client
}

// NewClientSignerFromPrivateKey creates a client signer from a hex-encoded
// private key, with or without the "0x" prefix.
func NewClientSignerFromPrivateKey(privateKeyHex string) (*ClientSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &ClientSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Connect attaches an RPC endpoint. Optional; only needed for balance reads.
func (s *ClientSigner) Connect(rpcURL string) error {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RPC: %w", err)
	}
	s.ethClient = client
	return nil
}

// Address returns the checksummed address of the signing key.
func (s *ClientSigner) Address() string {
	return s.address.Hex()
}

// SignTypedData signs EIP-712 typed data and returns the 65-byte signature
// with v in Ethereum convention (27/28).
func (s *ClientSigner) SignTypedData(
	ctx context.Context,
	domain x402evm.TypedDataDomain,
	types map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	digest, err := x402evm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest[:], s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// recovery id 0/1 -> 27/28
	signature[64] += 27

	return signature, nil
}

// TokenBalance reads the ERC-20 balance of the signer's own address.
// Requires Connect to have been called.
func (s *ClientSigner) TokenBalance(ctx context.Context, tokenAddress string) (*big.Int, error) {
	if s.ethClient == nil {
		return nil, fmt.Errorf("RPC client not configured")
	}
	return readBalanceOf(ctx, s.ethClient, tokenAddress, s.address)
}
