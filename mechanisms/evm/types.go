// Package evm implements the EVM side of the exact payment scheme:
// EIP-712 hashing, ECDSA recovery, the contract ABIs the facilitator
// touches, and the supported-asset registry.
package evm

import (
	"context"
	"math/big"
	"strings"
)

// ClientEvmSigner is the buyer-side signing surface. Implementations hold
// the buyer's key; they never talk to the chain on the signing path.
type ClientEvmSigner interface {
	// Address returns the signer's Ethereum address
	Address() string

	// SignTypedData signs EIP-712 typed data and returns a 65-byte signature
	// with v in 27/28 form
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)
}

// FacilitatorEvmSigner is the relayer's chain handle: reads, simulations,
// and settlement transactions all go through it. Errors from StaticCall and
// WriteContract carry decoded revert reasons where the node supplies them.
type FacilitatorEvmSigner interface {
	// Address returns the relayer address
	Address() string

	// ReadContract calls a view function and returns its first output
	ReadContract(ctx context.Context, address string, abi []byte, method string, args ...interface{}) (interface{}, error)

	// StaticCall simulates a state-changing call from the given sender
	// without broadcasting; a revert comes back as an error carrying the
	// decoded reason
	StaticCall(ctx context.Context, address string, abi []byte, method string, from string, args ...interface{}) error

	// WriteContract signs and broadcasts a contract call with the given gas
	// limit and returns the transaction hash
	WriteContract(ctx context.Context, address string, abi []byte, method string, gasLimit uint64, args ...interface{}) (string, error)

	// WaitForTransactionReceipt polls until the transaction is mined
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)

	// BalanceOf reads an ERC-20 balance
	BalanceOf(ctx context.Context, token string, account string) (*big.Int, error)

	// GetBalance reads a native balance
	GetBalance(ctx context.Context, address string) (*big.Int, error)

	// GetChainID returns the chain ID of the connected network
	GetChainID(ctx context.Context) (*big.Int, error)
}

// TypedDataDomain represents the EIP-712 domain separator
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField represents a field in EIP-712 typed data
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TransactionReceipt represents the receipt of a mined transaction
type TransactionReceipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
}

// AssetInfo describes one supported ERC-20 token. Name and Version are the
// token contract's EIP-712 domain values; they are the authoritative
// fallback when requirements omit extra.name/extra.version.
type AssetInfo struct {
	Address         string
	Symbol          string
	Name            string
	Version         string
	Decimals        int
	SupportsEIP3009 bool
}

// AssetRegistry is the explicit supported-asset table, keyed by lowercase
// address. Assets not in the table are refused at verify time; there is no
// fallback descriptor for unknown addresses.
type AssetRegistry struct {
	assets map[string]AssetInfo
}

// NewAssetRegistry builds a registry from descriptors. Later duplicates of
// the same address override earlier ones.
func NewAssetRegistry(assets ...AssetInfo) *AssetRegistry {
	r := &AssetRegistry{assets: make(map[string]AssetInfo, len(assets))}
	for _, a := range assets {
		r.assets[strings.ToLower(a.Address)] = a
	}
	return r
}

// Lookup returns the descriptor for an address, or ok=false when the asset
// is not listed.
func (r *AssetRegistry) Lookup(address string) (AssetInfo, bool) {
	a, ok := r.assets[strings.ToLower(NormalizeAddress(address))]
	return a, ok
}

// List returns all descriptors in unspecified order.
func (r *AssetRegistry) List() []AssetInfo {
	out := make([]AssetInfo, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	return out
}
