package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/arena-api/x402/types"
)

// PrimaryTypeTransferWithAuthorization is the EIP-712 primary type of an
// EIP-3009 transfer authorization.
const PrimaryTypeTransferWithAuthorization = "TransferWithAuthorization"

// TransferWithAuthorizationTypes is the canonical EIP-3009 type definition.
// Field order matters: it is baked into the type hash.
var TransferWithAuthorizationTypes = map[string][]TypedDataField{
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// HashTypedData computes the EIP-712 digest
// keccak256(0x1901 ‖ domainSeparator ‖ structHash) for the given typed data.
// The EIP712Domain type is supplied automatically when absent.
func HashTypedData(
	domain TypedDataDomain,
	fieldTypes map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([32]byte, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range fieldTypes {
		converted := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			converted[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[typeName] = converted
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, structHash...)

	var digest [32]byte
	copy(digest[:], crypto.Keccak256(rawData))
	return digest, nil
}

// AuthorizationMessage converts a wire authorization into the EIP-712
// message map used for both signing and verification, so the two sides can
// never hash different encodings of the same authorization.
func AuthorizationMessage(auth types.ExactEIP3009Authorization) (map[string]interface{}, error) {
	value, err := auth.ValueBig()
	if err != nil {
		return nil, err
	}
	validAfter, validBefore, err := windowBig(auth)
	if err != nil {
		return nil, err
	}
	nonceBytes, err := HexToBytes(auth.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}
	if len(nonceBytes) != 32 {
		return nil, fmt.Errorf("invalid nonce length: expected 32 bytes, got %d", len(nonceBytes))
	}

	return map[string]interface{}{
		"from":        common.HexToAddress(auth.From).Hex(),
		"to":          common.HexToAddress(auth.To).Hex(),
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonceBytes,
	}, nil
}

// HashTransferAuthorization computes the digest a buyer signs for the given
// domain and authorization.
func HashTransferAuthorization(domain TypedDataDomain, auth types.ExactEIP3009Authorization) ([32]byte, error) {
	message, err := AuthorizationMessage(auth)
	if err != nil {
		return [32]byte{}, err
	}
	return HashTypedData(domain, TransferWithAuthorizationTypes, PrimaryTypeTransferWithAuthorization, message)
}
