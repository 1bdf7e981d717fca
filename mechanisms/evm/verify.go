package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/arena-api/x402/types"
)

// RecoverSigner recovers the address that produced a 65-byte ECDSA
// signature over the given digest. The input signature is not mutated;
// v is normalized from 27/28 to 0/1 before recovery.
func RecoverSigner(digest [32]byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: expected 65 bytes, got %d", len(signature))
	}

	sigCopy := make([]byte, 65)
	copy(sigCopy, signature)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest[:], sigCopy)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// VerifyAuthorizationSignature checks that signatureHex was produced by
// auth.From over the EIP-712 digest of (domain, auth). Address comparison is
// case-insensitive. Pure: no chain access.
func VerifyAuthorizationSignature(
	domain TypedDataDomain,
	auth types.ExactEIP3009Authorization,
	signatureHex string,
) (bool, error) {
	signature, err := HexToBytes(signatureHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature encoding: %w", err)
	}

	digest, err := HashTransferAuthorization(domain, auth)
	if err != nil {
		return false, err
	}

	recovered, err := RecoverSigner(digest, signature)
	if err != nil {
		return false, err
	}

	return strings.EqualFold(recovered.Hex(), auth.From), nil
}
