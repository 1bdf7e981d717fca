package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	x402evm "github.com/arena-api/x402/mechanisms/evm"
)

const (
	receiptPollInterval = 2 * time.Second
	connectTimeout      = 5 * time.Second
)

// RelayerSigner implements x402evm.FacilitatorEvmSigner over go-ethereum's
// ethclient. One instance fronts one relayer key on one chain; Connect must
// complete before the signer is shared across requests.
type RelayerSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	ethClient  *ethclient.Client
	chainID    *big.Int
}

// NewRelayerSigner creates a relayer signer from a hex-encoded private key.
func NewRelayerSigner(privateKeyHex string) (*RelayerSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relayer private key: %w", err)
	}

	return &RelayerSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Connect dials the RPC endpoint and pins the chain id. The chain id lookup
// is bounded so a dead node fails startup fast instead of hanging it.
func (s *RelayerSigner) Connect(ctx context.Context, rpcURL string) error {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RPC: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	chainID, err := client.ChainID(checkCtx)
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to read chain id from %s: %w", rpcURL, err)
	}

	s.ethClient = client
	s.chainID = chainID
	return nil
}

// ChainID returns the chain id pinned at Connect time.
func (s *RelayerSigner) ChainID() *big.Int {
	return s.chainID
}

// Address returns the checksummed relayer address.
func (s *RelayerSigner) Address() string {
	return s.address.Hex()
}

// ReadContract calls a read-only contract method and returns the unpacked
// result, unwrapped when the method has a single return value.
func (s *RelayerSigner) ReadContract(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	if s.ethClient == nil {
		return nil, errors.New("RPC client not configured")
	}

	parsedABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := parsedABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", functionName, err)
	}

	to := common.HexToAddress(contractAddress)
	resultBytes, err := s.ethClient.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, decodeCallError(err)
	}

	unpacked, err := parsedABI.Unpack(functionName, resultBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", functionName, err)
	}

	switch len(unpacked) {
	case 0:
		return nil, nil
	case 1:
		return unpacked[0], nil
	default:
		return unpacked, nil
	}
}

// StaticCall simulates a state-changing method without broadcasting it. The
// from address matters: contracts gate on msg.sender, so simulations run as
// the relayer that will later send the real transaction. A revert comes back
// as *x402evm.RevertError with the decoded reason.
func (s *RelayerSigner) StaticCall(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	functionName string,
	from string,
	args ...interface{},
) error {
	if s.ethClient == nil {
		return errors.New("RPC client not configured")
	}

	parsedABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := parsedABI.Pack(functionName, args...)
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", functionName, err)
	}

	to := common.HexToAddress(contractAddress)
	msg := ethereum.CallMsg{
		From: common.HexToAddress(from),
		To:   &to,
		Data: data,
	}

	if _, err := s.ethClient.CallContract(ctx, msg, nil); err != nil {
		return decodeCallError(err)
	}
	return nil
}

// WriteContract signs and broadcasts a contract call with a fixed gas limit
// and returns the transaction hash. Gas is not estimated: settlement
// transactions carry known ceilings, and estimation would reject the
// deliberately-broadcast-anyway failure cases.
func (s *RelayerSigner) WriteContract(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	functionName string,
	gasLimit uint64,
	args ...interface{},
) (string, error) {
	if s.ethClient == nil {
		return "", errors.New("RPC client not configured")
	}

	parsedABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := parsedABI.Pack(functionName, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack %s: %w", functionName, err)
	}

	nonce, err := s.ethClient.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := s.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	to := common.HexToAddress(contractAddress)
	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.ethClient.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

// WaitForTransactionReceipt polls until the transaction is mined or the
// context expires.
func (s *RelayerSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*x402evm.TransactionReceipt, error) {
	if s.ethClient == nil {
		return nil, errors.New("RPC client not configured")
	}

	hash := common.HexToHash(txHash)

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := s.ethClient.TransactionReceipt(ctx, hash)
			if err != nil {
				if errors.Is(err, ethereum.NotFound) {
					continue
				}
				return nil, err
			}
			return &x402evm.TransactionReceipt{
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber.Uint64(),
				TxHash:      receipt.TxHash.Hex(),
			}, nil
		}
	}
}

// BalanceOf reads an ERC-20 balance.
func (s *RelayerSigner) BalanceOf(ctx context.Context, tokenAddress string, account string) (*big.Int, error) {
	if s.ethClient == nil {
		return nil, errors.New("RPC client not configured")
	}
	return readBalanceOf(ctx, s.ethClient, tokenAddress, common.HexToAddress(account))
}

// GetBalance reads a native-token balance at the latest block.
func (s *RelayerSigner) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if s.ethClient == nil {
		return nil, errors.New("RPC client not configured")
	}
	return s.ethClient.BalanceAt(ctx, common.HexToAddress(address), nil)
}

// GetChainID queries the node for its chain id. Unlike ChainID this hits the
// node every time, which is what the health check wants.
func (s *RelayerSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	if s.ethClient == nil {
		return nil, errors.New("RPC client not configured")
	}
	return s.ethClient.ChainID(ctx)
}

// readBalanceOf is shared by the relayer and client signers.
func readBalanceOf(ctx context.Context, client *ethclient.Client, tokenAddress string, account common.Address) (*big.Int, error) {
	parsedABI, err := abi.JSON(strings.NewReader(string(x402evm.ERC20BalanceOfABI)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := parsedABI.Pack(x402evm.FunctionBalanceOf, account)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	to := common.HexToAddress(tokenAddress)
	resultBytes, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, decodeCallError(err)
	}

	unpacked, err := parsedABI.Unpack(x402evm.FunctionBalanceOf, resultBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf result: %w", err)
	}

	balance, ok := unpacked[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", unpacked[0])
	}
	return balance, nil
}

// decodeCallError lifts node errors that carry revert data into
// *x402evm.RevertError so callers can tell a revert from a dead node.
func decodeCallError(err error) error {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if encoded, ok := dataErr.ErrorData().(string); ok {
			if raw, decodeErr := hexutil.Decode(encoded); decodeErr == nil {
				return x402evm.DecodeRevert(raw, err.Error())
			}
		}
	}

	const revertPrefix = "execution reverted"
	msg := err.Error()
	if idx := strings.Index(msg, revertPrefix); idx >= 0 {
		reason := strings.TrimSpace(strings.TrimPrefix(msg[idx+len(revertPrefix):], ":"))
		if reason == "" {
			reason = revertPrefix
		}
		return &x402evm.RevertError{Reason: reason}
	}

	return err
}
