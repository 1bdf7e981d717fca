package evm

const (
	// Scheme identifier
	SchemeExact = "exact"

	// Contract function names
	FunctionTransferWithAuthorization = "transferWithAuthorization"
	FunctionAuthorizationState        = "authorizationState"
	FunctionSettlePayment             = "settlePayment"
	FunctionBalanceOf                 = "balanceOf"

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// Default validity period for buyer-signed authorizations (1 hour)
	DefaultValidityPeriod = 3600 // seconds

	// Gas limits for settlement transactions. A direct EIP-3009 transfer is
	// a single token call; the escrow path routes through the adapter and
	// needs headroom for its bookkeeping.
	GasLimitTransfer = 200_000
	GasLimitSettle   = 500_000
)

// Conflux eSpace deployment defaults.
const (
	NetworkConfluxESpace = "eip155:1030"

	USDT0Address = "0xaf375c94a898bcc5c7a833b1e40d2e5a2e7a47ff"
)

// DefaultAssets lists the assets the facilitator settles out of the box.
// Deployments extend this through configuration; nothing outside the final
// registry is ever verified or settled.
var DefaultAssets = []AssetInfo{
	{
		Address:         USDT0Address,
		Symbol:          "USDT0",
		Name:            "USDT0",
		Version:         "1",
		Decimals:        6,
		SupportsEIP3009: true,
	},
}

var (
	// TransferWithAuthorizationABI is the EIP-3009 bytes-signature variant
	// used for direct transfers: the full 65-byte signature travels as one
	// bytes argument.
	TransferWithAuthorizationABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "signature", "type": "bytes"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// AuthorizationStateABI matches the EIP-3009 nonce bitmap getter on the
	// token contract.
	AuthorizationStateABI = []byte(`[
		{
			"inputs": [
				{"name": "authorizer", "type": "address"},
				{"name": "nonce", "type": "bytes32"}
			],
			"name": "authorizationState",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// SettlePaymentABI matches the settlePayment function on the escrow
	// adapter contract.
	SettlePaymentABI = []byte(`[
		{
			"inputs": [
				{"name": "token", "type": "address"},
				{"name": "orderId", "type": "bytes32"},
				{"name": "from", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "signature", "type": "bytes"}
			],
			"name": "settlePayment",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// ERC20BalanceOfABI is the minimal ABI for balance reads.
	ERC20BalanceOfABI = []byte(`[
		{
			"constant": true,
			"inputs": [{"name": "account", "type": "address"}],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)
)
