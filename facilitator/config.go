// Package facilitator is the loopback HTTP service that owns the relayer
// key: it verifies signed payment payloads off-chain and settles them
// on-chain, in direct-transfer and escrow-adapter modes.
package facilitator

import (
	"errors"
	"fmt"
	"os"

	"github.com/arena-api/x402/mechanisms/evm"
)

// Environment keys.
const (
	EnvRelayerKey    = "ARENA_SIGNER_PRIVATE_KEY"
	EnvAPIKey        = "X402_FACILITATOR_KEY"
	EnvPort          = "X402_FACILITATOR_PORT"
	EnvRPCURL        = "X402_RPC_URL"
	EnvNetwork       = "X402_NETWORK"
	EnvAdapter       = "X402_ADAPTER_ADDRESS"
	EnvDemoBuyerKey  = "DEMO_BUYER_KEY"
	EnvDemoSellerURL = "API_URL"
)

// Defaults.
const (
	DefaultPort   = "3849"
	DefaultRPCURL = "https://evm.confluxrpc.com"
)

// Config is the boot-time configuration of the facilitator process.
type Config struct {
	// Port to bind on loopback.
	Port string

	// APIKey is the shared secret expected in X-API-Key or X-Facilitator-Key.
	APIKey string

	// RelayerKey is the hex private key that signs settlement transactions.
	RelayerKey string

	// RPCURL is the JSON-RPC endpoint of the chain node.
	RPCURL string

	// Network is the CAIP-2 tag of the only chain this process settles on.
	Network string

	// EscrowAdapter is the settlePayment contract; empty disables escrow.
	EscrowAdapter string

	// DemoBuyerKey funds the /x402/demo-ai flow. Optional.
	DemoBuyerKey string

	// DemoSellerURL is the protected endpoint the demo flow buys. Optional.
	DemoSellerURL string
}

// FromEnv builds a Config from the environment, applying defaults for the
// optional knobs and failing on missing secrets. Callers load .env files
// before this (godotenv in main).
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:          envOr(EnvPort, DefaultPort),
		APIKey:        os.Getenv(EnvAPIKey),
		RelayerKey:    os.Getenv(EnvRelayerKey),
		RPCURL:        envOr(EnvRPCURL, DefaultRPCURL),
		Network:       envOr(EnvNetwork, evm.NetworkConfluxESpace),
		EscrowAdapter: os.Getenv(EnvAdapter),
		DemoBuyerKey:  os.Getenv(EnvDemoBuyerKey),
		DemoSellerURL: os.Getenv(EnvDemoSellerURL),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or malformed field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvAPIKey))
	}
	if c.RelayerKey == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvRelayerKey))
	}
	if _, err := evm.ParseChainID(c.Network); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", EnvNetwork, err))
	}
	if c.EscrowAdapter != "" && !evm.IsValidAddress(c.EscrowAdapter) {
		errs = append(errs, fmt.Errorf("%s is not a valid address: %q", EnvAdapter, c.EscrowAdapter))
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
