// The facilitator binary runs the loopback verify/settle service that owns
// the relayer key.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/arena-api/x402/facilitator"
	"github.com/arena-api/x402/mechanisms/evm"
	exactfacilitator "github.com/arena-api/x402/mechanisms/evm/exact/facilitator"
	signers "github.com/arena-api/x402/signers/evm"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := facilitator.FromEnv()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	relayer, err := signers.NewRelayerSigner(cfg.RelayerKey)
	if err != nil {
		logger.Error("invalid relayer key", "error", err)
		os.Exit(1)
	}

	if err := relayer.Connect(context.Background(), cfg.RPCURL); err != nil {
		logger.Error("chain connection failed", "rpc", cfg.RPCURL, "error", err)
		os.Exit(1)
	}

	expected, _ := evm.ParseChainID(cfg.Network)
	if relayer.ChainID().Cmp(expected) != 0 {
		logger.Error("connected to the wrong chain",
			"network", cfg.Network,
			"expected", expected.String(),
			"got", relayer.ChainID().String())
		os.Exit(1)
	}

	scheme, err := exactfacilitator.NewExactEvmScheme(relayer, exactfacilitator.SchemeConfig{
		Network:       cfg.Network,
		EscrowAdapter: cfg.EscrowAdapter,
	})
	if err != nil {
		logger.Error("scheme setup failed", "error", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	server := facilitator.NewServer(cfg, scheme, relayer, logger)

	fmt.Println("🚀 x402 facilitator")
	fmt.Printf("   relayer:  %s\n", relayer.Address())
	fmt.Printf("   network:  %s (chain %s)\n", cfg.Network, relayer.ChainID())
	fmt.Printf("   rpc:      %s\n", cfg.RPCURL)
	if cfg.EscrowAdapter != "" {
		fmt.Printf("   escrow:   %s\n", cfg.EscrowAdapter)
	} else {
		fmt.Println("   escrow:   disabled")
	}
	fmt.Printf("   binding:  127.0.0.1:%s\n", cfg.Port)

	if err := server.Run(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
