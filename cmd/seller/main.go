// The seller binary serves a paid demo completion endpoint behind the
// payment gate.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	x402 "github.com/arena-api/x402"
	"github.com/arena-api/x402/facilitator"
	xhttp "github.com/arena-api/x402/http"
	"github.com/arena-api/x402/mechanisms/evm"
	"github.com/arena-api/x402/paylog"
	"github.com/arena-api/x402/types"
)

const (
	envTreasury   = "X402_API_TREASURY"
	envPrice      = "X402_API_PRICE"
	envSellerPort = "X402_SELLER_PORT"
	envRedisAddr  = "X402_REDIS_ADDR"

	defaultPrice      = "10000"
	defaultSellerPort = "8402"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	treasury := os.Getenv(envTreasury)
	apiKey := os.Getenv(facilitator.EnvAPIKey)
	if treasury == "" || apiKey == "" {
		logger.Error("missing configuration",
			envTreasury, treasury != "",
			facilitator.EnvAPIKey, apiKey != "")
		os.Exit(1)
	}
	if !evm.IsValidAddress(treasury) {
		logger.Error("treasury is not a valid address", "treasury", treasury)
		os.Exit(1)
	}

	price := envOr(envPrice, defaultPrice)
	port := envOr(envSellerPort, defaultSellerPort)
	network := envOr(facilitator.EnvNetwork, evm.NetworkConfluxESpace)
	adapter := os.Getenv(facilitator.EnvAdapter)
	if adapter != "" && !evm.IsValidAddress(adapter) {
		logger.Error("escrow adapter is not a valid address", "adapter", adapter)
		os.Exit(1)
	}
	facilitatorURL := "http://127.0.0.1:" + envOr(facilitator.EnvPort, facilitator.DefaultPort)

	store := newStore(logger)
	facilitatorClient := xhttp.NewFacilitatorClient(facilitatorURL, apiKey)

	// A dead facilitator is survivable (the gate answers 503s until it comes
	// back), but say so loudly at boot.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if health, err := facilitatorClient.Health(ctx); err != nil {
		logger.Warn("facilitator not healthy at boot", "url", facilitatorURL, "error", err)
	} else {
		logger.Info("facilitator reachable", "relayer", health.Relayer, "network", health.Network)
	}
	cancel()

	gate, err := xhttp.NewPaymentGate(xhttp.GateConfig{
		Facilitator:  facilitatorClient,
		Requirements: buildRequirements(network, treasury, price, adapter),
		Store:        store,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("payment gate setup failed", "error", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer, xhttp.CORS)
	router.MethodNotAllowed(xhttp.MethodNotAllowed)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status":"ok"}`)
	})
	router.Get("/v1/payments", handlePayments(store))

	router.Group(func(r chi.Router) {
		r.Use(gate.Middleware)
		r.Get("/v1/complete", handleComplete)
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Println("🛒 x402 seller")
	fmt.Printf("   treasury:    %s\n", treasury)
	fmt.Printf("   price:       %s (smallest unit)\n", price)
	fmt.Printf("   network:     %s\n", network)
	fmt.Printf("   facilitator: %s\n", facilitatorURL)
	fmt.Printf("   listening:   :%s\n", port)

	if err := server.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// buildRequirements is the seller's price list: always the direct-transfer
// option, plus the escrow option when an adapter is deployed. The challenge
// is a JSON array either way.
func buildRequirements(network, treasury, price, adapter string) []types.PaymentRequirements {
	list := []types.PaymentRequirements{{
		Scheme:            evm.SchemeExact,
		Network:           network,
		Asset:             evm.USDT0Address,
		PayTo:             treasury,
		Amount:            price,
		MaxTimeoutSeconds: 300,
		Extra: types.RequirementsExtra{
			SettlementMode: types.ModeTransfer,
			Name:           "USDT0",
			Version:        "1",
			Description:    "AI completion call",
		},
	}}

	// Escrow authorizations are signed to the adapter, not the treasury: the
	// adapter pulls the funds and routes them, so payTo here is the address
	// the buyer's wallet must name as destination.
	if adapter != "" {
		list = append(list, types.PaymentRequirements{
			Scheme:            evm.SchemeExact,
			Network:           network,
			Asset:             evm.USDT0Address,
			PayTo:             adapter,
			Amount:            price,
			MaxTimeoutSeconds: 300,
			Extra: types.RequirementsExtra{
				AssetTransferMethod: types.AssetTransferMethodEIP3009,
				Name:                "USDT0",
				Version:             "1",
				Description:         "AI completion call (escrow)",
			},
		})
	}
	return list
}

// handleComplete is the protected resource. The real completion backend is
// out of scope; this one proves delivery and echoes the settlement.
func handleComplete(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprintf(w, `{"error":"query parameter q is required","code":%q}`+"\n", x402.CodeRequiredField)
		return
	}

	resp := map[string]interface{}{
		"completion": fmt.Sprintf("echo: %s", q),
	}
	if settlement, ok := xhttp.SettlementFromContext(r.Context()); ok {
		resp["paid_by"] = settlement.Payer
		resp["transaction"] = settlement.Transaction
	}

	w.Header().Set("Content-Type", "application/json")
	writeBody(w, resp)
}

// handlePayments exposes the recent settlement log. Unpaid on purpose: it
// reads money already received.
func handlePayments(store paylog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recent, err := store.Recent(r.Context(), 50)
		if err != nil {
			xhttp.ServiceUnavailable(w, "payment log unavailable")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		writeBody(w, map[string]interface{}{"payments": recent})
	}
}

func newStore(logger *slog.Logger) paylog.Store {
	addr := os.Getenv(envRedisAddr)
	if addr == "" {
		logger.Info("payment log in memory", "hint", envRedisAddr+" unset")
		return paylog.NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	logger.Info("payment log in redis", "addr", addr)
	return paylog.NewRedisStore(client)
}

func writeBody(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
