// The buyer binary runs the reference buyer flow from the command line:
// request, get challenged, sign, retry, print the receipt. With -demo it
// asks the facilitator to run the same flow server-side instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/arena-api/x402/facilitator"
	xhttp "github.com/arena-api/x402/http"
	"github.com/arena-api/x402/mechanisms/evm"
	exactclient "github.com/arena-api/x402/mechanisms/evm/exact/client"
	signers "github.com/arena-api/x402/signers/evm"
)

func main() {
	_ = godotenv.Load()

	var (
		target  = flag.String("url", "", "protected resource URL (defaults to API_URL)")
		keyHex  = flag.String("key", "", "buyer private key hex (defaults to DEMO_BUYER_KEY)")
		network = flag.String("network", "", "CAIP-2 network tag (defaults to X402_NETWORK)")
		prompt  = flag.String("q", "hello", "prompt to buy a completion for")
		demo    = flag.Bool("demo", false, "run the flow server-side via the facilitator demo endpoint")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if *demo {
		runDemo(ctx, *prompt)
		return
	}

	if *target == "" {
		*target = envOr(facilitator.EnvDemoSellerURL, "http://127.0.0.1:8402/v1/complete")
	}
	if *keyHex == "" {
		*keyHex = os.Getenv(facilitator.EnvDemoBuyerKey)
	}
	if *network == "" {
		*network = envOr(facilitator.EnvNetwork, evm.NetworkConfluxESpace)
	}
	if *keyHex == "" {
		fmt.Fprintln(os.Stderr, "no buyer key: pass -key or set DEMO_BUYER_KEY")
		os.Exit(1)
	}

	signer, err := signers.NewClientSignerFromPrivateKey(*keyHex)
	if err != nil {
		logger.Error("invalid buyer key", "error", err)
		os.Exit(1)
	}
	fmt.Printf("buyer: %s\n", signer.Address())

	scheme := exactclient.NewExactEvmScheme(signer, *network, nil)
	client := xhttp.NewPaymentClient(scheme, xhttp.WithLogger(logger))

	resp, err := xhttp.Get(ctx, withPrompt(*target, *prompt), client)
	if err != nil {
		logger.Error("request failed", "error", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	fmt.Printf("status: %d\n", resp.StatusCode)
	fmt.Printf("body:   %s\n", body)

	settlement, ok, err := xhttp.SettlementFromResponse(resp)
	if err != nil {
		logger.Warn("unreadable settlement header", "error", err)
		return
	}
	if ok {
		fmt.Printf("paid:   %v\n", settlement.Success)
		fmt.Printf("tx:     %s\n", settlement.Transaction)
		fmt.Printf("payer:  %s\n", settlement.Payer)
	}
}

func runDemo(ctx context.Context, prompt string) {
	apiKey := os.Getenv(facilitator.EnvAPIKey)
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "demo mode needs "+facilitator.EnvAPIKey)
		os.Exit(1)
	}
	base := "http://127.0.0.1:" + envOr(facilitator.EnvPort, facilitator.DefaultPort)

	result, err := xhttp.NewFacilitatorClient(base, apiKey).DemoAI(ctx, prompt)
	if err != nil {
		slog.Error("demo failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("status: %d\n", result.Status)
	fmt.Printf("paid:   %v\n", result.Paid)
	fmt.Printf("body:   %s\n", result.Body)
	if result.Settlement != nil {
		fmt.Printf("tx:     %s\n", result.Settlement.Transaction)
	}
}

func withPrompt(target, prompt string) string {
	if prompt == "" {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("q", prompt)
	u.RawQuery = q.Encode()
	return u.String()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
