package facilitator

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	x402 "github.com/arena-api/x402"
	"github.com/arena-api/x402/mechanisms/evm"
	"github.com/arena-api/x402/types"
)

// Handler timeouts. Settle gets a generous detached deadline: once a
// transaction is broadcast the facilitator keeps waiting for the receipt
// even if the peer hangs up, so the outcome is always known and logged.
const (
	verifyTimeout = 30 * time.Second
	settleTimeout = 120 * time.Second
	demoTimeout   = 45 * time.Second
	healthTimeout = 5 * time.Second

	maxBodyBytes = 1 << 20
)

// lowBalanceWei is the relayer balance below which health checks start
// warning. 0.1 native token.
var lowBalanceWei = new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)

// PaymentScheme is the verify/settle engine behind the HTTP surface.
// *exactfacilitator.ExactEvmScheme implements it; tests stub it.
type PaymentScheme interface {
	Scheme() string
	Network() string
	Assets() *evm.AssetRegistry
	EscrowAdapter() string
	Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements, mode string) (*types.VerifyResult, error)
	Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements, mode string) (*types.SettlementResult, error)
}

// ChainStatus is the slice of the relayer signer the health and demo
// endpoints need.
type ChainStatus interface {
	Address() string
	GetBalance(ctx context.Context, address string) (*big.Int, error)
	GetChainID(ctx context.Context) (*big.Int, error)
	BalanceOf(ctx context.Context, tokenAddress string, account string) (*big.Int, error)
}

// Server is the facilitator HTTP service.
type Server struct {
	config *Config
	scheme PaymentScheme
	chain  ChainStatus
	logger *slog.Logger
	router *gin.Engine
}

// NewServer assembles the router. The caller is responsible for gin mode
// (gin.SetMode) and for running the server via Run.
func NewServer(config *Config, scheme PaymentScheme, chain ChainStatus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: config,
		scheme: scheme,
		chain:  chain,
		logger: logger,
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), metricsMiddleware(), bodyLimit(maxBodyBytes))

	router.HandleMethodNotAllowed = true
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed", "code": x402.CodeMethodNotAllowed})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	router.GET("/x402/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := router.Group("/x402", s.requireAPIKey())
	authed.GET("/supported", s.handleSupported)
	authed.POST("/verify", s.handleVerify(types.ModeEscrow))
	authed.POST("/settle", s.handleSettle(types.ModeEscrow))
	authed.POST("/verify-transfer", s.handleVerify(types.ModeTransfer))
	authed.POST("/settle-transfer", s.handleSettle(types.ModeTransfer))
	authed.POST("/demo-ai", s.handleDemo)

	s.router = router
	return s
}

// Handler exposes the assembled router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run binds to loopback only. The facilitator holds the relayer key and a
// shared secret; it is never internet-facing.
func (s *Server) Run() error {
	addr := "127.0.0.1:" + s.config.Port
	s.logger.Info("facilitator listening",
		"addr", addr,
		"network", s.config.Network,
		"relayer", s.chain.Address(),
		"escrow", s.config.EscrowAdapter != "")
	return s.router.Run(addr)
}

// requireAPIKey matches the shared secret in either auth header.
func (s *Server) requireAPIKey() gin.HandlerFunc {
	expected := []byte(s.config.APIKey)
	return func(c *gin.Context) {
		key := c.GetHeader(x402.HeaderAPIKey)
		if key == "" {
			key = c.GetHeader(x402.HeaderFacilitatorKey)
		}
		if key == "" || subtle.ConstantTimeCompare([]byte(key), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// bodyLimit caps request bodies; oversized bodies surface as unreadable
// JSON in the handlers and get a 400.
func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Health polling is frequent and boring.
		if c.FullPath() == "/x402/health" && c.Writer.Status() == http.StatusOK {
			return
		}

		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", fmt.Sprintf("%.3fs", time.Since(start).Seconds()))
	}
}
