package facilitator

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "x402_facilitator_requests_total",
		Help: "HTTP requests handled, by route and status.",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "x402_facilitator_request_duration_seconds",
		Help:    "HTTP request latency, by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	verifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "x402_verify_total",
		Help: "Verify verdicts, by settlement mode and outcome.",
	}, []string{"mode", "outcome"})

	settleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "x402_settle_total",
		Help: "Settle outcomes, by settlement mode and outcome.",
	}, []string{"mode", "outcome"})

	relayerBalanceWei = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "x402_relayer_native_balance_wei",
		Help: "Relayer native balance as observed by the last health check.",
	})
)

// metricsMiddleware records request counts and latency per registered route.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
