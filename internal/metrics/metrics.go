package metrics

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedistd_build_info",
			Help: "Build information of the fee distributor",
		},
		[]string{"version", "commit", "date"},
	)

	// Distribution metrics
	DistributionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedistd_distribution_state",
			Help: "Current distribution state (0 None, 1 Initiated, 2 ReadDataReceived, 3 BridgingCompleted, 4 DistributePending)",
		},
	)

	StateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedistd_state_transitions_total",
			Help: "Total number of distribution state transitions",
		},
		[]string{"from", "to"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedistd_operations_total",
			Help: "Total number of distributor operations by outcome",
		},
		[]string{"operation", "code"}, // code is "OK" or the error code name
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedistd_operation_duration_seconds",
			Help:    "Duration of distributor operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"operation"},
	)

	BridgedAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedistd_bridged_amount_total",
			Help: "Total fee token amount bridged out, in token units",
		},
		[]string{"destination_chain"},
	)

	BucketAmount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedistd_bucket_amount",
			Help: "Reward token amount of each bucket of the last distribution",
		},
		[]string{"bucket"},
	)

	LastDistributionTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedistd_last_distribution_timestamp_seconds",
			Help: "Unix time of the last completed distribution",
		},
	)

	ReferralRewardsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedistd_referral_rewards_sent_total",
			Help: "Total referral rewards amount sent, in token units",
		},
		[]string{"token"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedistd_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedistd_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedistd_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordOperation records the outcome of a distributor operation. code is
// empty on success.
func RecordOperation(operation, code string, duration time.Duration) {
	if code == "" {
		code = "OK"
	}
	OperationsTotal.WithLabelValues(operation, code).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Amount converts a token amount for gauges and counters. Precision loss is
// accepted.
func Amount(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
