package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradingtools"

// Fulfillment attempt results.
const (
	ResultFilled  = "filled"
	ResultWaiting = "waiting"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// Registry holds every collector exported by the process.
var Registry = prometheus.NewRegistry()

var (
	ordersCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_created_total",
		Help:      "Number of limit orders accepted by the order factory.",
	})
	sweeps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poller_sweeps_total",
		Help:      "Number of completed poller sweeps.",
	})
	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "poller_sweep_duration_seconds",
		Help:      "Wall time of a single poller sweep.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
	attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fulfillment_attempts_total",
		Help:      "Fulfillment attempts grouped by outcome.",
	}, []string{"result"})
	pollerRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "poller_running",
		Help:      "1 while the poller is running.",
	})
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests grouped by handler, method and status code.",
	}, []string{"handler", "method", "code"})
	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ordersCreated,
		sweeps,
		sweepDuration,
		attempts,
		pollerRunning,
		httpRequests,
		httpLatency,
	)
}

// OrderCreated counts an accepted limit order.
func OrderCreated() {
	ordersCreated.Inc()
}

// ObserveSweep records a finished sweep.
func ObserveSweep(duration time.Duration) {
	sweeps.Inc()
	sweepDuration.Observe(duration.Seconds())
}

// ObserveAttempt counts a fulfillment attempt with one of the Result* values.
func ObserveAttempt(result string) {
	attempts.WithLabelValues(result).Inc()
}

// SetPollerRunning mirrors the poller state.
func SetPollerRunning(running bool) {
	if running {
		pollerRunning.Set(1)
		return
	}
	pollerRunning.Set(0)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the registry in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
