package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Wspólne metryki HTTP
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	serviceReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service considers itself ready to serve traffic.",
	})
)

// Metryki domenowe przepływu autoryzacji
var (
	codesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "center_codes_issued_total",
		Help: "Authorization codes issued.",
	})

	codeExchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "center_code_exchanges_total",
			Help: "Authorization code exchange attempts by outcome.",
		},
		[]string{"status"},
	)

	accessDeniedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "center_access_denied_total",
		Help: "Project access denials during authorization.",
	})

	killSwitchTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "center_kill_switch_total",
		Help: "Global session invalidations (token version bumps).",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, serviceReady,
		codesIssuedTotal, codeExchangesTotal, accessDeniedTotal, killSwitchTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		serviceReady.Set(1)
		return
	}
	serviceReady.Set(0)
}

// CodeIssued increments the issued-codes counter.
func CodeIssued() { codesIssuedTotal.Inc() }

// CodeExchange records an exchange attempt outcome (success, used, expired, invalid).
func CodeExchange(status string) { codeExchangesTotal.WithLabelValues(status).Inc() }

// AccessDenied increments the denial counter.
func AccessDenied() { accessDeniedTotal.Inc() }

// KillSwitch increments the global-invalidation counter.
func KillSwitch() { killSwitchTotal.Inc() }

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path // bez routera bierzemy ścieżkę jak jest
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter — lokalna kopia, żeby znać kod odpowiedzi.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
