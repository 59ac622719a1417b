package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TotalRequests counts total HTTP requests
	TotalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollmean_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration measures request latency
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollmean_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// ActiveRequests tracks number of active HTTP requests
	ActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rollmean_http_active_requests",
			Help: "Number of active HTTP requests",
		},
	)

	// ErrorsTotal counts total errors
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollmean_http_errors_total",
			Help: "Total number of HTTP errors",
		},
		[]string{"method", "endpoint", "status"},
	)

	// SamplesIngested counts samples inserted per series
	SamplesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollmean_samples_ingested_total",
			Help: "Total number of samples inserted into a series",
		},
		[]string{"series"},
	)

	// CurrentMean tracks the latest mean of each series
	CurrentMean = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rollmean_current_mean",
			Help: "Latest computed mean of a series",
		},
		[]string{"series"},
	)

	// MeanDrift tracks incremental mean minus exact window mean
	MeanDrift = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rollmean_mean_drift",
			Help: "Difference between the incremental mean and the exact mean of the window",
		},
		[]string{"series"},
	)

	// ActiveSeries tracks how many series the service holds
	ActiveSeries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rollmean_active_series",
			Help: "Number of series held in memory",
		},
	)

	// ComputeRuns counts delimited-text compute runs by outcome
	ComputeRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollmean_compute_runs_total",
			Help: "Total number of compute runs",
		},
		[]string{"status"},
	)

	// ComputeLines counts lines processed by compute runs
	ComputeLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rollmean_compute_lines_total",
			Help: "Total number of input lines processed by compute runs",
		},
	)

	// ParseErrors counts records rejected because their value could not be parsed
	ParseErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rollmean_parse_errors_total",
			Help: "Total number of input records with an unparsable value",
		},
	)
)

func init() {
	// HTTP metrics
	prometheus.MustRegister(TotalRequests)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ActiveRequests)
	prometheus.MustRegister(ErrorsTotal)

	// Series metrics
	prometheus.MustRegister(SamplesIngested)
	prometheus.MustRegister(CurrentMean)
	prometheus.MustRegister(MeanDrift)
	prometheus.MustRegister(ActiveSeries)

	// Compute metrics
	prometheus.MustRegister(ComputeRuns)
	prometheus.MustRegister(ComputeLines)
	prometheus.MustRegister(ParseErrors)
}

// RecordSamples updates the series metrics after n samples were inserted
func RecordSamples(series string, n int, mean, drift float64) {
	SamplesIngested.WithLabelValues(series).Add(float64(n))
	CurrentMean.WithLabelValues(series).Set(mean)
	MeanDrift.WithLabelValues(series).Set(drift)
}

// RemoveSeries drops the per-series metrics of a deleted series
func RemoveSeries(series string) {
	SamplesIngested.DeleteLabelValues(series)
	CurrentMean.DeleteLabelValues(series)
	MeanDrift.DeleteLabelValues(series)
}

// SetActiveSeries sets the number of series held in memory
func SetActiveSeries(n int) {
	ActiveSeries.Set(float64(n))
}

// RecordComputeRun records the outcome of a compute run
func RecordComputeRun(status string, lines int) {
	ComputeRuns.WithLabelValues(status).Inc()
	ComputeLines.Add(float64(lines))
}

// RecordParseError increments the parse error counter
func RecordParseError() {
	ParseErrors.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{w, http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware records metrics for each request
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics endpoint itself
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ActiveRequests.Inc()
		defer ActiveRequests.Dec()

		wrapped := newResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		statusCode := strconv.Itoa(wrapped.statusCode)
		endpoint := normalizeEndpoint(r.URL.Path)

		TotalRequests.WithLabelValues(r.Method, endpoint, statusCode).Inc()
		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(duration)

		if wrapped.statusCode >= 400 {
			ErrorsTotal.WithLabelValues(r.Method, endpoint, statusCode).Inc()
		}
	})
}

// normalizeEndpoint keeps series names out of the endpoint label
func normalizeEndpoint(path string) string {
	switch path {
	case "/metrics", "/health", "/compute", "/series":
		return path
	default:
		if len(path) > 0 && path[0] == '/' {
			// Return first path segment
			for i := 1; i < len(path); i++ {
				if path[i] == '/' {
					return path[:i]
				}
			}
		}
		return path
	}
}

// MetricsHandler returns the Prometheus metrics handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
