// Package metrics exports Prometheus collectors for dewarp runs and the
// HTTP front end.
package metrics

import (
	"net/http"
	"time"

	"page-dewarp/internal/dewarp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors observes pipeline runs. It implements dewarp.Observer.
type Collectors struct {
	runs       *prometheus.CounterVec
	inFlight   prometheus.Gauge
	phases     *prometheus.HistogramVec
	iterations *prometheus.HistogramVec
	duration   prometheus.Histogram

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	requestSize  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on promhttp.Handler.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dewarp_runs_total",
				Help: "Dewarp runs by final status.",
			},
			[]string{"status"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dewarp_in_flight",
			Help: "Number of dewarp runs currently executing.",
		}),
		// phases uses buckets around the expected per-phase time on a
		// 12 megapixel photograph.
		phases: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dewarp_phase_duration_seconds",
				Help:    "Time spent in each pipeline phase.",
				Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"phase"},
		),
		iterations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dewarp_optimizer_iterations",
				Help:    "Outer iterations used by the model optimizer.",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
			[]string{"optimizer"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dewarp_run_duration_seconds",
			Help:    "Wall time of complete dewarp runs.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),

		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dewarp_http_in_flight_requests",
			Help: "Number of currently pending and processed requests.",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dewarp_http_requests_total",
				Help: "A counter for requests to the wrapped handler.",
			},
			[]string{"code", "method"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dewarp_http_request_duration_seconds",
				Help:    "A histogram of latencies for requests.",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"handler", "method"},
		),
		// requestSize has no labels, making it a zero-dimensional ObserverVec.
		requestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dewarp_http_request_size_bytes",
				Help:    "A histogram of request sizes.",
				Buckets: []float64{1500, 100000, 1000000, 5000000, 25000000, 50000000},
			},
			[]string{},
		),
	}
	reg.MustRegister(c.runs, c.inFlight, c.phases, c.iterations, c.duration,
		c.httpInFlight, c.httpRequests, c.httpDuration, c.requestSize)
	return c
}

func (c *Collectors) RunStarted() { c.inFlight.Inc() }

func (c *Collectors) PhaseFinished(phase string, elapsed time.Duration) {
	c.phases.WithLabelValues(phase).Observe(elapsed.Seconds())
}

func (c *Collectors) OptimizerFinished(name string, iterations int) {
	c.iterations.WithLabelValues(name).Observe(float64(iterations))
}

func (c *Collectors) RunFinished(status dewarp.Kind, elapsed time.Duration) {
	c.inFlight.Dec()
	c.runs.WithLabelValues(status.String()).Inc()
	c.duration.Observe(elapsed.Seconds())
}

// Rejected counts a request refused before the pipeline ran, such as one
// turned away by the concurrency limit.
func (c *Collectors) Rejected(status dewarp.Kind) {
	c.runs.WithLabelValues(status.String()).Inc()
}

// Instrument wraps h with the HTTP request collectors under the given
// handler label.
func (c *Collectors) Instrument(name string, h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerInFlight(c.httpInFlight,
		promhttp.InstrumentHandlerDuration(c.httpDuration.MustCurryWith(prometheus.Labels{"handler": name}),
			promhttp.InstrumentHandlerCounter(c.httpRequests,
				promhttp.InstrumentHandlerRequestSize(c.requestSize, h),
			),
		),
	)
}

var _ dewarp.Observer = (*Collectors)(nil)
