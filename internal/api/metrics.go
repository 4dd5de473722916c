package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/h2oai/h2o-3-sub001/internal/orchestrator"
)

const (
	unmatched   = "unmatched"
	eventsRoute = "/v1/events"
)

var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "h2otest_api_requests_total",
			Help: "Total number of status API requests by route and status code.",
		},
		[]string{"route", "status"},
	)

	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "h2otest_api_request_duration_seconds",
			Help:    "Status API request latency in seconds, event streams excluded.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"route"},
	)

	eventStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "h2otest_event_streams",
			Help: "Number of connected run event subscribers.",
		},
	)

	eventStreamDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "h2otest_event_stream_duration_seconds",
			Help:    "How long run event subscribers stayed connected, in seconds.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		},
	)

	eventsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "h2otest_events_sent_total",
			Help: "Run events written to subscribers, by event type.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(eventStreams)
	prometheus.MustRegister(eventStreamDuration)
	prometheus.MustRegister(eventsSent)

	for _, t := range []orchestrator.EventType{
		orchestrator.EventRunStarted, orchestrator.EventCloudState,
		orchestrator.EventJobStarted, orchestrator.EventJobFinished,
		orchestrator.EventRunFinished,
	} {
		eventsSent.WithLabelValues(string(t))
	}
}

// metricsMiddleware counts requests per chi route pattern. The event stream
// lives as long as the run, so its latency goes to the stream histogram
// instead.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		apiRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		if route != eventsRoute {
			apiRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// trackStream marks an event subscriber connected; the returned func marks
// it gone and records how long it stayed.
func trackStream() func() {
	start := time.Now()
	eventStreams.Inc()
	return func() {
		eventStreams.Dec()
		eventStreamDuration.Observe(time.Since(start).Seconds())
	}
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
