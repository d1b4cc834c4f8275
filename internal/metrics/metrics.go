package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	OutcomeAccepted = "accepted"
	OutcomeDeclined = "declined"
)

var (
	registerOnce sync.Once

	connectionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hestia_connection_requests_total",
			Help: "Total number of connection request attempts.",
		},
		[]string{"status"},
	)
	connectionResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hestia_connection_responses_total",
			Help: "Total number of connection request responses.",
		},
		[]string{"outcome", "status"},
	)
	disconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hestia_disconnects_total",
			Help: "Total number of disconnect attempts.",
		},
		[]string{"status"},
	)
	locationUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hestia_location_updates_total",
			Help: "Total number of location sample writes.",
		},
		[]string{"status"},
	)
	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hestia_events_published_total",
			Help: "Total number of domain events handed to the broker.",
		},
		[]string{"event_type", "status"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hestia_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hestia_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// Register adds every collector to reg. Only the first call has an effect.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			connectionRequestsTotal,
			connectionResponsesTotal,
			disconnectsTotal,
			locationUpdatesTotal,
			eventsPublishedTotal,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

// Handler exposes the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncConnectionRequest(status string) {
	connectionRequestsTotal.WithLabelValues(status).Inc()
}

func IncConnectionResponse(accepted bool, status string) {
	outcome := OutcomeDeclined
	if accepted {
		outcome = OutcomeAccepted
	}
	connectionResponsesTotal.WithLabelValues(outcome, status).Inc()
}

func IncDisconnect(status string) {
	disconnectsTotal.WithLabelValues(status).Inc()
}

func IncLocationUpdate(status string) {
	locationUpdatesTotal.WithLabelValues(status).Inc()
}

func IncEventPublished(eventType, status string) {
	if eventType == "" {
		eventType = "unknown"
	}
	eventsPublishedTotal.WithLabelValues(eventType, status).Inc()
}

// RecordHTTPRequest observes one completed request. route should be the mux
// pattern rather than the raw path to keep label cardinality bounded.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// Status maps an operation error onto the status label.
func Status(err error) string {
	if err != nil {
		return StatusFailed
	}
	return StatusSuccess
}
