package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/lilith645/Maat-Network/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "maat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	connectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "maat",
			Subsystem: "relay",
			Name:      "connections_active",
			Help:      "Open client connections.",
		},
		[]string{"transport"},
	)
	connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maat",
			Subsystem: "relay",
			Name:      "connections_total",
			Help:      "Accepted client connections.",
		},
		[]string{"transport"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "maat",
			Subsystem: "relay",
			Name:      "sessions_active",
			Help:      "Sessions currently in the table.",
		},
	)
	sessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "maat",
			Subsystem: "relay",
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		},
	)
	messagesRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maat",
			Subsystem: "relay",
			Name:      "messages_relayed_total",
			Help:      "Messages enqueued for other session members.",
		},
		[]string{"kind"},
	)
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maat",
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Per-recipient copies of relayed messages.",
		},
		[]string{"kind"},
	)
	wireBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maat",
			Subsystem: "relay",
			Name:      "bytes_total",
			Help:      "Frame bytes read from and written to clients.",
		},
		[]string{"transport", "direction"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maat",
			Subsystem: "relay",
			Name:      "decode_errors_total",
			Help:      "Connections dropped for undecodable frames.",
		},
		[]string{"transport"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			connectionsActive, connectionsTotal,
			sessionsActive, sessionsTotal,
			messagesRelayed, deliveries,
			wireBytes, decodeErrors,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordConnectionOpened(transport string) {
	RegisterMetrics()
	connectionsTotal.WithLabelValues(transport).Inc()
	connectionsActive.WithLabelValues(transport).Inc()
}

func RecordConnectionClosed(transport string) {
	RegisterMetrics()
	connectionsActive.WithLabelValues(transport).Dec()
}

func RecordBytes(transport, direction string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	wireBytes.WithLabelValues(transport, direction).Add(float64(n))
}

func RecordDecodeError(transport string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(transport).Inc()
}

// RelayMetrics feeds session table events into the relay metrics.
type RelayMetrics struct{}

func (RelayMetrics) SessionOpened(string) {
	RegisterMetrics()
	sessionsTotal.Inc()
	sessionsActive.Inc()
}

func (RelayMetrics) SessionClosed(string) {
	RegisterMetrics()
	sessionsActive.Dec()
}

func (RelayMetrics) MessageRelayed(kind protocol.Kind, recipients int) {
	RegisterMetrics()
	label := kind.String()
	messagesRelayed.WithLabelValues(label).Inc()
	deliveries.WithLabelValues(label).Add(float64(recipients))
}
