package clearnode

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hookpay/clearnode-go/pkg/connection"
)

// Metrics holds the client's Prometheus collectors.
type Metrics struct {
	state           prometheus.Gauge
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inflight        prometheus.Gauge
	authentications *prometheus.CounterVec
	reconnects      prometheus.Counter
	disconnects     *prometheus.CounterVec
	errors          prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clearnode",
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 open, 3 authenticating, 4 authenticated, 5 closing).",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clearnode",
			Name:      "requests_total",
			Help:      "Application requests by method and result.",
		}, []string{"method", "result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clearnode",
			Name:      "request_duration_seconds",
			Help:      "Time from sending a request to settling it.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clearnode",
			Name:      "requests_inflight",
			Help:      "Requests awaiting a response.",
		}),
		authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clearnode",
			Name:      "authentications_total",
			Help:      "Completed handshakes by result.",
		}, []string{"result"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clearnode",
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnection attempts.",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clearnode",
			Name:      "disconnects_total",
			Help:      "Connection closes by initiator.",
		}, []string{"initiator"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clearnode",
			Name:      "errors_total",
			Help:      "Errors reported to observers.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.state, m.requests, m.requestDuration, m.inflight,
		m.authentications, m.reconnects, m.disconnects, m.errors,
	}
}

// The methods below are safe on a nil *Metrics.

func (m *Metrics) setState(s connection.State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}

func (m *Metrics) requestStarted() {
	if m != nil {
		m.inflight.Inc()
	}
}

func (m *Metrics) requestFinished(method, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.requests.WithLabelValues(method, result).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) authenticated(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.authentications.WithLabelValues(result).Inc()
}

func (m *Metrics) reconnecting() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) disconnected(requested bool) {
	if m == nil {
		return
	}
	initiator := "remote"
	if requested {
		initiator = "local"
	}
	m.disconnects.WithLabelValues(initiator).Inc()
}

func (m *Metrics) errored() {
	if m != nil {
		m.errors.Inc()
	}
}
