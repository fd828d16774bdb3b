package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agrimarket"

var gateWaitBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics groups the service's prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	GateWait        prometheus.Histogram
	RealtimeClients prometheus.Gauge
	RealtimeEvicted prometheus.Counter
	TypingDropped   prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiation_operations_total",
			Help:      "Negotiation operations by name and outcome kind.",
		}, []string{"operation", "result"}),
		GateWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiation_gate_wait_seconds",
			Help:      "Time spent waiting for the per-negotiation critical section.",
			Buckets:   gateWaitBuckets,
		}),
		RealtimeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_clients",
			Help:      "Currently registered realtime clients.",
		}),
		RealtimeEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_evicted_total",
			Help:      "Clients disconnected because their send buffer was full.",
		}),
		TypingDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_typing_dropped_total",
			Help:      "Typing signals dropped on a full send buffer.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Transitions, m.GateWait, m.RealtimeClients, m.RealtimeEvicted, m.TypingDropped)
	}
	return m
}

func (m *Metrics) ObserveOperation(operation, result string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) ObserveGateWait(d time.Duration) {
	if m == nil {
		return
	}
	m.GateWait.Observe(d.Seconds())
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.RealtimeClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.RealtimeClients.Dec()
}

func (m *Metrics) ClientEvicted() {
	if m == nil {
		return
	}
	m.RealtimeEvicted.Inc()
}

func (m *Metrics) TypingSignalDropped() {
	if m == nil {
		return
	}
	m.TypingDropped.Inc()
}
