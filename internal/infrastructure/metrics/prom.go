package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/execution-hub/moldwatch/internal/domain/connection"
)

// Prom records transport and session metrics.
type Prom struct {
	gatherer prometheus.Gatherer

	reconnects       prometheus.Counter
	dialLatency      prometheus.Histogram
	framesDropped    *prometheus.CounterVec
	connectionState  prometheus.Gauge
	messagesReceived *prometheus.CounterVec
	messagesDropped  *prometheus.CounterVec
	controllers      prometheus.Gauge
	denials          prometheus.Counter
}

// NewProm registers all collectors on reg. reg is also used to serve /metrics
// when it implements prometheus.Gatherer.
func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moldwatch_transport_reconnect_attempts_total",
			Help: "Connection attempts made by the transport.",
		}),
		dialLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "moldwatch_transport_dial_seconds",
			Help:    "Time taken by connection attempts, successful or not.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moldwatch_transport_documents_dropped_total",
			Help: "Inbound documents that could not be decoded.",
		}, []string{"reason"}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moldwatch_transport_connection_state",
			Help: "Current connection state (0 offline, 1 online, 2 connecting, 9 error).",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moldwatch_session_messages_received_total",
			Help: "Inbound messages handled by the session, by type.",
		}, []string{"type"}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moldwatch_session_messages_dropped_total",
			Help: "Inbound messages discarded by the session, by type and reason.",
		}, []string{"type", "reason"}),
		controllers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moldwatch_controllers_tracked",
			Help: "Controllers currently held in the store.",
		}),
		denials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moldwatch_session_join_denied_total",
			Help: "Join attempts refused by the server.",
		}),
	}

	reg.MustRegister(
		p.reconnects,
		p.dialLatency,
		p.framesDropped,
		p.connectionState,
		p.messagesReceived,
		p.messagesDropped,
		p.controllers,
		p.denials,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		p.gatherer = g
	}
	return p
}

func (p *Prom) ReconnectAttempt() {
	p.reconnects.Inc()
}

func (p *Prom) DialFinished(d time.Duration) {
	p.dialLatency.Observe(d.Seconds())
}

func (p *Prom) DocumentDropped(reason string) {
	p.framesDropped.WithLabelValues(reason).Inc()
}

func (p *Prom) ConnectionState(state connection.State) {
	p.connectionState.Set(float64(state))
}

func (p *Prom) MessageReceived(messageType string) {
	p.messagesReceived.WithLabelValues(messageType).Inc()
}

func (p *Prom) MessageDropped(messageType, reason string) {
	p.messagesDropped.WithLabelValues(messageType, reason).Inc()
}

func (p *Prom) ControllersTracked(n int) {
	p.controllers.Set(float64(n))
}

func (p *Prom) JoinDenied() {
	p.denials.Inc()
}

// Handler serves the Prometheus exposition format.
func (p *Prom) Handler() http.Handler {
	if p.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}
