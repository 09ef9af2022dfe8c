// Package metrics exports connection activity to Prometheus.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/risa-org/cdp/protocol"
)

// Collector implements session.Observer. One collector can observe any
// number of connections; register it once.
type Collector struct {
	received      *prometheus.CounterVec
	sent          *prometheus.CounterVec
	receiveErrors *prometheus.CounterVec
	handlerErrors *prometheus.CounterVec
	sessions      prometheus.Gauge
}

func NewCollector(namespace string) *Collector {
	return &Collector{
		received: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Inbound messages by kind.",
			},
			[]string{"kind"},
		),
		sent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "sent_total",
				Help:      "Outbound messages by kind.",
			},
			[]string{"kind"},
		),
		receiveErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "dropped_total",
				Help:      "Inbound messages dropped, by reason.",
			},
			[]string{"reason"},
		),
		handlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "handlers",
				Name:      "errors_total",
				Help:      "Handler failures reported as internal errors, by method.",
			},
			[]string{"method"},
		),
		sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sessions",
				Name:      "open",
				Help:      "Sessions currently open, root sessions included.",
			},
		),
	}
}

// Register adds every metric to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.received, c.sent, c.receiveErrors, c.handlerErrors, c.sessions} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) MessageReceived(kind protocol.Kind) {
	c.received.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) MessageSent(kind protocol.Kind) {
	c.sent.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) ReceiveError(err error) {
	c.receiveErrors.WithLabelValues(dropReason(err)).Inc()
}

func (c *Collector) HandlerError(method string, _ error) {
	c.handlerErrors.WithLabelValues(method).Inc()
}

func (c *Collector) SessionOpened() { c.sessions.Inc() }

func (c *Collector) SessionClosed() { c.sessions.Dec() }

func dropReason(err error) string {
	var (
		de *protocol.DeserializationError
		us *protocol.UnknownSessionError
		pe *protocol.MessageProcessingError
	)
	switch {
	case errors.As(err, &de):
		return "deserialization"
	case errors.As(err, &us):
		return "unknown_session"
	case errors.As(err, &pe):
		return "processing"
	default:
		return "other"
	}
}
