package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors exported by the lease server.
type Metrics struct {
	messages  *prometheus.CounterVec
	replies   *prometheus.CounterVec
	exhausted prometheus.Counter
	allocated prometheus.Gauge
	capacity  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leased",
			Name:      "messages_received_total",
			Help:      "Datagrams received by the lease server, by message kind.",
		}, []string{"kind"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leased",
			Name:      "replies_sent_total",
			Help:      "Replies sent by the lease server, by message kind.",
		}, []string{"kind"}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leased",
			Name:      "pool_exhausted_total",
			Help:      "Discover messages dropped because the pool had no free address.",
		}),
		allocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leased",
			Name:      "pool_allocated_addresses",
			Help:      "Addresses currently allocated from the pool.",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leased",
			Name:      "pool_capacity_addresses",
			Help:      "Total addresses in the pool range.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.messages, m.replies, m.exhausted, m.allocated, m.capacity)
	}
	return m
}
