// Package metrics exposes the hub's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every hub metric. A nil *Collector is a valid no-op.
type Collector struct {
	connections      *prometheus.GaugeVec
	admissions       *prometheus.CounterVec
	envelopes        *prometheus.CounterVec
	authorityDrops   prometheus.Counter
	malformed        prometheus.Counter
	rateLimited      prometheus.Counter
	deliveries       prometheus.Counter
	deliveryFailures prometheus.Counter
	reclaimed        *prometheus.CounterVec
	activeClassrooms prometheus.Gauge
	fanout           prometheus.Histogram
	registry         *prometheus.Registry
}

// NewCollector builds the collector and registers it with reg. When reg is nil
// a private registry is created, which Handler then serves.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "classhub_connections",
			Help: "Live connections by role",
		}, []string{"role"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classhub_admissions_total",
			Help: "Admission attempts by role and result",
		}, []string{"role", "result"}),
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classhub_envelopes_total",
			Help: "Inbound envelopes by kind",
		}, []string{"kind"}),
		authorityDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classhub_authority_violations_total",
			Help: "Control envelopes dropped because the sender was not a teacher",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classhub_malformed_envelopes_total",
			Help: "Inbound frames that failed envelope validation",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classhub_rate_limited_total",
			Help: "Inbound envelopes dropped by the per-connection rate limit",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classhub_deliveries_total",
			Help: "Frames enqueued to recipients",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classhub_delivery_failures_total",
			Help: "Frames that could not be enqueued to a recipient",
		}),
		reclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classhub_reclaimed_total",
			Help: "Resources reclaimed by the liveness loop",
		}, []string{"resource"}),
		activeClassrooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "classhub_active_classrooms",
			Help: "Classrooms currently held in memory",
		}),
		fanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "classhub_broadcast_fanout",
			Help:    "Recipients per broadcast",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		registry: reg,
	}

	reg.MustRegister(
		c.connections,
		c.admissions,
		c.envelopes,
		c.authorityDrops,
		c.malformed,
		c.rateLimited,
		c.deliveries,
		c.deliveryFailures,
		c.reclaimed,
		c.activeClassrooms,
		c.fanout,
	)
	return c
}

// Handler serves the collector's registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ConnectionOpened(role string) {
	if c == nil {
		return
	}
	c.connections.WithLabelValues(role).Inc()
}

func (c *Collector) ConnectionClosed(role string) {
	if c == nil {
		return
	}
	c.connections.WithLabelValues(role).Dec()
}

// Admission records an admission attempt; result is "ok" or a wire error code.
func (c *Collector) Admission(role, result string) {
	if c == nil {
		return
	}
	c.admissions.WithLabelValues(role, result).Inc()
}

func (c *Collector) Envelope(kind string) {
	if c == nil {
		return
	}
	c.envelopes.WithLabelValues(kind).Inc()
}

func (c *Collector) AuthorityViolation() {
	if c == nil {
		return
	}
	c.authorityDrops.Inc()
}

func (c *Collector) Malformed() {
	if c == nil {
		return
	}
	c.malformed.Inc()
}

func (c *Collector) RateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Inc()
}

// Broadcast records one fan-out and its per-recipient outcome.
func (c *Collector) Broadcast(delivered, failed int) {
	if c == nil {
		return
	}
	c.deliveries.Add(float64(delivered))
	c.deliveryFailures.Add(float64(failed))
	c.fanout.Observe(float64(delivered + failed))
}

// Reclaimed counts resources removed by the liveness loop ("connection", "classroom", "timer").
func (c *Collector) Reclaimed(resource string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.reclaimed.WithLabelValues(resource).Add(float64(n))
}

func (c *Collector) SetActiveClassrooms(n int) {
	if c == nil {
		return
	}
	c.activeClassrooms.Set(float64(n))
}
