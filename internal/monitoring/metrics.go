package monitoring

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the call subsystem.
// All methods are nil-safe so tests can pass a nil *Metrics.
type Metrics struct {
	WebhookEvents *prometheus.CounterVec
	CallsPlaced   *prometheus.CounterVec
	ActionsBilled *prometheus.CounterVec
}

var metrics *Metrics

// Init registers the metrics once on the default registerer.
func Init() *Metrics {
	if metrics != nil {
		return metrics
	}
	metrics = &Metrics{
		WebhookEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivr_webhook_events_total",
				Help: "Provider status callbacks by outcome",
			},
			[]string{"result"},
		),
		CallsPlaced: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivr_calls_placed_total",
				Help: "Outbound call placements by result",
			},
			[]string{"result"},
		),
		ActionsBilled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivr_actions_billed_total",
				Help: "Voice actions recorded, by whether a credit was debited",
			},
			[]string{"billed"},
		),
	}
	return metrics
}

func (m *Metrics) CountWebhookEvent(result string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) CountCallPlaced(result string) {
	if m == nil {
		return
	}
	m.CallsPlaced.WithLabelValues(result).Inc()
}

func (m *Metrics) CountActionBilled(billed bool) {
	if m == nil {
		return
	}
	v := "false"
	if billed {
		v = "true"
	}
	m.ActionsBilled.WithLabelValues(v).Inc()
}

// Handler exposes the default registry for the /metrics route.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
