package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Alert kinds raised by the quality controllers.
const (
	AlertQualityDegradation  = "quality_degradation"
	AlertConsecutiveFailures = "consecutive_failures"
)

// Alert is an operator-facing notification about degraded quality.
type Alert struct {
	Type       string    `json:"type"`
	Severity   string    `json:"severity"` // critical | warning
	WorkflowID string    `json:"workflow_id,omitempty"`
	Message    string    `json:"message"`
	Value      float64   `json:"value,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sink receives metrics and alerts from the quality controllers.
// Implementations must be safe for concurrent use.
type Sink interface {
	RecordMetrics(scope string, fields map[string]float64)
	SendAlert(alert Alert)
}

// Noop discards everything. It is the default sink.
type Noop struct{}

func (Noop) RecordMetrics(string, map[string]float64) {}
func (Noop) SendAlert(Alert)                          {}

// Prometheus exports observed values and alert counts through a private
// registry, keeping tests and multiple instances from colliding on the
// global default registry.
type Prometheus struct {
	registry *prometheus.Registry
	metrics  *prometheus.GaugeVec
	alerts   *prometheus.CounterVec
}

// NewPrometheus builds a sink with its own registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		metrics: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "patlas",
			Name:      "quality_metric",
			Help:      "Last observed value per quality metric.",
		}, []string{"scope", "name"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patlas",
			Name:      "quality_alerts_total",
			Help:      "Alerts raised by the quality controllers.",
		}, []string{"type", "severity"}),
	}
	p.registry.MustRegister(p.metrics, p.alerts)
	return p
}

// RecordMetrics sets one gauge per field under the given scope.
func (p *Prometheus) RecordMetrics(scope string, fields map[string]float64) {
	for name, value := range fields {
		p.metrics.WithLabelValues(scope, name).Set(value)
	}
}

// SendAlert counts the alert by type and severity.
func (p *Prometheus) SendAlert(alert Alert) {
	p.alerts.WithLabelValues(alert.Type, alert.Severity).Inc()
}

// Handler serves the registry in Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
