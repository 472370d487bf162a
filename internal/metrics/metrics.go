package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/enterprise/risk-registry/internal/models"
)

// Metrics provides observability for the registries and their notification sinks.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Notifications     *prometheus.CounterVec
	AlertsBridged     *prometheus.CounterVec
}

// New registers all registry metrics with reg. Pass prometheus.DefaultRegisterer
// in binaries and prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_registry_operations_total",
			Help: "Registry entry point calls by outcome code",
		}, []string{"registry", "operation", "outcome"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "risk_registry_operation_duration_seconds",
			Help:    "Duration of state-mutating registry calls",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"registry", "operation"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_registry_notifications_total",
			Help: "Notifications handed to each sink by delivery result",
		}, []string{"sink", "result"}),
		AlertsBridged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_registry_alerts_bridged_total",
			Help: "Alerts created by the alert bridge by outcome code",
		}, []string{"outcome"}),
	}
}

// ObserveOperation records one entry point call. Call with time.Now() taken at
// the start of the operation.
func (m *Metrics) ObserveOperation(registry, operation string, err error, start time.Time) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(registry, operation, models.Code(err)).Inc()
	m.OperationDuration.WithLabelValues(registry, operation).Observe(time.Since(start).Seconds())
}

// ObserveNotification records a delivery attempt to a sink.
func (m *Metrics) ObserveNotification(sink string, err error) {
	if m == nil {
		return
	}
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	m.Notifications.WithLabelValues(sink, result).Inc()
}

// ObserveBridgedAlert records an alert the bridge tried to create.
func (m *Metrics) ObserveBridgedAlert(err error) {
	if m == nil {
		return
	}
	m.AlertsBridged.WithLabelValues(models.Code(err)).Inc()
}
