package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprise/risk-registry/internal/models"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("risk", "UpdateRiskScore", nil, time.Now())
		m.ObserveNotification("kafka", errors.New("down"))
		m.ObserveBridgedAlert(nil)
	})
}

func TestObserveOperationLabelsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveOperation("platform", "Subscribe", nil, time.Now())
	m.ObserveOperation("platform", "Subscribe", fmt.Errorf("%w: months 0", models.ErrInvalidPeriod), time.Now())
	m.ObserveOperation("platform", "Subscribe", nil, time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("platform", "Subscribe", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("platform", "Subscribe", models.Code(models.ErrInvalidPeriod))))
	assert.Equal(t, 1, testutil.CollectAndCount(m.OperationDuration))
}

func TestObserveNotificationAndBridge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveNotification("redis", nil)
	m.ObserveNotification("redis", errors.New("timeout"))
	m.ObserveBridgedAlert(nil)
	m.ObserveBridgedAlert(models.ErrUnauthorized)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("redis", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("redis", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsBridged.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsBridged.WithLabelValues(models.Code(models.ErrUnauthorized))))
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	require.Panics(t, func() { New(reg) })
}
