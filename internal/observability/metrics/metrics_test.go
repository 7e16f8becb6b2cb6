package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailabilityMetrics_ObserveRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAvailabilityMetrics(reg)

	m.ObserveRequest("slots", OutcomeOK, 0.01)
	m.ObserveRequest("slots", OutcomeOK, 0.02)
	m.ObserveRequest("slots", OutcomeError, 0.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("slots", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("slots", OutcomeError)))

	count, err := testutil.GatherAndCount(reg, "agenda_availability_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAvailabilityMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *AvailabilityMetrics
	m.ObserveRequest("slots", OutcomeOK, 1)
	m.ObserveSlots("public", 3)

	var b *BookingMetrics
	b.ObserveAttempt("created")
}

func TestBookingMetrics_ObserveAttempt(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveAttempt("created")
	m.ObserveAttempt("slot_unavailable")
	m.ObserveAttempt("created")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attemptsTotal.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attemptsTotal.WithLabelValues("slot_unavailable")))
}
