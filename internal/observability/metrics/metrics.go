package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// AvailabilityMetrics exposes counters/histograms for availability reads.
type AvailabilityMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	slotsReturned   *prometheus.HistogramVec
}

func NewAvailabilityMetrics(reg prometheus.Registerer) *AvailabilityMetrics {
	m := &AvailabilityMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "availability",
			Name:      "requests_total",
			Help:      "Total availability computations by operation and outcome",
		}, []string{"operation", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agenda",
			Subsystem: "availability",
			Name:      "request_duration_seconds",
			Help:      "Latency of availability computations including storage reads",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		slotsReturned: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agenda",
			Subsystem: "availability",
			Name:      "slots_returned",
			Help:      "Number of bookable slots returned per day query",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"channel"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration, m.slotsReturned)
	return m
}

func (m *AvailabilityMetrics) ObserveRequest(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(operation, outcome).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(seconds)
}

func (m *AvailabilityMetrics) ObserveSlots(channel string, count int) {
	if m == nil {
		return
	}
	m.slotsReturned.WithLabelValues(channel).Observe(float64(count))
}

// BookingMetrics counts booking attempts by result.
type BookingMetrics struct {
	attemptsTotal *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Total booking attempts by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.attemptsTotal)
	return m
}

func (m *BookingMetrics) ObserveAttempt(result string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(result).Inc()
}
