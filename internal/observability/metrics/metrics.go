package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for the booking workflows.
// All methods are safe on a nil receiver so wiring stays optional.
type SchedulingMetrics struct {
	bookingsTotal    *prometheus.CounterVec
	conflictsTotal   *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	noShowsTotal     prometheus.Counter
	statsLatency     prometheus.Histogram
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinova",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Appointments created, by initial status",
		}, []string{"status"}),
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinova",
			Subsystem: "scheduling",
			Name:      "conflicts_total",
			Help:      "Double-booking rejections, by side",
		}, []string{"side"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinova",
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions applied, by target status",
		}, []string{"to"}),
		noShowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinova",
			Subsystem: "scheduling",
			Name:      "no_shows_swept_total",
			Help:      "Appointments flagged no-show by the sweep",
		}),
		statsLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinova",
			Subsystem: "scheduling",
			Name:      "doctor_stats_latency_seconds",
			Help:      "Latency of the dashboard aggregate",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.conflictsTotal, m.transitionsTotal, m.noShowsTotal, m.statsLatency)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(status string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(status).Inc()
}

func (m *SchedulingMetrics) ObserveConflict(side string) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(side).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(to).Inc()
}

func (m *SchedulingMetrics) ObserveNoShow() {
	if m == nil {
		return
	}
	m.noShowsTotal.Inc()
}

func (m *SchedulingMetrics) ObserveStatsLatency(seconds float64) {
	if m == nil {
		return
	}
	m.statsLatency.Observe(seconds)
}
