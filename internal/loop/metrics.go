package loop

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report loop activity.
type Metrics struct {
	phaseDuration *prometheus.HistogramVec
	cycleFailures *prometheus.CounterVec
	cyclesTotal   prometheus.Counter
	inboxOpen     prometheus.Gauge
	movesPending  prometheus.Gauge
	gatesFailing  prometheus.Gauge
}

// MustNewMetrics constructs a Metrics instance on the given registerer.
// Re-registration reuses the existing collectors so multiple loop
// instances (tests, restarts inside one process) never panic; any other
// registration error does.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	phaseDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agencyos",
			Subsystem: "loop",
			Name:      "phase_duration_seconds",
			Help:      "Duration spent in each cycle phase.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"phase", "status"},
	)
	cycleFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agencyos",
			Subsystem: "loop",
			Name:      "cycle_failures_total",
			Help:      "Cycles that failed, labeled by the failing phase.",
		},
		[]string{"phase"},
	)
	cyclesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agencyos",
			Subsystem: "loop",
			Name:      "cycles_total",
			Help:      "Completed cycles, successful or not.",
		},
	)
	inboxOpen := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agencyos",
			Subsystem: "loop",
			Name:      "inbox_open_items",
			Help:      "Open resolution-queue items after the last cycle.",
		},
	)
	movesPending := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agencyos",
			Subsystem: "loop",
			Name:      "moves_pending",
			Help:      "Pending actions awaiting a decision after the last cycle.",
		},
	)
	gatesFailing := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agencyos",
			Subsystem: "loop",
			Name:      "gates_failing",
			Help:      "Gates failing in the latest report.",
		},
	)

	for _, collector := range []prometheus.Collector{
		phaseDuration, cycleFailures, cyclesTotal, inboxOpen, movesPending, gatesFailing,
	} {
		if err := reg.Register(collector); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				panic(err)
			}
			switch collector {
			case phaseDuration:
				phaseDuration = already.ExistingCollector.(*prometheus.HistogramVec)
			case cycleFailures:
				cycleFailures = already.ExistingCollector.(*prometheus.CounterVec)
			case cyclesTotal:
				cyclesTotal = already.ExistingCollector.(prometheus.Counter)
			case inboxOpen:
				inboxOpen = already.ExistingCollector.(prometheus.Gauge)
			case movesPending:
				movesPending = already.ExistingCollector.(prometheus.Gauge)
			case gatesFailing:
				gatesFailing = already.ExistingCollector.(prometheus.Gauge)
			}
		}
	}

	return &Metrics{
		phaseDuration: phaseDuration,
		cycleFailures: cycleFailures,
		cyclesTotal:   cyclesTotal,
		inboxOpen:     inboxOpen,
		movesPending:  movesPending,
		gatesFailing:  gatesFailing,
	}
}

// ObservePhase records one phase execution.
func (m *Metrics) ObservePhase(phase, status string, d time.Duration) {
	if m == nil || m.phaseDuration == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase, status).Observe(d.Seconds())
}

// CycleFinished records a cycle outcome; failedPhase is empty on success.
func (m *Metrics) CycleFinished(failedPhase string) {
	if m == nil || m.cyclesTotal == nil {
		return
	}
	m.cyclesTotal.Inc()
	if failedPhase != "" {
		m.cycleFailures.WithLabelValues(failedPhase).Inc()
	}
}

// SetState updates the post-cycle gauges.
func (m *Metrics) SetState(inboxOpen, movesPending, gatesFailing int) {
	if m == nil || m.inboxOpen == nil {
		return
	}
	m.inboxOpen.Set(float64(inboxOpen))
	m.movesPending.Set(float64(movesPending))
	m.gatesFailing.Set(float64(gatesFailing))
}
