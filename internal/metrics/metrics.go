// Package metrics holds the Prometheus collectors for the forecaster and
// the observability counters named in the design's health/operational
// surface section.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter, histogram and gauge the forecaster exposes.
type Metrics struct {
	DroppedPackets      *prometheus.CounterVec
	GapResyncTotal      prometheus.Counter
	PicksDeduplicated   prometheus.Counter
	EventsTotal         prometheus.Counter
	TicksTotal          prometheus.Counter
	PredictDuration     prometheus.Histogram
	PredictErrors       *prometheus.CounterVec
	ReportWriteErrors   prometheus.Counter
	ActiveEvents        prometheus.Gauge
	InsufficientDataHit prometheus.Counter
}

// New creates and registers all metrics with the default Prometheus
// registry, mirroring the pattern in the ETL pack's observability package.
func New() *Metrics {
	m := &Metrics{
		DroppedPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ttsam",
			Name:      "dropped_packets_total",
			Help:      "Waveform packets dropped by the wave buffer, by reason.",
		}, []string{"reason"}),
		GapResyncTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ttsam",
			Name:      "gap_resync_total",
			Help:      "Channel ring resets caused by a large timestamp jump.",
		}),
		PicksDeduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ttsam",
			Name:      "picks_deduplicated_total",
			Help:      "Picks discarded as duplicates of an already-accepted pick.",
		}),
		EventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ttsam",
			Name:      "events_total",
			Help:      "Seismic events promoted by the pick aggregator.",
		}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ttsam",
			Name:      "ticks_total",
			Help:      "Inference ticks dispatched across all events.",
		}),
		PredictDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ttsam",
			Name:      "predict_duration_seconds",
			Help:      "Wall-clock duration of Predictor.Predict calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 2.5, 5},
		}),
		PredictErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ttsam",
			Name:      "predict_errors_total",
			Help:      "Predictor call failures, by kind.",
		}, []string{"kind"}),
		ReportWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ttsam",
			Name:      "report_write_errors_total",
			Help:      "Failures appending a report line to the event log.",
		}),
		ActiveEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ttsam",
			Name:      "active_events",
			Help:      "1 while a seismic event is active, 0 otherwise.",
		}),
		InsufficientDataHit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ttsam",
			Name:      "insufficient_data_total",
			Help:      "Ticks skipped because zero stations had a valid window.",
		}),
	}

	prometheus.MustRegister(
		m.DroppedPackets,
		m.GapResyncTotal,
		m.PicksDeduplicated,
		m.EventsTotal,
		m.TicksTotal,
		m.PredictDuration,
		m.PredictErrors,
		m.ReportWriteErrors,
		m.ActiveEvents,
		m.InsufficientDataHit,
	)

	return m
}

// NewForTesting creates Metrics without registering on the default
// registry, avoiding "already registered" panics across parallel tests.
func NewForTesting() *Metrics {
	return &Metrics{
		DroppedPackets:      prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dropped_packets_total"}, []string{"reason"}),
		GapResyncTotal:      prometheus.NewCounter(prometheus.CounterOpts{Name: "gap_resync_total"}),
		PicksDeduplicated:   prometheus.NewCounter(prometheus.CounterOpts{Name: "picks_deduplicated_total"}),
		EventsTotal:         prometheus.NewCounter(prometheus.CounterOpts{Name: "events_total"}),
		TicksTotal:          prometheus.NewCounter(prometheus.CounterOpts{Name: "ticks_total"}),
		PredictDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Name: "predict_duration_seconds"}),
		PredictErrors:       prometheus.NewCounterVec(prometheus.CounterOpts{Name: "predict_errors_total"}, []string{"kind"}),
		ReportWriteErrors:   prometheus.NewCounter(prometheus.CounterOpts{Name: "report_write_errors_total"}),
		ActiveEvents:        prometheus.NewGauge(prometheus.GaugeOpts{Name: "active_events"}),
		InsufficientDataHit: prometheus.NewCounter(prometheus.CounterOpts{Name: "insufficient_data_total"}),
	}
}
