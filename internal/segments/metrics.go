package segments

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/donorhub/segmentd/internal/rules"
)

// Metrics holds the lifecycle and preview collectors.
type Metrics struct {
	previews        *prometheus.CounterVec
	previewDuration prometheus.Histogram
	recalcs         *prometheus.CounterVec
	recalcDuration  prometheus.Histogram
	membershipMoves *prometheus.CounterVec
	dropped         *prometheus.CounterVec
}

// NewMetrics creates collectors registered with reg. A nil reg leaves them
// unregistered, which tests use to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		previews: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "segmentd",
			Subsystem: "preview",
			Name:      "requests_total",
			Help:      "Preview count requests by status",
		}, []string{"status"}),
		previewDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "segmentd",
			Subsystem: "preview",
			Name:      "duration_seconds",
			Help:      "Preview count latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		recalcs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "segmentd",
			Subsystem: "recalc",
			Name:      "total",
			Help:      "Segment recalculations by status",
		}, []string{"status"}),
		recalcDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "segmentd",
			Subsystem: "recalc",
			Name:      "duration_seconds",
			Help:      "Segment recalculation latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		membershipMoves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "segmentd",
			Subsystem: "recalc",
			Name:      "membership_changes_total",
			Help:      "Donors entering or exiting dynamic segments",
		}, []string{"direction"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "segmentd",
			Subsystem: "rules",
			Name:      "dropped_conditions_total",
			Help:      "Conditions ignored at compile time by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) observeDropped(dropped []rules.Dropped) {
	for _, d := range dropped {
		m.dropped.WithLabelValues(string(d.Reason)).Inc()
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
