package metrics

import "github.com/prometheus/client_golang/prometheus"

// SyncMetrics exposes counters/histograms for reconciliation runs.
type SyncMetrics struct {
	runsTotal     *prometheus.CounterVec
	recordsTotal  *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	issuesTotal   prometheus.Counter
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total full sync runs by final state",
		}, []string{"state"}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Records handled per stage and result",
		}, []string{"stage", "result"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medspa",
			Subsystem: "sync",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each sync stage",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"stage"}),
		issuesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "sync",
			Name:      "payment_issues_created_total",
			Help:      "Payment issues opened by status evaluation",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.runsTotal, m.recordsTotal, m.stageDuration, m.issuesTotal)
	return m
}

func (m *SyncMetrics) ObserveRun(state string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(state).Inc()
}

// ObserveStage records one finished stage. Unchanged records are counted
// as "unchanged" so updated+unchanged+failed equals processed.
func (m *SyncMetrics) ObserveStage(stage string, processed, updated, failed int, seconds float64) {
	if m == nil {
		return
	}
	unchanged := processed - updated - failed
	if unchanged < 0 {
		unchanged = 0
	}
	m.recordsTotal.WithLabelValues(stage, "updated").Add(float64(updated))
	m.recordsTotal.WithLabelValues(stage, "unchanged").Add(float64(unchanged))
	m.recordsTotal.WithLabelValues(stage, "failed").Add(float64(failed))
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *SyncMetrics) ObserveIssuesCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.issuesTotal.Add(float64(n))
}
