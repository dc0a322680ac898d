package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the synchronizer's Prometheus instruments.
type Metrics struct {
	eventsApplied      *prometheus.CounterVec
	ranges             *prometheus.CounterVec
	retries            *prometheus.CounterVec
	checkpointPosition *prometheus.GaugeVec
	checkpointErrors   prometheus.Counter
	head               prometheus.Gauge
	drift              *prometheus.GaugeVec
	tickDuration       prometheus.Histogram
}

// NewMetrics registers the synchronizer metrics with registry. A nil
// registry gets a private one so the instruments still work unexported.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Metrics{
		eventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_sync_events_applied_total",
			Help: "Settlement events newly projected into the relational store",
		}, []string{"event_type"}),
		ranges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_sync_ranges_total",
			Help: "Position ranges processed, by outcome",
		}, []string{"outcome"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_sync_retries_total",
			Help: "Range applications retried after a failure",
		}, []string{"event_type"}),
		checkpointPosition: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_sync_checkpoint_position",
			Help: "Last settlement position applied per checkpoint",
		}, []string{"source", "event_type"}),
		checkpointErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_sync_checkpoint_errors_total",
			Help: "Checkpoints moved to error status after exhausting retries",
		}),
		head: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_sync_head_position",
			Help: "Confirmed settlement head seen by the last tick",
		}),
		drift: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_sync_drift",
			Help: "Ledger count minus relational store count from the last drift check",
		}, []string{"aggregate"}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_sync_tick_duration_seconds",
			Help:    "Duration of synchronizer ticks",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
