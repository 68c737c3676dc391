package statespace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics of a state space.
type Metrics struct {
	LastSyncedBlock   prometheus.Gauge
	Pools             prometheus.Gauge
	LogsApplied       *prometheus.CounterVec
	SyncErrors        *prometheus.CounterVec
	BlockSyncDuration prometheus.Histogram
}

// NewMetrics creates and registers the state space metrics with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	return &Metrics{
		LastSyncedBlock: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "statespace_last_synced_block",
			Help:      "The last block fully applied to the registry.",
		}),
		Pools: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "statespace_pools",
			Help:      "The number of pools tracked in the registry.",
		}),
		LogsApplied: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statespace_logs_applied_total",
			Help:      "Logs applied to the registry, labeled by pool kind.",
		}, []string{"kind"}),
		SyncErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statespace_sync_errors_total",
			Help:      "Errors encountered while syncing, labeled by stage.",
		}, []string{"stage"}),
		BlockSyncDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "statespace_block_sync_duration_seconds",
			Help:      "Time taken to fetch and apply one block.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
