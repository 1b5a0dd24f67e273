package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for peerlend.
type Metrics struct {
	// --- Engine operations ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec

	// --- Matching ---
	MatchedVolume     *prometheus.CounterVec
	UnmatchedVolume   *prometheus.CounterVec
	CounterpartyScans *prometheus.CounterVec
	BudgetUsed        *prometheus.HistogramVec

	// --- Market state ---
	P2PSupplyDelta  *prometheus.GaugeVec
	P2PBorrowDelta  *prometheus.GaugeVec
	P2PSupplyAmount *prometheus.GaugeVec
	P2PBorrowAmount *prometheus.GaugeVec
	IndexUpdates    *prometheus.CounterVec

	// --- Outbound events ---
	EventsPublished prometheus.Counter
	PublishDrops    prometheus.Counter

	// --- Persistence ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotErrors   prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlend_engine_ops_applied_total",
			Help: "Operations successfully applied by the engine",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlend_engine_ops_rejected_total",
			Help: "Operations rejected (precondition, pool failure, reentrancy)",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "peerlend_engine_op_duration_seconds",
			Help:    "Time to apply a single engine operation",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		MatchedVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlend_matched_volume_underlying_total",
			Help: "Underlying volume matched peer-to-peer",
		}, []string{"market", "op"}),

		UnmatchedVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlend_unmatched_volume_underlying_total",
			Help: "Underlying volume routed to the pool after matching",
		}, []string{"market", "op"}),

		CounterpartyScans: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlend_counterparty_scans_total",
			Help: "Counterparties visited during matching",
		}, []string{"market", "op"}),

		BudgetUsed: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "peerlend_matching_budget_used",
			Help:    "Matching budget consumed per operation",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}, []string{"op"}),

		P2PSupplyDelta: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peerlend_p2p_supply_delta",
			Help: "Supply-side delta in pool-index units (approximate float)",
		}, []string{"market"}),

		P2PBorrowDelta: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peerlend_p2p_borrow_delta",
			Help: "Borrow-side delta in pool-index units (approximate float)",
		}, []string{"market"}),

		P2PSupplyAmount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peerlend_p2p_supply_amount",
			Help: "Matched supply in p2p-index units (approximate float)",
		}, []string{"market"}),

		P2PBorrowAmount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peerlend_p2p_borrow_amount",
			Help: "Matched borrow in p2p-index units (approximate float)",
		}, []string{"market"}),

		IndexUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlend_index_updates_total",
			Help: "Peer-to-peer index refreshes applied",
		}, []string{"market"}),

		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peerlend_events_published_total",
			Help: "Engine events published to NATS",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peerlend_publish_drops_total",
			Help: "Engine events dropped due to full publish channel",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peerlend_snapshot_taken_total",
			Help: "State snapshots written",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "peerlend_snapshot_duration_seconds",
			Help:    "Snapshot serialization and write duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		SnapshotErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peerlend_snapshot_errors_total",
			Help: "Snapshot write failures",
		}),
	}
}
