package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PieceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vfs",
		Name:      "piece_requests_total",
		Help:      "Total piece requests by outcome (ok, timeout, session, canceled).",
	}, []string{"result"})

	PieceWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vfs",
		Name:      "piece_wait_duration_seconds",
		Help:      "Time a read spent blocked waiting for a piece.",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 120},
	})

	DroppedPieceEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vfs",
		Name:      "dropped_piece_events_total",
		Help:      "Piece completion events that arrived with no waiter.",
	})

	OpenHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vfs",
		Name:      "open_handles",
		Help:      "Number of currently open torrent-backed file handles.",
	})

	AttachFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vfs",
		Name:      "attach_failures_total",
		Help:      "Total number of descriptors that could not be resolved.",
	})

	BytesReadTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vfs",
		Name:      "bytes_read_total",
		Help:      "Bytes handed to the SQL engine by torrent-backed reads.",
	})

	PieceStoreBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vfs",
		Name:      "piece_store_bytes",
		Help:      "Bytes of piece data currently held in memory.",
	})

	PieceStoreSpillsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vfs",
		Name:      "piece_store_spills_total",
		Help:      "Pieces moved from memory to the spill directory.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		PieceRequestsTotal,
		PieceWaitDuration,
		DroppedPieceEventsTotal,
		OpenHandles,
		AttachFailuresTotal,
		BytesReadTotal,
		PieceStoreBytes,
		PieceStoreSpillsTotal,
	)
}
