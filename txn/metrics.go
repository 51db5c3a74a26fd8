package txn

import "github.com/prometheus/client_golang/prometheus"

var (
	txnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tabrev",
			Subsystem: "txn",
			Name:      "transactions_count",
			Help:      "Counter of transaction operations.",
		}, []string{"op", "result"})

	snapshotCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tabrev",
			Subsystem: "txn",
			Name:      "snapshots_count",
			Help:      "Counter of read snapshots taken.",
		})

	sweptCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tabrev",
			Subsystem: "txn",
			Name:      "stale_swept_count",
			Help:      "Counter of stale transaction records aborted by the sweep.",
		}, []string{"table"})
)

func init() {
	prometheus.MustRegister(txnCounter)
	prometheus.MustRegister(snapshotCounter)
	prometheus.MustRegister(sweptCounter)
}
