package ledger

import "github.com/prometheus/client_golang/prometheus"

var (
	revisionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tabrev",
			Subsystem: "ledger",
			Name:      "revisions_issued_count",
			Help:      "Counter of revision numbers issued.",
		}, []string{"table", "result"})

	casConflictCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tabrev",
			Subsystem: "ledger",
			Name:      "cas_conflicts_count",
			Help:      "Counter of compare-and-set races lost on family documents.",
		}, []string{"table"})
)

func init() {
	prometheus.MustRegister(revisionCounter)
	prometheus.MustRegister(casConflictCounter)
}
