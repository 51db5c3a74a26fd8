package coordination

import "github.com/prometheus/client_golang/prometheus"

var (
	storeOpCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tabrev",
			Subsystem: "coordination",
			Name:      "store_ops_count",
			Help:      "Counter of coordination store operations.",
		}, []string{"op", "result"})

	storeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tabrev",
			Subsystem: "coordination",
			Name:      "store_op_duration_seconds",
			Help:      "Bucketed histogram of coordination store round trips.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 13),
		}, []string{"op"})

	retryExhaustedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tabrev",
			Subsystem: "coordination",
			Name:      "retry_exhausted_count",
			Help:      "Counter of operations that exhausted the retry budget.",
		})
)

func init() {
	prometheus.MustRegister(storeOpCounter)
	prometheus.MustRegister(storeOpDuration)
	prometheus.MustRegister(retryExhaustedCounter)
}
