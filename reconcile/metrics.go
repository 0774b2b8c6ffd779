package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
)

var OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ddbsync",
	Subsystem: "reconcile",
	Name:      "operations_total",
	Help:      "Row operations issued by the reconciler, by operation and result.",
}, []string{"op", "result"})

var ApplySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "ddbsync",
	Subsystem: "reconcile",
	Name:      "apply_seconds",
	Help:      "Duration of one Apply call.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
})

// Collectors returns the reconciler metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{OperationsTotal, ApplySeconds}
}

func observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	OperationsTotal.WithLabelValues(op, result).Inc()
}
