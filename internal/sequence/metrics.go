package sequence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: сколько номеров выдано по каждому типу
	Allocations *prometheus.CounterVec

	// Errors: отказы хранилища при выдаче номера
	Failures *prometheus.CounterVec

	// Latency: lock + increment + persist
	AllocationDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Allocations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auditseq_sequence_allocations_total",
			Help: "Total number of sequence numbers issued.",
		}, []string{"sequence_type"}),

		Failures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auditseq_sequence_failures_total",
			Help: "Total number of failed sequence allocations.",
		}, []string{"sequence_type"}),

		AllocationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auditseq_sequence_allocation_duration_seconds",
			Help:    "Histogram of sequence allocation latencies.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"sequence_type"}),
	}
}
