package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Причины потери записи (label reason у Dropped)
const (
	dropCapacity    = "capacity"
	dropMaxAttempts = "max_attempts"
	dropShutdown    = "shutdown"
	dropClosed      = "closed"
)

type Metrics struct {
	// Saturation: текущая длина очереди (backpressure)
	QueueDepth prometheus.Gauge

	// Traffic
	Enqueued  prometheus.Counter
	Persisted prometheus.Counter

	// Errors
	Requeued      prometheus.Counter
	Dropped       *prometheus.CounterVec
	SyncFallbacks prometheus.Counter
	SyncRetries   prometheus.Counter

	// Состояние Circuit Breaker перед Sink (0 - ок, 1 - выбило, 0.5 - half-open)
	CircuitBreakerState prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		QueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "auditseq_audit_queue_depth",
			Help: "Current number of audit records waiting for persistence.",
		}),

		Enqueued: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "auditseq_audit_enqueued_total",
			Help: "Total number of audit records put on the pending queue.",
		}),

		Persisted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "auditseq_audit_persisted_total",
			Help: "Total number of audit records written to the sink.",
		}),

		Requeued: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "auditseq_audit_requeued_total",
			Help: "Total number of audit records returned to the queue after a failed flush.",
		}),

		Dropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auditseq_audit_dropped_total",
			Help: "Total number of audit records discarded by reason.",
		}, []string{"reason"}), // capacity, max_attempts, shutdown, closed

		SyncFallbacks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "auditseq_audit_sync_fallbacks_total",
			Help: "Total number of synchronous writes that fell back to the queue.",
		}),

		SyncRetries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "auditseq_audit_sync_retries_total",
			Help: "Total number of failed synchronous write attempts.",
		}),

		CircuitBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "auditseq_audit_circuit_breaker_state",
			Help: "Current state of the audit sink circuit breaker (0=closed, 0.5=half-open, 1=open).",
		}),
	}
}
