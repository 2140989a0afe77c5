package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FlushesTotal tracks flush passes by outcome
	// result: drained, stopped, no_credential, endpoint_unavailable, transport_error, empty
	FlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_flushes_total",
		Help: "Total number of flush passes executed by the sync engine",
	}, []string{"result"})

	// MutationsSent tracks successfully replayed mutations by kind
	MutationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_mutations_sent_total",
		Help: "Total number of mutations successfully replayed against the backend",
	}, []string{"kind"})

	// DeadLettered counts mutations moved to the dead-letter store
	// If this number grows, manual disposition via queuectl is required
	DeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_dead_lettered_total",
		Help: "Total number of mutations moved to the dead-letter store",
	}, []string{"kind"})

	// FlushDuration measures how long a full flush pass takes
	// Use this to spot a degraded backend before the queue backs up
	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agent_flush_duration_seconds",
		Help:    "Duration of a flush pass in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	// QueueBacklog is the primary indicator of sync lag
	QueueBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agent_queue_backlog",
		Help: "Current number of pending mutations waiting for replay",
	})

	// DeadLetterSize tracks entries awaiting manual disposition
	DeadLetterSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agent_dead_letter_size",
		Help: "Current number of entries in the dead-letter store",
	})

	// HealthStatus provides a binary 0/1 signal for backend reachability
	// 1 = last health probe succeeded, 0 = backend unreachable
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agent_backend_healthy",
		Help: "Result of the last backend health probe (1 healthy, 0 unreachable)",
	})

	// AlertsReceived counts messages delivered over the alerts websocket
	AlertsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_alerts_received_total",
		Help: "Total number of alert messages received over the websocket",
	})
)
