package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails accepted by a delivery provider",
		},
		[]string{"provider"},
	)

	EmailFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total email dispatches that failed, by provider and error class",
		},
		[]string{"provider", "reason"},
	)

	QueueEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_queue_enqueued_total",
			Help: "Total items added to the send queue",
		},
	)

	QueueProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_queue_processed_total",
			Help: "Total queue items processed, by outcome",
		},
		[]string{"outcome"},
	)

	CodesIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_codes_issued_total",
			Help: "Total verification codes emailed, by form type",
		},
		[]string{"form_type"},
	)

	CodeChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_code_checks_total",
			Help: "Total verification attempts, by outcome",
		},
		[]string{"outcome"},
	)

	BroadcastRecipients = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_recipients_total",
			Help: "Total lead notification recipients, by outcome",
		},
		[]string{"outcome"},
	)

	TasksDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_tasks_dropped_total",
			Help: "Total background tasks rejected because the pool was full or stopped",
		},
	)

	DetachedTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_detached_tasks",
			Help: "Broadcasts and sweeps currently running outside the worker set",
		},
	)
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(QueueEnqueued)
	prometheus.MustRegister(QueueProcessed)
	prometheus.MustRegister(CodesIssued)
	prometheus.MustRegister(CodeChecks)
	prometheus.MustRegister(BroadcastRecipients)
	prometheus.MustRegister(TasksDropped)
	prometheus.MustRegister(DetachedTasks)
}
