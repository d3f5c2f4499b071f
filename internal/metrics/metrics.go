// Package metrics exposes the Prometheus surface for the queue engine,
// lease manager, and fan-out coordinator, generalized from
// auth-service/app/metrics/metrics.go's package-level promauto vars plus
// Record* functions into the tables and resources this module actually has.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	queueClaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_claimed_total",
			Help: "Total number of items claimed off a table.",
		},
		[]string{"table"},
	)

	queueAckedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_acked_total",
			Help: "Total number of items acknowledged as done.",
		},
		[]string{"table"},
	)

	queueFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_failed_total",
			Help: "Total number of items failed permanently.",
		},
		[]string{"table"},
	)

	queueAbandonedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_abandoned_total",
			Help: "Total number of items abandoned for retry.",
		},
		[]string{"table"},
	)

	queueReapedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_reaped_total",
			Help: "Total number of expired leases reclaimed by the reap sweep.",
		},
		[]string{"table"},
	)

	queueHandleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_handle_duration_seconds",
			Help:    "Time spent running a topic handler against one claimed item.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	leaseAcquiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lease_acquires_total",
			Help: "Total lease acquire attempts, partitioned by whether they succeeded.",
		},
		[]string{"outcome"}, // "acquired" | "refused"
	)

	leaseRenewalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lease_renewals_total",
			Help: "Total lease renewal attempts, partitioned by whether they succeeded.",
		},
		[]string{"outcome"}, // "renewed" | "lost"
	)

	leaseActiveGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lease_active",
			Help: "Number of leases currently held by this process.",
		},
	)

	fanoutDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_shards_dispatched_total",
			Help: "Total shard dispatch attempts from the fan-out coordinator.",
		},
		[]string{"topic"},
	)

	jobRunsMaterializedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_materialized_total",
			Help: "Total job-run rows inserted by the scheduler materializer, excluding duplicates suppressed by the dedupe fence.",
		},
		[]string{"job_name"},
	)
)

func RecordClaimed(table string, n int) {
	if n > 0 {
		queueClaimedTotal.WithLabelValues(table).Add(float64(n))
	}
}

func RecordAcked(table string, n int64) {
	if n > 0 {
		queueAckedTotal.WithLabelValues(table).Add(float64(n))
	}
}

func RecordFailed(table string, n int64) {
	if n > 0 {
		queueFailedTotal.WithLabelValues(table).Add(float64(n))
	}
}

func RecordAbandoned(table string, n int64) {
	if n > 0 {
		queueAbandonedTotal.WithLabelValues(table).Add(float64(n))
	}
}

func RecordReaped(table string, n int64) {
	if n > 0 {
		queueReapedTotal.WithLabelValues(table).Add(float64(n))
	}
}

func ObserveHandleDuration(topic string, seconds float64) {
	queueHandleDuration.WithLabelValues(topic).Observe(seconds)
}

func RecordLeaseAcquire(acquired bool) {
	if acquired {
		leaseAcquiresTotal.WithLabelValues("acquired").Inc()
		leaseActiveGauge.Inc()
	} else {
		leaseAcquiresTotal.WithLabelValues("refused").Inc()
	}
}

func RecordLeaseRenewal(renewed bool) {
	if renewed {
		leaseRenewalsTotal.WithLabelValues("renewed").Inc()
	} else {
		leaseRenewalsTotal.WithLabelValues("lost").Inc()
		leaseActiveGauge.Dec()
	}
}

func RecordLeaseReleased() {
	leaseActiveGauge.Dec()
}

func RecordFanoutDispatch(topic string) {
	fanoutDispatchedTotal.WithLabelValues(topic).Inc()
}

func RecordJobRunMaterialized(jobName string) {
	jobRunsMaterializedTotal.WithLabelValues(jobName).Inc()
}

// Handler serves the default Prometheus registry's /metrics surface.
func Handler() http.Handler {
	return promhttp.Handler()
}
