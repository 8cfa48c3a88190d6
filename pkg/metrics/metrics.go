package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	camforge = "camforge"

	// Submission metrics
	jobsSubmittedTotal = "jobs_submitted_total"
	rateLimitedTotal   = "submissions_rate_limited_total"
	queuePausedTotal   = "submissions_queue_paused_total"

	// Execution metrics
	jobLatencySeconds  = "job_latency_seconds"
	queueWaitSeconds   = "queue_wait_seconds"
	taskFailuresTotal  = "task_failures_total"
	taskRetriesTotal   = "task_retries_total"
	deadLettersTotal   = "dead_letters_total"
	softLimitHitsTotal = "soft_limit_hits_total"

	// Labels
	jobTypeLabel = "type"
	statusLabel  = "status"
	queueLabel   = "queue"
	taskLabel    = "task"
	reasonLabel  = "reason"
	routeLabel   = "route"
)

/**
* Metrics definition
**/
var jobsSubmittedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: camforge,
		Name:      jobsSubmittedTotal,
		Help:      "number of jobs submitted, partitioned by job type",
	},
	[]string{jobTypeLabel},
)

var rateLimitedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: camforge,
		Name:      rateLimitedTotal,
		Help:      "number of submissions rejected by the rate gate",
	},
	[]string{routeLabel},
)

var queuePausedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: camforge,
		Name:      queuePausedTotal,
		Help:      "number of submissions rejected because the target queue was paused",
	},
	[]string{queueLabel},
)

var jobLatencySecondsMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: camforge,
		Name:      jobLatencySeconds,
		Help:      "job execution latency from pickup to terminal status",
		Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800},
	},
	[]string{jobTypeLabel, statusLabel},
)

var queueWaitSecondsMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: camforge,
		Name:      queueWaitSeconds,
		Help:      "time jobs spent queued before a worker picked them up",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	},
	[]string{queueLabel},
)

var taskFailuresTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: camforge,
		Name:      taskFailuresTotal,
		Help:      "number of task attempt failures, partitioned by task and reason",
	},
	[]string{taskLabel, reasonLabel},
)

var taskRetriesTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: camforge,
		Name:      taskRetriesTotal,
		Help:      "number of task attempts that were scheduled for retry",
	},
	[]string{taskLabel},
)

var deadLettersTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: camforge,
		Name:      deadLettersTotal,
		Help:      "number of tasks pushed to the dead letter queue",
	},
	[]string{taskLabel},
)

var softLimitHitsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: camforge,
		Name:      softLimitHitsTotal,
		Help:      "number of task attempts that ran past their soft time limit",
	},
	[]string{taskLabel},
)

func IncreaseJobsSubmittedMetric(jobType string) {
	jobsSubmittedTotalMetric.With(prometheus.Labels{jobTypeLabel: jobType}).Inc()
}

func IncreaseRateLimitedMetric(route string) {
	rateLimitedTotalMetric.With(prometheus.Labels{routeLabel: route}).Inc()
}

func IncreaseQueuePausedMetric(queue string) {
	queuePausedTotalMetric.With(prometheus.Labels{queueLabel: queue}).Inc()
}

func ObserveJobLatencyMetric(jobType, status string, seconds float64) {
	jobLatencySecondsMetric.With(prometheus.Labels{jobTypeLabel: jobType, statusLabel: status}).Observe(seconds)
}

func ObserveQueueWaitMetric(queue string, seconds float64) {
	queueWaitSecondsMetric.With(prometheus.Labels{queueLabel: queue}).Observe(seconds)
}

func IncreaseTaskFailuresMetric(task, reason string) {
	taskFailuresTotalMetric.With(prometheus.Labels{taskLabel: task, reasonLabel: reason}).Inc()
}

func IncreaseTaskRetriesMetric(task string) {
	taskRetriesTotalMetric.With(prometheus.Labels{taskLabel: task}).Inc()
}

func IncreaseDeadLettersMetric(task string) {
	deadLettersTotalMetric.With(prometheus.Labels{taskLabel: task}).Inc()
}

func IncreaseSoftLimitHitsMetric(task string) {
	softLimitHitsTotalMetric.With(prometheus.Labels{taskLabel: task}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsSubmittedTotalMetric)
	prometheus.MustRegister(rateLimitedTotalMetric)
	prometheus.MustRegister(queuePausedTotalMetric)
	prometheus.MustRegister(jobLatencySecondsMetric)
	prometheus.MustRegister(queueWaitSecondsMetric)
	prometheus.MustRegister(taskFailuresTotalMetric)
	prometheus.MustRegister(taskRetriesTotalMetric)
	prometheus.MustRegister(deadLettersTotalMetric)
	prometheus.MustRegister(softLimitHitsTotalMetric)
}
