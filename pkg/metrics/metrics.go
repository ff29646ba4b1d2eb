package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Node registry metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corral_nodes_total",
			Help: "Total number of known nodes by online/paused state",
		},
		[]string{"state"},
	)

	// Offer manager metrics
	OffersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corral_offers_active",
			Help: "Number of offers currently held by the offer manager",
		},
	)

	OffersDeclinedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_offers_declined_total",
			Help: "Total number of offers declined back to the resource broker driver",
		},
	)

	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_admissions_total",
			Help: "Total number of admission decisions by kind and result",
		},
		[]string{"kind", "result"}, // kind: new|running, result: accepted|rejected
	)

	// Scheduling loop metrics
	RoundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corral_round_duration_seconds",
			Help:    "Time taken to complete one scheduling round",
			Buckets: prometheus.DefBuckets,
		},
	)

	RoundWarnThresholdBreachesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_round_warn_threshold_breaches_total",
			Help: "Total number of rounds whose duration exceeded the warn threshold",
		},
	)

	ScheduleQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corral_schedule_query_duration_seconds",
			Help:    "Time taken by the schedule_job_executions persistence call",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksLaunchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_tasks_launched_total",
			Help: "Total number of tasks launched on the resource broker driver",
		},
	)

	ScheduleRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_schedule_retries_total",
			Help: "Total number of schedule_job_executions retry attempts",
		},
	)

	// Cleanup manager metrics
	CleanupTasksDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_cleanup_tasks_dispatched_total",
			Help: "Total number of synthesized cleanup tasks dispatched",
		},
	)

	CleanupQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corral_cleanup_queue_depth",
			Help: "Number of pending cleanup entries per node",
		},
		[]string{"node_id"},
	)

	// Running-execution manager metrics
	RunningExesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corral_running_exes_total",
			Help: "Total number of job executions currently tracked as running",
		},
	)

	// Raft leader-election metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corral_raft_is_leader",
			Help: "Whether this process currently holds the scheduling-loop leadership (1 = leader, 0 = follower)",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(OffersActive)
	prometheus.MustRegister(OffersDeclinedTotal)
	prometheus.MustRegister(AdmissionsTotal)
	prometheus.MustRegister(RoundDuration)
	prometheus.MustRegister(RoundWarnThresholdBreachesTotal)
	prometheus.MustRegister(ScheduleQueryDuration)
	prometheus.MustRegister(TasksLaunchedTotal)
	prometheus.MustRegister(ScheduleRetriesTotal)
	prometheus.MustRegister(CleanupTasksDispatchedTotal)
	prometheus.MustRegister(CleanupQueueDepth)
	prometheus.MustRegister(RunningExesTotal)
	prometheus.MustRegister(RaftLeader)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
