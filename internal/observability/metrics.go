package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	activeTasks  *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions  prometheus.Gauge
	sessionsCleaned prometheus.Counter
	resultsCleaned  prometheus.Counter

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	engineCallTotal    *prometheus.CounterVec
	engineCallDuration *prometheus.HistogramVec

	approvalDecisions *prometheus.CounterVec
	approvalsPending  prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "hub_queue_size",
					Help: "Current queued task count by lane.",
				},
				[]string{"lane"},
			),
			activeTasks: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "hub_active_tasks",
					Help: "Currently executing tasks by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "hub_enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "hub_dequeue_total",
					Help: "Total task completions by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "hub_task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "hub_active_sessions",
					Help: "Current active session count.",
				},
			),
			sessionsCleaned: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "hub_sessions_cleaned_total",
					Help: "Sessions evicted by the TTL sweep.",
				},
			),
			resultsCleaned: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "hub_results_cleaned_total",
					Help: "Task results evicted by the TTL sweep.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			engineCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engine_call_total",
					Help: "Total reasoning engine calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			engineCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "engine_call_duration_seconds",
					Help:    "Reasoning engine call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			approvalDecisions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "approval_decisions_total",
					Help: "Approval outcomes by decision (auto, approved, rejected, timeout).",
				},
				[]string{"decision"},
			),
			approvalsPending: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "approvals_pending",
					Help: "Approval requests currently awaiting a decision.",
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.activeTasks,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeSessions,
			m.sessionsCleaned,
			m.resultsCleaned,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.engineCallTotal,
			m.engineCallDuration,
			m.approvalDecisions,
			m.approvalsPending,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveTasks(lane string, count int) {
	getMetrics().activeTasks.WithLabelValues(lane).Set(float64(count))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionsCleaned(count int) {
	getMetrics().sessionsCleaned.Add(float64(count))
}

func RecordResultsCleaned(count int) {
	getMetrics().resultsCleaned.Add(float64(count))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordEngineCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.engineCallTotal.WithLabelValues(provider, status).Inc()
	m.engineCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordApprovalDecision(decision string) {
	getMetrics().approvalDecisions.WithLabelValues(decision).Inc()
}

func SetApprovalsPending(count int) {
	getMetrics().approvalsPending.Set(float64(count))
}
