package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	cacheLookupTotal   *prometheus.CounterVec
	cacheSetsTotal     prometheus.Counter
	cacheEvictionTotal prometheus.Counter
	cacheEntries       prometheus.Gauge

	activeSessions  prometheus.Gauge
	sessionMessages prometheus.Counter

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentRetryTotal  *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	sweepRemovedTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			cacheLookupTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "response_cache_lookup_total",
					Help: "Total response cache lookups by result.",
				},
				[]string{"result"},
			),
			cacheSetsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "response_cache_sets_total",
					Help: "Total response cache writes.",
				},
			),
			cacheEvictionTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "response_cache_evictions_total",
					Help: "Total response cache capacity evictions.",
				},
			),
			cacheEntries: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "response_cache_entries",
					Help: "Current live response cache entries.",
				},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active (non-expired) session count.",
				},
			),
			sessionMessages: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "session_messages_total",
					Help: "Total messages appended to session histories.",
				},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent runs by provider and status.",
				},
				[]string{"provider", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentRetryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_retry_total",
					Help: "Total transient-error retries by provider.",
				},
				[]string{"provider"},
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
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			sweepRemovedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sweep_removed_total",
					Help: "Total entries removed by background sweeps, by store.",
				},
				[]string{"store"},
			),
		}

		prometheus.MustRegister(
			m.cacheLookupTotal,
			m.cacheSetsTotal,
			m.cacheEvictionTotal,
			m.cacheEntries,
			m.activeSessions,
			m.sessionMessages,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentRetryTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.queueSize,
			m.enqueueTotal,
			m.taskDuration,
			m.sweepRemovedTotal,
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

func RecordCacheLookup(hit bool) {
	m := getMetrics()
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupTotal.WithLabelValues(result).Inc()
}

func RecordCacheSet(liveEntries int) {
	m := getMetrics()
	m.cacheSetsTotal.Inc()
	m.cacheEntries.Set(float64(liveEntries))
}

func RecordCacheEviction() {
	getMetrics().cacheEvictionTotal.Inc()
}

func SetCacheEntries(liveEntries int) {
	getMetrics().cacheEntries.Set(float64(liveEntries))
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionMessage() {
	getMetrics().sessionMessages.Inc()
}

func RecordAgentRun(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.agentRunTotal.WithLabelValues(provider, status).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordAgentRetry(provider string) {
	getMetrics().agentRetryTotal.WithLabelValues(provider).Inc()
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

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, queueSize int) {
	m := getMetrics()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordSweep(store string, removed int) {
	getMetrics().sweepRemovedTotal.WithLabelValues(store).Add(float64(removed))
}
