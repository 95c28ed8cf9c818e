package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	messagesBuffered *prometheus.CounterVec
	activeBuffers    prometheus.Gauge
	flushTotal       *prometheus.CounterVec
	flushSize        prometheus.Histogram
	bufferCancels    prometheus.Counter
	debounceWindow   prometheus.Histogram

	tasksCreated   *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	runningTasks   prometheus.Gauge

	activeSessions prometheus.Gauge

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration prometheus.Histogram

	httpRequests *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			messagesBuffered: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ccserver_messages_buffered_total",
					Help: "Messages accepted into a debounce buffer, by whether they reset a running timer.",
				},
				[]string{"reset"},
			),
			activeBuffers: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "ccserver_active_buffers",
					Help: "Sessions with buffered messages awaiting flush.",
				},
			),
			flushTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ccserver_buffer_flush_total",
					Help: "Buffer flushes by callback status.",
				},
				[]string{"status"},
			),
			flushSize: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "ccserver_buffer_flush_messages",
					Help:    "Number of messages merged per flush.",
					Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
				},
			),
			bufferCancels: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "ccserver_buffer_cancel_total",
					Help: "Buffers discarded without flushing.",
				},
			),
			debounceWindow: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "ccserver_debounce_window_seconds",
					Help:    "Debounce window applied when a timer is (re)scheduled.",
					Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10, 30},
				},
			),
			tasksCreated: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ccserver_tasks_created_total",
					Help: "Async tasks created by origin.",
				},
				[]string{"origin"},
			),
			tasksCompleted: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ccserver_tasks_completed_total",
					Help: "Async tasks finished by terminal status.",
				},
				[]string{"status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "ccserver_task_duration_seconds",
					Help:    "Async task execution duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			runningTasks: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "ccserver_running_tasks",
					Help: "Async tasks currently executing.",
				},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "ccserver_active_sessions",
					Help: "Current tracked conversation sessions.",
				},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ccserver_agent_run_total",
					Help: "Agent invocations by status.",
				},
				[]string{"status"},
			),
			agentRunDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "ccserver_agent_run_duration_seconds",
					Help:    "Agent invocation duration in seconds.",
					Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
			),
			httpRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ccserver_http_requests_total",
					Help: "HTTP requests by route and status code.",
				},
				[]string{"route", "code"},
			),
		}

		prometheus.MustRegister(
			m.messagesBuffered,
			m.activeBuffers,
			m.flushTotal,
			m.flushSize,
			m.bufferCancels,
			m.debounceWindow,
			m.tasksCreated,
			m.tasksCompleted,
			m.taskDuration,
			m.runningTasks,
			m.activeSessions,
			m.agentRunTotal,
			m.agentRunDuration,
			m.httpRequests,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordMessageBuffered(resetTimer bool, window time.Duration) {
	m := getMetrics()
	m.messagesBuffered.WithLabelValues(strconv.FormatBool(resetTimer)).Inc()
	m.debounceWindow.Observe(window.Seconds())
}

func SetActiveBuffers(count int) {
	m := getMetrics()
	m.activeBuffers.Set(float64(count))
}

func RecordFlush(messages int, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.flushTotal.WithLabelValues(status).Inc()
	m.flushSize.Observe(float64(messages))
}

func RecordBufferCancel() {
	getMetrics().bufferCancels.Inc()
}

func RecordTaskCreated(origin string) {
	getMetrics().tasksCreated.WithLabelValues(origin).Inc()
}

func RecordTaskCompletion(status string, duration time.Duration) {
	m := getMetrics()
	m.tasksCompleted.WithLabelValues(status).Inc()
	m.taskDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func SetRunningTasks(count int) {
	getMetrics().runningTasks.Set(float64(count))
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordAgentRun(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.agentRunTotal.WithLabelValues(status).Inc()
	m.agentRunDuration.Observe(duration.Seconds())
}

func RecordHTTPRequest(route string, code int) {
	getMetrics().httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
