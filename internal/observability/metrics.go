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
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions      prometheus.Gauge
	sessionLoadDuration *prometheus.HistogramVec
	sessionSaveDuration *prometheus.HistogramVec

	turnRunTotal      *prometheus.CounterVec
	turnRunDuration   *prometheus.HistogramVec
	compactionTotal   prometheus.Counter
	compactedTurns    prometheus.Histogram
	correctionEntries prometheus.Histogram

	capabilityCallTotal    *prometheus.CounterVec
	capabilityCallDuration *prometheus.HistogramVec
	capabilityRetryTotal   *prometheus.CounterVec

	gateWaitDuration *prometheus.HistogramVec
	gateInUse        *prometheus.GaugeVec

	httpRequestTotal    *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
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
					Name: "korli_queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "korli_enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "korli_dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "korli_task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "korli_active_sessions",
					Help: "Sessions currently held by the store.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "korli_session_load_duration_seconds",
					Help:    "Session load duration in seconds by store.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"store"},
			),
			sessionSaveDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "korli_session_merge_duration_seconds",
					Help:    "Session merge-write duration in seconds by store.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"store"},
			),
			turnRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "korli_turn_run_total",
					Help: "Total orchestrator runs by final state and outcome.",
				},
				[]string{"state", "outcome"},
			),
			turnRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "korli_turn_run_duration_seconds",
					Help:    "Orchestrator run duration in seconds by outcome.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"outcome"},
			),
			compactionTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "korli_compaction_total",
					Help: "Total history compactions.",
				},
			),
			compactedTurns: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "korli_compacted_turns",
					Help:    "Turns folded into the summary per compaction.",
					Buckets: prometheus.LinearBuckets(0, 5, 10),
				},
			),
			correctionEntries: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "korli_correction_entries",
					Help:    "Correction map size after each committed run.",
					Buckets: prometheus.ExponentialBuckets(1, 2, 12),
				},
			),
			capabilityCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "korli_capability_call_total",
					Help: "Total external capability calls by capability and status.",
				},
				[]string{"capability", "status"},
			),
			capabilityCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "korli_capability_call_duration_seconds",
					Help:    "External capability call duration in seconds, retries included.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"capability"},
			),
			capabilityRetryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "korli_capability_retry_total",
					Help: "Total retried attempts by operation.",
				},
				[]string{"operation"},
			),
			gateWaitDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "korli_gate_wait_duration_seconds",
					Help:    "Time spent waiting for admission by gate.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"gate"},
			),
			gateInUse: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "korli_gate_in_use",
					Help: "Admitted calls currently holding a gate.",
				},
				[]string{"gate"},
			),
			httpRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "korli_http_requests_total",
					Help: "HTTP requests by route pattern and status code.",
				},
				[]string{"route", "status"},
			),
			httpRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "korli_http_request_duration_seconds",
					Help:    "HTTP request duration by route pattern.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"route"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeSessions,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.turnRunTotal,
			m.turnRunDuration,
			m.compactionTotal,
			m.compactedTurns,
			m.correctionEntries,
			m.capabilityCallTotal,
			m.capabilityCallDuration,
			m.capabilityRetryTotal,
			m.gateWaitDuration,
			m.gateInUse,
			m.httpRequestTotal,
			m.httpRequestDuration,
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

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, statusLabel(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordSessionLoad(store string, duration time.Duration) {
	m := getMetrics()
	m.sessionLoadDuration.WithLabelValues(store).Observe(duration.Seconds())
}

func RecordSessionSave(store string, duration time.Duration) {
	m := getMetrics()
	m.sessionSaveDuration.WithLabelValues(store).Observe(duration.Seconds())
}

// RecordTurnRun records one state of an orchestrator run. outcome is "ok"
// or "error".
func RecordTurnRun(state, outcome string, duration time.Duration) {
	m := getMetrics()
	m.turnRunTotal.WithLabelValues(state, outcome).Inc()
	m.turnRunDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordCompaction(folded int) {
	m := getMetrics()
	m.compactionTotal.Inc()
	m.compactedTurns.Observe(float64(folded))
}

func RecordCorrectionEntries(total int) {
	m := getMetrics()
	m.correctionEntries.Observe(float64(total))
}

func RecordCapabilityCall(capability string, duration time.Duration, success bool) {
	m := getMetrics()
	m.capabilityCallTotal.WithLabelValues(capability, statusLabel(success)).Inc()
	m.capabilityCallDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

func RecordRetry(operation string) {
	m := getMetrics()
	m.capabilityRetryTotal.WithLabelValues(operation).Inc()
}

func RecordGateWait(gate string, wait time.Duration) {
	m := getMetrics()
	m.gateWaitDuration.WithLabelValues(gate).Observe(wait.Seconds())
}

func SetGateInUse(gate string, inUse int) {
	m := getMetrics()
	m.gateInUse.WithLabelValues(gate).Set(float64(inUse))
}

func RecordHTTPRequest(route string, status int, duration time.Duration) {
	m := getMetrics()
	m.httpRequestTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
