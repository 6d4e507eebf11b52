// Package metrics records message flow and execution statistics. Counters are
// always kept in process and exported as JSON; the Prometheus collectors are
// only fed once InitPrometheus has been called.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Reasons a received message was dropped without being acted upon.
const (
	DropInboxFull      = "inbox_full"
	DropUnparsable     = "unparsable"
	DropUnidentifiable = "unidentifiable"
	DropUnknownID      = "unknown_id"
	DropDuplicateID    = "duplicate_id"
)

// exitSuccess mirrors the wire name of the successful exit code.
const exitSuccess = "SUCCESS"

// Metrics collects funcall runtime metrics
type Metrics struct {
	// Message flow
	MessagesReceived atomic.Int64
	MessagesDropped  atomic.Int64
	PublishErrors    atomic.Int64
	TasksCompleted   atomic.Int64

	// Executions run by this process
	Executions        atomic.Int64
	SuccessExecutions atomic.Int64
	FailedExecutions  atomic.Int64
	Inflight          atomic.Int64

	// Latency metrics (in milliseconds)
	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	dropReasons sync.Map // reason -> *atomic.Int64
	funcMetrics sync.Map // function name -> *FunctionMetrics

	startTime time.Time
}

// FunctionMetrics tracks executions of a single registered function
type FunctionMetrics struct {
	Executions atomic.Int64
	Successes  atomic.Int64
	Failures   atomic.Int64
	TotalMs    atomic.Int64
	MinMs      atomic.Int64
	MaxMs      atomic.Int64
}

var global = newMetrics()

func newMetrics() *Metrics {
	m := &Metrics{startTime: time.Now()}
	m.MinLatencyMs.Store(maxInt64)
	return m
}

const maxInt64 = int64(^uint64(0) >> 1)

// Global returns the process-wide metrics instance.
func Global() *Metrics {
	return global
}

// StartTime returns the time when the metrics system was initialized
func StartTime() time.Time {
	return global.startTime
}

// RecordMessageReceived counts a message accepted into a transport inbox.
func RecordMessageReceived(channel string) {
	global.MessagesReceived.Add(1)
	promRecordMessageReceived(channel)
}

// RecordMessageDropped counts a message discarded for reason.
func RecordMessageDropped(channel, reason string) {
	global.MessagesDropped.Add(1)
	global.dropCounter(reason).Add(1)
	promRecordMessageDropped(channel, reason)
}

// RecordPublishError counts a failed publish. The message is retried on the
// next tick.
func RecordPublishError(channel string) {
	global.PublishErrors.Add(1)
	promRecordPublishError(channel)
}

// RecordTaskCompleted counts a task reaching COMPLETED on role's side.
func RecordTaskCompleted(role, exitCode string) {
	global.TasksCompleted.Add(1)
	promRecordTaskCompleted(role, exitCode)
}

// RecordExecution records one finished function execution.
func RecordExecution(function string, durationMs float64, exitCode string) {
	global.recordExecution(function, int64(durationMs), exitCode == exitSuccess)
	promRecordExecution(function, durationMs, exitCode)
}

// IncInflight marks an execution as started.
func IncInflight() {
	global.Inflight.Add(1)
	promIncInflight()
}

// DecInflight marks an execution as finished.
func DecInflight() {
	global.Inflight.Add(-1)
	promDecInflight()
}

// SetLiveTasks reports the number of tasks role currently tracks.
func SetLiveTasks(role string, n int) {
	promSetLiveTasks(role, n)
}

func (m *Metrics) recordExecution(function string, durationMs int64, success bool) {
	m.Executions.Add(1)
	if success {
		m.SuccessExecutions.Add(1)
	} else {
		m.FailedExecutions.Add(1)
	}
	m.TotalLatencyMs.Add(durationMs)
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	fm := m.getFunctionMetrics(function)
	fm.Executions.Add(1)
	if success {
		fm.Successes.Add(1)
	} else {
		fm.Failures.Add(1)
	}
	fm.TotalMs.Add(durationMs)
	updateMin(&fm.MinMs, durationMs)
	updateMax(&fm.MaxMs, durationMs)
}

func (m *Metrics) dropCounter(reason string) *atomic.Int64 {
	if c, ok := m.dropReasons.Load(reason); ok {
		return c.(*atomic.Int64)
	}
	actual, _ := m.dropReasons.LoadOrStore(reason, new(atomic.Int64))
	return actual.(*atomic.Int64)
}

func (m *Metrics) getFunctionMetrics(name string) *FunctionMetrics {
	if fm, ok := m.funcMetrics.Load(name); ok {
		return fm.(*FunctionMetrics)
	}
	fm := &FunctionMetrics{}
	fm.MinMs.Store(maxInt64)
	actual, _ := m.funcMetrics.LoadOrStore(name, fm)
	return actual.(*FunctionMetrics)
}

// Dropped returns the number of messages dropped for reason.
func (m *Metrics) Dropped(reason string) int64 {
	if c, ok := m.dropReasons.Load(reason); ok {
		return c.(*atomic.Int64).Load()
	}
	return 0
}

// Snapshot returns a point-in-time snapshot of all metrics
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.Executions.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(total)
	}
	minLatency := m.MinLatencyMs.Load()
	if minLatency == maxInt64 {
		minLatency = 0
	}

	drops := make(map[string]int64)
	m.dropReasons.Range(func(key, value interface{}) bool {
		drops[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"messages": map[string]interface{}{
			"received":       m.MessagesReceived.Load(),
			"dropped":        m.MessagesDropped.Load(),
			"dropped_by":     drops,
			"publish_errors": m.PublishErrors.Load(),
		},
		"tasks_completed": m.TasksCompleted.Load(),
		"executions": map[string]interface{}{
			"total":    total,
			"success":  m.SuccessExecutions.Load(),
			"failed":   m.FailedExecutions.Load(),
			"inflight": m.Inflight.Load(),
		},
		"latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyMs.Load(),
		},
	}
}

// FunctionStats returns per-function metrics
func (m *Metrics) FunctionStats() map[string]interface{} {
	result := make(map[string]interface{})

	m.funcMetrics.Range(func(key, value interface{}) bool {
		fm := value.(*FunctionMetrics)

		total := fm.Executions.Load()
		avgMs := float64(0)
		if total > 0 {
			avgMs = float64(fm.TotalMs.Load()) / float64(total)
		}
		minMs := fm.MinMs.Load()
		if minMs == maxInt64 {
			minMs = 0
		}

		result[key.(string)] = map[string]interface{}{
			"executions": total,
			"successes":  fm.Successes.Load(),
			"failures":   fm.Failures.Load(),
			"avg_ms":     avgMs,
			"min_ms":     minMs,
			"max_ms":     fm.MaxMs.Load(),
		}
		return true
	})

	return result
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["functions"] = m.FunctionStats()
		json.NewEncoder(w).Encode(result)
	})
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
