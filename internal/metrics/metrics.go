// Package metrics exposes the engine's runtime counters as Prometheus
// collectors (§5 Concurrency & Resource Model), grounded on the pack's
// prometheus/client_golang usage.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector this package registers, kept separate
// from prometheus.DefaultRegisterer so tests can spin up isolated engine
// instances without collector-already-registered panics.
var Registry = prometheus.NewRegistry()

var (
	busPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spiderfoot",
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Total events published to the event bus, by event type.",
		},
		[]string{"event_type"},
	)

	busDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spiderfoot",
			Subsystem: "bus",
			Name:      "events_delivered_total",
			Help:      "Total events delivered to subscribers, by subscriber and outcome.",
		},
		[]string{"subscriber", "outcome"},
	)

	pipelineStage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spiderfoot",
			Subsystem: "pipeline",
			Name:      "stage_events_total",
			Help:      "Total events processed by a pipeline stage, by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	pipelineLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spiderfoot",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of one pipeline stage's Process call.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"stage"},
	)

	sandboxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spiderfoot",
			Subsystem: "sandbox",
			Name:      "module_run_duration_seconds",
			Help:      "Duration of one module's sandboxed execution.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"module", "result"},
	)

	sandboxViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spiderfoot",
			Subsystem: "sandbox",
			Name:      "resource_violations_total",
			Help:      "Total resource-limit violations, by module and kind.",
		},
		[]string{"module", "kind"},
	)

	correlationMatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spiderfoot",
			Subsystem: "correlation",
			Name:      "matches_total",
			Help:      "Total correlation matches fired, by rule and kind (batch/streaming).",
		},
		[]string{"rule", "kind"},
	)

	scanPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "spiderfoot",
			Subsystem: "scan",
			Name:      "phase",
			Help:      "Current orchestrator phase as an ordinal, by scan id.",
		},
		[]string{"scan_id"},
	)
)

func init() {
	Registry.MustRegister(
		busPublished,
		busDelivered,
		pipelineStage,
		pipelineLatency,
		sandboxDuration,
		sandboxViolations,
		correlationMatches,
		scanPhase,
	)
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordPublish records one event publish to the bus.
func RecordPublish(eventType string) {
	busPublished.WithLabelValues(eventType).Inc()
}

// RecordDelivery records one subscriber delivery outcome ("ok", "error",
// "panic", "dropped").
func RecordDelivery(subscriber, outcome string) {
	busDelivered.WithLabelValues(subscriber, outcome).Inc()
}

// RecordStage records one pipeline stage's outcome and latency.
func RecordStage(stage, outcome string, duration time.Duration) {
	pipelineStage.WithLabelValues(stage, outcome).Inc()
	pipelineLatency.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordSandboxRun records one module's sandboxed execution.
func RecordSandboxRun(module, result string, duration time.Duration) {
	sandboxDuration.WithLabelValues(module, result).Observe(duration.Seconds())
}

// RecordSandboxViolation records one resource-limit violation.
func RecordSandboxViolation(module, kind string) {
	sandboxViolations.WithLabelValues(module, kind).Inc()
}

// RecordCorrelationMatch records one correlation match, kind being
// "batch" or "streaming".
func RecordCorrelationMatch(rule, kind string) {
	correlationMatches.WithLabelValues(rule, kind).Inc()
}

// SetScanPhase records scanID's current orchestrator phase ordinal.
func SetScanPhase(scanID string, phase int) {
	scanPhase.WithLabelValues(scanID).Set(float64(phase))
}

// ModuleMetrics tracks per-module counters outside of Prometheus, for
// callers that want a cheap in-process snapshot without scraping /metrics
// (§5).
type ModuleMetrics struct {
	mu     sync.Mutex
	byName map[string]*moduleCounter
}

type moduleCounter struct {
	EventsProduced int64
	Errors         int64
	LastRunMS      int64
}

// NewModuleMetrics returns an empty tracker.
func NewModuleMetrics() *ModuleMetrics {
	return &ModuleMetrics{byName: map[string]*moduleCounter{}}
}

// RecordEvent increments module's produced-event counter.
func (m *ModuleMetrics) RecordEvent(module string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entry(module).EventsProduced++
}

// RecordError increments module's error counter.
func (m *ModuleMetrics) RecordError(module string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entry(module).Errors++
}

// RecordRun stamps module's last-run timestamp (epoch ms).
func (m *ModuleMetrics) RecordRun(module string, atMS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entry(module).LastRunMS = atMS
}

func (m *ModuleMetrics) entry(module string) *moduleCounter {
	c, ok := m.byName[module]
	if !ok {
		c = &moduleCounter{}
		m.byName[module] = c
	}

	return c
}

// Snapshot is one module's counters at a point in time.
type Snapshot struct {
	Module         string
	EventsProduced int64
	Errors         int64
	LastRunMS      int64
}

// Snapshot returns every module's counters, taken under lock so the
// result is internally consistent.
func (m *ModuleMetrics) Snapshot() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Snapshot, 0, len(m.byName))
	for name, c := range m.byName {
		out = append(out, Snapshot{
			Module:         name,
			EventsProduced: c.EventsProduced,
			Errors:         c.Errors,
			LastRunMS:      c.LastRunMS,
		})
	}

	return out
}
