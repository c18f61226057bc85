// Package engine wires the bus, resolver, orchestrator, sandbox manager,
// policy, correlation, and event store into one runnable scan driver. It is
// the engine half of module.EngineHandle: every module's Emit/CheckForStop
// call lands here.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/poppopjmp/spiderfoot-sub002/internal/bus"
	"github.com/poppopjmp/spiderfoot-sub002/internal/correlation"
	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
	"github.com/poppopjmp/spiderfoot-sub002/internal/metrics"
	"github.com/poppopjmp/spiderfoot-sub002/internal/module"
	"github.com/poppopjmp/spiderfoot-sub002/internal/orchestrator"
	"github.com/poppopjmp/spiderfoot-sub002/internal/policy"
	"github.com/poppopjmp/spiderfoot-sub002/internal/registry"
	"github.com/poppopjmp/spiderfoot-sub002/internal/resolver"
	"github.com/poppopjmp/spiderfoot-sub002/internal/sandbox"
	"github.com/poppopjmp/spiderfoot-sub002/internal/store"
	"github.com/poppopjmp/spiderfoot-sub002/internal/target"
)

// Config bounds one Engine's behavior across every scan it runs.
type Config struct {
	// BusQueueSize bounds each module's inbound queue (§4.1).
	BusQueueSize int

	// DefaultLimits bounds sandboxed module invocations not otherwise
	// overridden (§4.5).
	DefaultLimits sandbox.ResourceLimits

	// TruncateEventData bounds how much of an event's Data is persisted,
	// mirroring the original's result_event truncation. Zero disables it.
	TruncateEventData int

	// CorrelationRules are the batch rule documents run once a scan
	// reaches its terminal phase (§3 correlation_results, §6).
	CorrelationRules []correlation.Rule

	// StreamingRules drive the live correlator observed on every
	// published event (§4.1 Match semantics).
	StreamingRules []correlation.StreamingRule

	// KafkaBrokers, if non-empty, mirrors every published event onto
	// KafkaTopic via a bus.KafkaSink for downstream SIEM/export pipelines
	// that want a live event stream rather than polling the event store.
	// Disabled when empty.
	KafkaBrokers []string
	KafkaTopic   string

	// DefaultOutlierNoisyPercent overrides the batch correlator's built-in
	// noisy_percent fallback for outlier analysis steps that don't set
	// their own (§4.7.1). Zero means "use the collector's built-in
	// default".
	DefaultOutlierNoisyPercent float64
}

// seedModuleName is the synthetic producer name recorded on the one event
// that turns the root marker into the target's own type for modules to
// consume (§4.3 Start).
const seedModuleName = "engine:seed"

// DefaultConfig returns sensible defaults for a single-process deployment.
func DefaultConfig() Config {
	return Config{
		BusQueueSize:      bus.DefaultConfig().QueueSize,
		DefaultLimits:     sandbox.DefaultLimits(),
		TruncateEventData: 0,
	}
}

// Engine drives one scan at a time end to end: dependency resolution,
// phase scheduling, sandboxed module execution, event persistence, and
// correlation, all behind the module.EngineHandle seam (§9 Design Notes).
type Engine struct {
	logger   *slog.Logger
	config   Config
	registry *registry.Registry
	store    store.EventStore
	sandbox  *sandbox.Manager
	policy   policy.Policy
	target   *target.Target

	mu          sync.Mutex
	bus         *bus.Bus
	orch        *orchestrator.Orchestrator
	resolved    resolver.Result
	streaming   *correlation.StreamingCorrelator
	handles     map[string]*moduleHandle
	wg          sync.WaitGroup
	eventsTotal int
	stopped     bool
	scanID      string
	depths      map[string]int
}

// depthOf returns the recorded hop count from the root event for hash, or
// zero if hash is unrecorded (treated as root-adjacent).
func (e *Engine) depthOf(hash string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.depths[hash]
}

func (e *Engine) recordDepth(event *eventmodel.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.depths == nil {
		e.depths = map[string]int{}
	}

	if event.IsRoot() {
		e.depths[event.Hash] = 0

		return
	}

	e.depths[event.Hash] = e.depths[event.SourceHash] + 1
}

// New builds an Engine that schedules modules drawn from reg, persists
// events to store, and runs module invocations under sandbox limits from
// cfg (§9: static registry, explicit engine handle replacing globals).
func New(logger *slog.Logger, cfg Config, reg *registry.Registry, eventStore store.EventStore, pol policy.Policy) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.BusQueueSize <= 0 {
		cfg = DefaultConfig()
	}

	return &Engine{
		logger:   logger,
		config:   cfg,
		registry: reg,
		store:    eventStore,
		sandbox:  sandbox.NewManager(cfg.DefaultLimits),
		policy:   pol,
		handles:  map[string]*moduleHandle{},
	}
}

// moduleHandle is the module.EngineHandle implementation bound to one
// module for the lifetime of a scan. currentParent is rebound by the bus
// consumer adapter before each HandleEvent call; the bus guarantees a
// module's own event stream is never delivered concurrently (§4.1), so no
// locking is needed around it beyond the engine's own housekeeping.
type moduleHandle struct {
	engine        *Engine
	descriptor    module.Descriptor
	currentParent *eventmodel.Event
	tracker       *sandbox.ResourceTracker
}

// Emit constructs a child event of the module's current parent, runs it
// through admission control and the event budget, persists and publishes
// it, and returns it (§4.2 emit_event).
func (h *moduleHandle) Emit(eventType, data string, opts ...eventmodel.Option) (*eventmodel.Event, error) {
	e := h.engine

	if decision := e.policy.AdmitEventType(eventType); !decision.Allowed {
		return nil, fmt.Errorf("engine: emit %s: %s", eventType, decision.Reason)
	}

	e.mu.Lock()
	if decision := e.policy.AdmitBudget(e.eventsTotal); !decision.Allowed {
		e.mu.Unlock()

		return nil, fmt.Errorf("engine: emit %s: %s", eventType, decision.Reason)
	}
	e.mu.Unlock()

	depth := 1
	if h.currentParent != nil {
		depth = e.depthOf(h.currentParent.Hash) + 1
	}

	// Scope admission only applies to event types that are themselves
	// target entities (domains, addresses, netblocks); derived findings
	// (GEOINFO, MALICIOUS_*, ...) ride on already-admitted data and are
	// never scope-checked on their own type (§3 Target, GLOSSARY "Scope").
	if e.target != nil && target.IsEntityType(eventType) {
		if decision := e.policy.AdmitTarget(e.target, data, target.Type(eventType), depth); !decision.Allowed {
			e.logger.Debug("engine: event out of scope", slog.String("event_type", eventType), slog.String("data", data))

			return nil, nil
		}
	}

	event, err := eventmodel.New(h.currentParent, eventType, data, h.descriptor.Name, opts...)
	if err != nil {
		return nil, fmt.Errorf("engine: construct event: %w", err)
	}

	if h.tracker != nil && h.tracker.RecordEvent() {
		return nil, fmt.Errorf("engine: emit %s: %s", eventType, sandbox.ViolationEvents)
	}

	e.mu.Lock()
	e.eventsTotal++
	e.mu.Unlock()

	e.publish(event)

	return event, nil
}

// CheckForStop reports whether the module should stop processing
// cooperatively: the scan was aborted, or this invocation's sandbox
// deadline has passed (§4.2 check_for_stop).
func (h *moduleHandle) CheckForStop() bool {
	h.engine.mu.Lock()
	stopped := h.engine.stopped
	h.engine.mu.Unlock()

	if stopped {
		return true
	}

	return h.tracker != nil && h.tracker.CheckTime()
}

// moduleConsumer adapts a module.Module into a bus.Consumer, running each
// delivered event inside the module's sandbox and reporting the outcome to
// the orchestrator (§4.3 module_completed/module_failed, §4.5).
type moduleConsumer struct {
	engine *Engine
	mod    module.Module
	handle *moduleHandle
	sb     *sandbox.Sandbox
}

func (c *moduleConsumer) Name() string { return c.handle.descriptor.Name }

func (c *moduleConsumer) Deliver(event *eventmodel.Event) error {
	defer c.engine.wg.Done()

	name := c.handle.descriptor.Name

	if decision := c.engine.policy.AdmitModule(name); !decision.Allowed {
		c.engine.logger.Debug("engine: module denied by policy", slog.String("module", name), slog.String("reason", decision.Reason))

		return nil
	}

	c.engine.orch.ModuleStarted(name)

	result := c.sb.ExecuteWithTimeout(func(tracker *sandbox.ResourceTracker) error {
		c.handle.currentParent = event
		c.handle.tracker = tracker

		return c.mod.HandleEvent(event)
	})

	c.engine.sandbox.RecordResult(name, result)
	metrics.RecordSandboxRun(name, string(result.State), result.Duration)

	if result.State != sandbox.StateCompleted {
		if result.State == sandbox.StateTimedOut || result.State == sandbox.StateFailed {
			metrics.RecordSandboxViolation(name, string(result.Usage.ViolationReason))
		}

		c.engine.orch.ModuleFailed(name, result.Usage.Events, result.Exception)

		return result.Exception
	}

	c.engine.orch.ModuleCompleted(name, result.Usage.Events)

	return nil
}

// Run executes one scan against seedValue/seedType from start to a
// terminal phase, returning the final phase reached (§4.3, §6).
func (e *Engine) Run(ctx context.Context, scanID, seedValue string, seedType target.Type, opts ...target.Option) (orchestrator.Phase, error) {
	e.mu.Lock()
	e.scanID = scanID
	e.target = target.New(seedValue, seedType, opts...)
	e.streaming = correlation.NewStreamingCorrelator(e.logger)
	e.mu.Unlock()

	for _, rule := range e.config.StreamingRules {
		e.streaming.AddRule(rule)
	}

	e.streaming.OnMatch(func(m correlation.Match) {
		e.logger.Info("engine: streaming correlation match", slog.String("rule", m.RuleName), slog.String("group", m.GroupKey))
	})

	descriptors := e.registry.Descriptors()
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })

	res := resolver.New(descriptors)
	result := res.Resolve()
	e.resolved = result

	if result.Status == resolver.StatusCircular {
		return orchestrator.PhaseFailed, fmt.Errorf("engine: module dependency graph has a cycle: %v", result.Cycles)
	}

	if result.Status == resolver.StatusMissingProvider {
		for _, mp := range result.MissingProviders {
			e.logger.Warn("engine: no producer for consumed event type", slog.String("module", mp.Module), slog.String("event_type", mp.EventType))
		}
	}

	e.orch = orchestrator.New()

	for _, d := range descriptors {
		e.orch.Register(orchestrator.ModuleRegistration{
			Name:          d.Name,
			Phase:         orchestrator.PhaseDiscovery,
			Priority:      d.Priority,
			Prerequisites: d.Prerequisites,
		})
	}

	e.orch.OnPhaseChange(func(from, to orchestrator.Phase, duration time.Duration) {
		metrics.SetScanPhase(scanID, phaseOrdinal(to))
		e.logger.Info("engine: phase transition", slog.String("scan_id", scanID), slog.String("from", string(from)), slog.String("to", string(to)), slog.Duration("duration", duration))

		_ = e.store.LogEvents(ctx, []store.LogEntry{{
			ScanID:    scanID,
			Component: "orchestrator",
			Type:      "STATUS",
			Message:   fmt.Sprintf("phase %s -> %s", from, to),
		}})
	})

	finalPhase := make(chan orchestrator.Phase, 1)

	e.orch.OnCompletion(func(final orchestrator.Phase, reason string) {
		status := string(store.ScanStatusFinished)
		if final == orchestrator.PhaseFailed {
			status = string(store.ScanStatusErrorFailed)
		}

		if err := e.store.SetScanStatus(ctx, scanID, status); err != nil {
			e.logger.Error("engine: failed to set terminal scan status", slog.Any("error", err))
		}

		finalPhase <- final
	})

	e.bus = bus.New(e.logger, bus.Config{QueueSize: e.config.BusQueueSize})

	if len(e.config.KafkaBrokers) > 0 {
		sink := bus.NewKafkaSink(e.config.KafkaBrokers, e.config.KafkaTopic)
		e.bus.WithSink(sink)

		defer func() {
			if err := sink.Close(); err != nil {
				e.logger.Error("engine: kafka sink close failed", slog.Any("error", err))
			}
		}()
	}

	if err := e.wireModules(descriptors); err != nil {
		return orchestrator.PhaseFailed, err
	}

	// Wired modules implementing module.Closer are closed once when Run
	// returns, whether the scan completed, failed or was aborted.
	defer func() {
		for name := range e.handles {
			mod, _ := e.registry.Get(name)
			if closer, ok := mod.(module.Closer); ok {
				if err := closer.Close(); err != nil {
					e.logger.Error("engine: module close failed", slog.String("module", name), slog.Any("error", err))
				}
			}
		}
	}()

	if err := e.store.CreateScan(ctx, store.ScanRecord{
		GUID:       scanID,
		Name:       scanID,
		SeedTarget: seedValue,
		TargetType: string(seedType),
		CreatedMS:  time.Now().UnixMilli(),
		Status:     string(store.ScanStatusStarting),
	}); err != nil {
		return orchestrator.PhaseFailed, fmt.Errorf("engine: create scan: %w", err)
	}

	if err := e.store.SetScanStatus(ctx, scanID, string(store.ScanStatusRunning)); err != nil {
		return orchestrator.PhaseFailed, fmt.Errorf("engine: set scan status: %w", err)
	}

	e.bus.Start(ctx)
	defer e.bus.Stop()

	root, err := e.orch.Start(seedValue)
	if err != nil {
		return orchestrator.PhaseFailed, fmt.Errorf("engine: start orchestrator: %w", err)
	}

	e.publish(root)

	// The root event itself carries the reserved ROOT type, which no module
	// watches; what actually kicks off discovery is a typed seed event
	// parented by root, carrying the target's own type (e.g. INTERNET_NAME)
	// so modules declaring that type in Consumes activate (§4.3 Start:
	// "emits the root event" is the provenance anchor, not the trigger).
	seedEvent, err := eventmodel.New(root, string(seedType), seedValue, seedModuleName)
	if err != nil {
		return orchestrator.PhaseFailed, fmt.Errorf("engine: construct seed event: %w", err)
	}

	e.publish(seedEvent)

	drained := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()

		<-drained
	}

	for !e.orch.IsComplete() {
		e.orch.AdvancePhase()
	}

	select {
	case final := <-finalPhase:
		if final == orchestrator.PhaseComplete {
			if err := e.runCorrelation(ctx, scanID); err != nil {
				e.logger.Error("engine: correlation run failed", slog.Any("error", err))
			}
		}

		return final, nil
	default:
		return e.orch.Phase(), nil
	}
}

// runCorrelation replays every configured batch rule against the scan's
// stored events once it has reached a terminal phase (§6 correlation
// results are computed after scan completion).
func (e *Engine) runCorrelation(ctx context.Context, scanID string) error {
	if len(e.config.CorrelationRules) == 0 {
		return nil
	}

	collector := correlation.NewCollector(e.store)
	collector.DefaultOutlierNoisyPercent = e.config.DefaultOutlierNoisyPercent

	for _, rule := range e.config.CorrelationRules {
		results, err := collector.Run(ctx, scanID, rule)
		if err != nil {
			return fmt.Errorf("engine: run correlation rule %s: %w", rule.ID, err)
		}

		for _, result := range results {
			if err := e.store.StoreCorrelationResult(ctx, result); err != nil {
				return fmt.Errorf("engine: store correlation result: %w", err)
			}

			metrics.RecordCorrelationMatch(rule.ID, "batch")
		}
	}

	return nil
}

func (e *Engine) wireModules(descriptors []module.Descriptor) error {
	for _, d := range descriptors {
		mod, ok := e.registry.Get(d.Name)
		if !ok {
			return fmt.Errorf("engine: registry missing module %q named by its own descriptor", d.Name)
		}

		handle := &moduleHandle{engine: e, descriptor: d}

		if err := mod.Setup(handle, module.Options{}); err != nil {
			e.logger.Error("engine: module setup failed", slog.String("module", d.Name), slog.Any("error", err))

			continue
		}

		e.handles[d.Name] = handle

		consumer := &moduleConsumer{
			engine: e,
			mod:    mod,
			handle: handle,
			sb:     e.sandbox.Get(d.Name),
		}

		e.bus.Subscribe(consumer, d.Consumes)
	}

	return nil
}

// publish persists event, mirrors it to the streaming correlator, and fans
// it out on the bus, pre-counting matching subscribers into the drain
// WaitGroup before the asynchronous delivery can race past Wait (§4.1).
func (e *Engine) publish(event *eventmodel.Event) {
	e.recordDepth(event)

	if err := e.store.StoreEvent(context.Background(), e.scanID, event, e.config.TruncateEventData); err != nil {
		e.logger.Error("engine: store event failed", slog.Any("error", err), slog.String("event_type", event.EventType))
	}

	metrics.RecordPublish(event.EventType)

	if e.streaming != nil {
		e.streaming.Observe(event)
	}

	matches := 0

	for _, h := range e.handles {
		for _, t := range h.descriptor.Consumes {
			if t == module.AllEventTypes || t == event.EventType {
				matches++

				break
			}
		}
	}

	if matches > 0 {
		e.wg.Add(matches)
	}

	e.bus.Publish(event)
}

func phaseOrdinal(p orchestrator.Phase) int {
	order := []orchestrator.Phase{
		orchestrator.PhaseInit,
		orchestrator.PhaseDiscovery,
		orchestrator.PhaseEnumeration,
		orchestrator.PhaseAnalysis,
		orchestrator.PhaseEnrichment,
		orchestrator.PhaseCorrelation,
		orchestrator.PhaseReporting,
		orchestrator.PhaseComplete,
		orchestrator.PhaseFailed,
	}

	for i, ph := range order {
		if ph == p {
			return i
		}
	}

	return -1
}
