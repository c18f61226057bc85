// Package orchestrator owns the scan lifecycle: a fixed phase sequence,
// per-phase module scheduling against prerequisites, and completion
// detection (§4.3).
package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
)

// Phase is one coarse-grained stage of a scan's lifecycle (§4.3).
type Phase string

// Phase sequence, in order. FAILED is reachable from any phase.
const (
	PhaseInit        Phase = "INIT"
	PhaseDiscovery   Phase = "DISCOVERY"
	PhaseEnumeration Phase = "ENUMERATION"
	PhaseAnalysis    Phase = "ANALYSIS"
	PhaseEnrichment  Phase = "ENRICHMENT"
	PhaseCorrelation Phase = "CORRELATION"
	PhaseReporting   Phase = "REPORTING"
	PhaseComplete    Phase = "COMPLETE"
	PhaseFailed      Phase = "FAILED"
)

// phaseOrder is the monotonic, non-FAILED phase sequence (§4.3, §8 I7).
var phaseOrder = []Phase{
	PhaseInit, PhaseDiscovery, PhaseEnumeration, PhaseAnalysis,
	PhaseEnrichment, PhaseCorrelation, PhaseReporting, PhaseComplete,
}

// ErrAlreadyTerminal is returned by operations attempted after the scan
// reached COMPLETE or FAILED.
var ErrAlreadyTerminal = errors.New("orchestrator: scan already terminal")

// ModuleRegistration binds a module name to the phase it runs in, its
// scheduling priority, and any prerequisite module names (§4.3).
type ModuleRegistration struct {
	Name          string
	Phase         Phase
	Priority      int
	Prerequisites []string
}

// PhaseChangeCallback observes every phase transition.
type PhaseChangeCallback func(from, to Phase, duration time.Duration)

// CompletionCallback observes scan completion (COMPLETE or FAILED).
type CompletionCallback func(final Phase, reason string)

// Orchestrator drives one scan's phase state machine.
type Orchestrator struct {
	mu sync.Mutex

	phase      Phase
	phaseStart time.Time
	scanStart  time.Time

	registrations map[string]ModuleRegistration
	running       map[string]bool
	completed     map[string]bool
	failed        map[string]bool
	produced      map[string]int

	phaseCallbacks      []PhaseChangeCallback
	completionCallbacks []CompletionCallback

	failReason string
}

// New builds an Orchestrator in phase INIT with no modules registered yet.
func New() *Orchestrator {
	return &Orchestrator{
		phase:         PhaseInit,
		registrations: map[string]ModuleRegistration{},
		running:       map[string]bool{},
		completed:     map[string]bool{},
		failed:        map[string]bool{},
		produced:      map[string]int{},
	}
}

// Register adds a module registration. Must be called before Start.
func (o *Orchestrator) Register(reg ModuleRegistration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.registrations[reg.Name] = reg
}

// OnPhaseChange registers a phase-transition callback.
func (o *Orchestrator) OnPhaseChange(cb PhaseChangeCallback) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.phaseCallbacks = append(o.phaseCallbacks, cb)
}

// OnCompletion registers a completion callback.
func (o *Orchestrator) OnCompletion(cb CompletionCallback) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.completionCallbacks = append(o.completionCallbacks, cb)
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.phase
}

// IsComplete reports whether the scan has reached a terminal phase.
func (o *Orchestrator) IsComplete() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.phase == PhaseComplete || o.phase == PhaseFailed
}

// Start snapshots the start time, emits the root event, and transitions
// INIT → DISCOVERY. The caller supplies seedTarget; the returned root event
// is the one event per scan with type ROOT (§3).
func (o *Orchestrator) Start(seedTarget string) (*eventmodel.Event, error) {
	root, err := eventmodel.NewRoot(seedTarget)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: start: %w", err)
	}

	o.mu.Lock()
	o.scanStart = time.Now()
	o.phaseStart = o.scanStart
	empty := len(o.registrations) == 0
	o.mu.Unlock()

	o.transition(PhaseDiscovery)

	if empty {
		// Empty registration terminates immediately (§4.3): drive through
		// every remaining phase since there is no module scheduling work to
		// wait for in any of them.
		for !o.IsComplete() {
			o.AdvancePhase()
		}
	}

	return root, nil
}

// AdvancePhase records the current phase's duration, fires phase-change
// callbacks, and moves to the next phase in sequence. It is idempotent
// after COMPLETE/FAILED (§4.3).
func (o *Orchestrator) AdvancePhase() {
	o.mu.Lock()

	if o.phase == PhaseComplete || o.phase == PhaseFailed {
		o.mu.Unlock()

		return
	}

	next := nextPhase(o.phase)
	o.mu.Unlock()

	o.transition(next)
}

func nextPhase(current Phase) Phase {
	for i, p := range phaseOrder {
		if p == current && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}

	return PhaseComplete
}

func (o *Orchestrator) transition(to Phase) {
	o.mu.Lock()

	from := o.phase
	duration := time.Since(o.phaseStart)
	o.phase = to
	o.phaseStart = time.Now()

	callbacks := append([]PhaseChangeCallback(nil), o.phaseCallbacks...)
	o.mu.Unlock()

	for _, cb := range callbacks {
		cb(from, to, duration)
	}

	if to == PhaseComplete || to == PhaseFailed {
		o.fireCompletion(to, o.failReason)
	}
}

// ModuleStarted marks name as running.
func (o *Orchestrator) ModuleStarted(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.running[name] = true
}

// ModuleCompleted marks name as completed and accumulates eventsProduced
// into its running total, consulted by checkCompletionAndFailure to tell a
// module that failed outright from one that failed after already
// contributing events.
func (o *Orchestrator) ModuleCompleted(name string, eventsProduced int) {
	o.mu.Lock()
	delete(o.running, name)
	o.completed[name] = true
	o.produced[name] += eventsProduced
	o.mu.Unlock()

	o.checkCompletionAndFailure()
}

// ModuleFailed marks name as failed and accumulates eventsProduced — the
// events the module emitted during the failed invocation itself, before
// the error that failed it — into its running total. A module failure is
// never fatal on its own (§4.3): the scan only fails if every module
// registered for the current phase failed having produced nothing at all,
// which checkCompletionAndFailure determines from this accumulated count.
func (o *Orchestrator) ModuleFailed(name string, eventsProduced int, err error) {
	o.mu.Lock()
	delete(o.running, name)
	o.failed[name] = true
	o.produced[name] += eventsProduced
	o.mu.Unlock()

	_ = err

	o.checkCompletionAndFailure()
}

// CanRunModule reports whether name's prerequisites are all in the
// completed set.
func (o *Orchestrator) CanRunModule(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	reg, ok := o.registrations[name]
	if !ok {
		return false
	}

	for _, prereq := range reg.Prerequisites {
		if !o.completed[prereq] {
			return false
		}
	}

	return true
}

// ModulesForPhase returns the registered module names for phase, ordered by
// descending priority, tie-broken by name (§4.3, §8 scenario 7).
func (o *Orchestrator) ModulesForPhase(phase Phase) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	var names []string

	for name, reg := range o.registrations {
		if reg.Phase == phase {
			names = append(names, name)
		}
	}

	sort.Slice(names, func(i, j int) bool {
		ri, rj := o.registrations[names[i]], o.registrations[names[j]]
		if ri.Priority != rj.Priority {
			return ri.Priority > rj.Priority
		}

		return names[i] < names[j]
	})

	return names
}

// Complete transitions the scan straight to COMPLETE. Terminal; subsequent
// calls are no-ops.
func (o *Orchestrator) Complete() {
	o.mu.Lock()

	if o.phase == PhaseComplete || o.phase == PhaseFailed {
		o.mu.Unlock()

		return
	}
	o.mu.Unlock()

	o.transition(PhaseComplete)
}

// Fail transitions the scan to FAILED with reason. Terminal; subsequent
// calls are no-ops.
func (o *Orchestrator) Fail(reason string) {
	o.mu.Lock()

	if o.phase == PhaseComplete || o.phase == PhaseFailed {
		o.mu.Unlock()

		return
	}

	o.failReason = reason
	o.mu.Unlock()

	o.transition(PhaseFailed)
}

func (o *Orchestrator) fireCompletion(final Phase, reason string) {
	o.mu.Lock()
	callbacks := append([]CompletionCallback(nil), o.completionCallbacks...)
	o.mu.Unlock()

	for _, cb := range callbacks {
		cb(final, reason)
	}
}

// checkCompletionAndFailure advances the phase once every registered
// module is in completed ∪ failed, and fails the scan if every module
// registered for the current phase failed before producing anything
// (§4.3) — a module that failed after already emitting at least one event
// does not count toward that failure.
func (o *Orchestrator) checkCompletionAndFailure() {
	o.mu.Lock()

	if o.phase == PhaseComplete || o.phase == PhaseFailed {
		o.mu.Unlock()

		return
	}

	total := len(o.registrations)
	done := len(o.completed) + len(o.failed)

	currentPhaseModules := o.modulesForPhaseLocked(o.phase)
	allFailedInPhase := len(currentPhaseModules) > 0

	for _, name := range currentPhaseModules {
		if !o.failed[name] || o.produced[name] > 0 {
			allFailedInPhase = false

			break
		}
	}

	o.mu.Unlock()

	if allFailedInPhase {
		o.Fail("all modules in phase failed before producing any events")

		return
	}

	if total > 0 && done >= total {
		o.AdvancePhase()
	}
}

func (o *Orchestrator) modulesForPhaseLocked(phase Phase) []string {
	var names []string

	for name, reg := range o.registrations {
		if reg.Phase == phase {
			names = append(names, name)
		}
	}

	return names
}
