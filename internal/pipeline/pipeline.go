package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
)

// ErrorHandler is notified of every stage error (including recovered
// panics), in addition to the Error outcome returned from Execute.
type ErrorHandler func(stage string, event *eventmodel.Event, err error)

// Pipeline is a linear, ordered list of stages (§4.4). Stage
// add/remove/read mutations are serialized by a lock; execution copies the
// stage list under the lock, then runs unlocked (§5 shared-resource
// discipline).
type Pipeline struct {
	mu            sync.RWMutex
	stages        []Stage
	stats         map[string]*StageStats
	errorHandlers []ErrorHandler
	haltOnError   bool
}

// New builds an empty Pipeline. haltOnError controls whether a stage-level
// Error outcome stops the remaining stages (false by default per §4.4:
// "event continues unless a stage-level policy says otherwise").
func New(haltOnError bool) *Pipeline {
	return &Pipeline{
		stages:      nil,
		stats:       map[string]*StageStats{},
		haltOnError: haltOnError,
	}
}

// AddStage appends a stage to the end of the chain.
func (p *Pipeline) AddStage(stage Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stages = append(p.stages, stage)

	if _, ok := p.stats[stage.Name()]; !ok {
		p.stats[stage.Name()] = &StageStats{}
	}
}

// RemoveStage removes the first stage with the given name, reporting
// whether one was found.
func (p *Pipeline) RemoveStage(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, s := range p.stages {
		if s.Name() == name {
			p.stages = append(p.stages[:i], p.stages[i+1:]...)

			return true
		}
	}

	return false
}

// OnError registers a callback invoked whenever a stage yields Error.
func (p *Pipeline) OnError(h ErrorHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.errorHandlers = append(p.errorHandlers, h)
}

// Stats returns a snapshot of per-stage counters.
func (p *Pipeline) Stats() map[string]StageStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]StageStats, len(p.stats))
	for name, s := range p.stats {
		out[name] = *s
	}

	return out
}

// Execute runs event through every stage in order, stopping on Drop (and on
// Error when haltOnError is set). It returns the final outcome and, for
// Drop, the reason string from the dropping stage.
func (p *Pipeline) Execute(event *eventmodel.Event) (Outcome, string) {
	p.mu.RLock()
	stages := append([]Stage(nil), p.stages...)
	handlers := append([]ErrorHandler(nil), p.errorHandlers...)
	haltOnError := p.haltOnError
	p.mu.RUnlock()

	finalOutcome := Continue
	reason := ""

	for _, stage := range stages {
		outcome, stageReason, err := p.runStage(stage, event)

		p.recordStat(stage.Name(), outcome)

		if err != nil {
			for _, h := range handlers {
				h(stage.Name(), event, err)
			}

			finalOutcome = Error

			if haltOnError {
				return Error, stageReason
			}

			continue
		}

		if outcome == Drop {
			return Drop, stageReason
		}
	}

	return finalOutcome, reason
}

// runStage executes one stage, recovering panics into an Error outcome.
func (p *Pipeline) runStage(stage Stage, event *eventmodel.Event) (outcome Outcome, reason string, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			outcome = Error
			err = fmt.Errorf("stage %q panicked: %v", stage.Name(), r)
		}

		p.recordElapsed(stage.Name(), time.Since(start))
	}()

	outcome, reason, err = stage.Process(event)

	return outcome, reason, err
}

func (p *Pipeline) recordStat(name string, outcome Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.stats[name]
	if !ok {
		s = &StageStats{}
		p.stats[name] = s
	}

	s.Processed++

	switch outcome {
	case Continue:
		s.Passed++
	case Drop:
		s.Dropped++
	case Error:
		s.Errors++
	}
}

func (p *Pipeline) recordElapsed(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.stats[name]; ok {
		s.Elapsed += d
	}
}
