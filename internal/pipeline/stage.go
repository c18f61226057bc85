// Package pipeline implements the event pipeline's composable stage chain
// and the pre-pipeline filter chain (§4.4).
package pipeline

import (
	"strings"
	"sync"
	"time"

	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
)

// Outcome is a stage's verdict on one event.
type Outcome int

const (
	// Continue lets the event proceed to the next stage.
	Continue Outcome = iota

	// Drop discards the event; no further stages run.
	Drop

	// Error records a stage failure; the event continues unless the
	// pipeline is configured to halt on error.
	Error
)

// Stage is one step of the pipeline. A panic inside Process does not cross
// the boundary the Pipeline establishes: the Pipeline recovers it and
// converts it into an Error outcome.
type Stage interface {
	Name() string
	Process(event *eventmodel.Event) (Outcome, string, error)
}

// StageFunc adapts a plain function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(*eventmodel.Event) (Outcome, string, error)
}

// Name returns the stage's name.
func (f StageFunc) Name() string { return f.StageName }

// Process runs the wrapped function.
func (f StageFunc) Process(event *eventmodel.Event) (Outcome, string, error) {
	return f.Fn(event)
}

// Validator drops events whose type is not in AllowedTypes (when non-empty)
// or whose data exceeds MaxDataBytes (when positive).
type Validator struct {
	StageNameValue string
	AllowedTypes   map[string]bool
	MaxDataBytes   int
}

// NewValidator builds a Validator stage named "validator" restricting event
// types to allowedTypes (empty means any type is allowed).
func NewValidator(allowedTypes []string, maxDataBytes int) *Validator {
	allowed := make(map[string]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = true
	}

	return &Validator{StageNameValue: "validator", AllowedTypes: allowed, MaxDataBytes: maxDataBytes}
}

// Name returns "validator".
func (v *Validator) Name() string { return v.StageNameValue }

// Process drops out-of-vocabulary or oversized events.
func (v *Validator) Process(event *eventmodel.Event) (Outcome, string, error) {
	if len(v.AllowedTypes) > 0 && !v.AllowedTypes[event.EventType] {
		return Drop, "Type '" + event.EventType + "' not allowed", nil
	}

	if v.MaxDataBytes > 0 && len(event.Data) > v.MaxDataBytes {
		return Drop, "data exceeds max size", nil
	}

	return Continue, "", nil
}

// Transform replaces an event's Data with the output of a pure function.
type Transform struct {
	StageNameValue string
	Fn             func(string) string
}

// NewTransform builds a Transform stage named "transform".
func NewTransform(fn func(string) string) *Transform {
	return &Transform{StageNameValue: "transform", Fn: fn}
}

// Name returns "transform".
func (tr *Transform) Name() string { return tr.StageNameValue }

// Process rewrites the event's data in place.
func (tr *Transform) Process(event *eventmodel.Event) (Outcome, string, error) {
	event.Data = tr.Fn(event.Data)

	return Continue, "", nil
}

// Tagger adds tags when a pattern is a substring of the event's type or
// data. Tags accumulate in the event's metadata-like side table, which the
// pipeline threads separately from the immutable Event (see Metadata).
type Tagger struct {
	StageNameValue string
	Rules          map[string]string // pattern -> tag
	Metadata       *Metadata
}

// NewTagger builds a Tagger stage named "tagger" writing into md.
func NewTagger(rules map[string]string, md *Metadata) *Tagger {
	return &Tagger{StageNameValue: "tagger", Rules: rules, Metadata: md}
}

// Name returns "tagger".
func (tg *Tagger) Name() string { return tg.StageNameValue }

// Process appends matching tags for the event's hash.
func (tg *Tagger) Process(event *eventmodel.Event) (Outcome, string, error) {
	for pattern, tag := range tg.Rules {
		if strings.Contains(event.EventType, pattern) || strings.Contains(event.Data, pattern) {
			tg.Metadata.AddTag(event.Hash, tag)
		}
	}

	return Continue, "", nil
}

// RoutePredicate decides whether an event should be routed to destination.
type RoutePredicate struct {
	Destination string
	Match       func(*eventmodel.Event) bool
}

// Router appends each matching destination label into the event's
// "_routes" metadata entry.
type Router struct {
	StageNameValue string
	Predicates     []RoutePredicate
	Metadata       *Metadata
}

// NewRouter builds a Router stage named "router" writing into md.
func NewRouter(predicates []RoutePredicate, md *Metadata) *Router {
	return &Router{StageNameValue: "router", Predicates: predicates, Metadata: md}
}

// Name returns "router".
func (rt *Router) Name() string { return rt.StageNameValue }

// Process appends every matching destination for the event.
func (rt *Router) Process(event *eventmodel.Event) (Outcome, string, error) {
	for _, p := range rt.Predicates {
		if p.Match(event) {
			rt.Metadata.AddRoute(event.Hash, p.Destination)
		}
	}

	return Continue, "", nil
}

// Metadata is the pipeline-scoped side table for per-event tags and routes,
// keyed by event hash, since Event itself is immutable once constructed.
type Metadata struct {
	mu     sync.Mutex
	tags   map[string][]string
	routes map[string][]string
}

// NewMetadata returns an empty Metadata table.
func NewMetadata() *Metadata {
	return &Metadata{tags: map[string][]string{}, routes: map[string][]string{}}
}

// AddTag records tag for hash.
func (m *Metadata) AddTag(hash, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tags[hash] = append(m.tags[hash], tag)
}

// AddRoute records a "_routes" destination for hash.
func (m *Metadata) AddRoute(hash, destination string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.routes[hash] = append(m.routes[hash], destination)
}

// Tags returns the tags recorded for hash.
func (m *Metadata) Tags(hash string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.tags[hash]...)
}

// Routes returns the "_routes" destinations recorded for hash.
func (m *Metadata) Routes(hash string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.routes[hash]...)
}

// StageStats holds per-stage cumulative counters (§4.4).
type StageStats struct {
	Processed int64
	Passed    int64
	Dropped   int64
	Errors    int64
	Elapsed   time.Duration
}

// MeanLatency returns the cumulative elapsed time divided by processed
// count, or zero if nothing has been processed yet.
func (s StageStats) MeanLatency() time.Duration {
	if s.Processed == 0 {
		return 0
	}

	return s.Elapsed / time.Duration(s.Processed)
}
