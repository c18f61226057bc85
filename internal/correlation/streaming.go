package correlation

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
)

// Op is one condition comparison operator (§4.7.2).
type Op string

// Supported condition operators.
const (
	OpEqual    Op = "eq"
	OpNotEqual Op = "ne"
	OpContains Op = "contains"
	OpMatches  Op = "matches"
	OpGreater  Op = "gt"
	OpLess     Op = "lt"
	OpIn       Op = "in"
	OpNotIn    Op = "not_in"
	OpExists   Op = "exists"
)

// Condition is one field/operator/value clause evaluated against a live
// event (§4.7.2).
type Condition struct {
	Field string
	Op    Op
	Value string
	Set   []string
}

// Mode combines a rule's conditions: ALL requires every condition to pass
// on the same event, ANY requires at least one.
type Mode string

// Combination modes.
const (
	ModeAll Mode = "ALL"
	ModeAny Mode = "ANY"
)

// Match is what a StreamingCorrelator hands to a callback once a rule's
// threshold fires.
type Match struct {
	RuleName string
	Events   []*eventmodel.Event
	Count    int
	GroupKey string
}

// StreamingRule evaluates Conditions against every observed event and
// fires once ThresholdCount events (within WindowSeconds, if set, and
// sharing a GroupBy field value if set) have matched. Every incoming event
// is tested against enabled rules in descending Priority order, ties
// broken by registration order (§4.7.2).
type StreamingRule struct {
	Name           string
	Enabled        bool
	Priority       int
	Conditions     []Condition
	Mode           Mode
	ThresholdCount int
	WindowSeconds  int
	GroupBy        string
}

func (r StreamingRule) evaluate(event *eventmodel.Event) bool {
	if len(r.Conditions) == 0 {
		return false
	}

	if r.Mode == ModeAny {
		for _, c := range r.Conditions {
			if evaluateCondition(c, event) {
				return true
			}
		}

		return false
	}

	for _, c := range r.Conditions {
		if !evaluateCondition(c, event) {
			return false
		}
	}

	return true
}

func evaluateCondition(c Condition, event *eventmodel.Event) bool {
	value := streamingField(event, c.Field)

	switch c.Op {
	case OpEqual:
		return value == c.Value
	case OpNotEqual:
		return value != c.Value
	case OpContains:
		return containsSubstring(value, c.Value)
	case OpMatches:
		return regexMatch(c.Value, value)
	case OpGreater:
		return compareNumeric(value, c.Value) > 0
	case OpLess:
		return compareNumeric(value, c.Value) < 0
	case OpIn:
		return stringInSet(value, c.Set)
	case OpNotIn:
		return !stringInSet(value, c.Set)
	case OpExists:
		return value != ""
	default:
		return false
	}
}

func streamingField(event *eventmodel.Event, field string) string {
	switch field {
	case "type":
		return event.EventType
	case "module":
		return event.Module
	case "data":
		return event.Data
	case "source":
		return event.ActualSource
	default:
		return ""
	}
}

func containsSubstring(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}

func stringInSet(value string, set []string) bool {
	for _, v := range set {
		if v == value {
			return true
		}
	}

	return false
}

func compareNumeric(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)

	if errA != nil || errB != nil {
		if a < b {
			return -1
		}

		if a > b {
			return 1
		}

		return 0
	}

	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	default:
		return 0
	}
}

// accumulator tracks the events observed so far for one (rule, group key)
// pair, pruning anything outside the rule's window on every observation.
type accumulator struct {
	events []timedEvent
}

type timedEvent struct {
	event *eventmodel.Event
	at    time.Time
}

// StreamingCorrelator evaluates StreamingRules against events published on
// the bus, firing registered callbacks once a rule's threshold is reached
// and resetting that rule's accumulator for the fired group key afterward
// (§4.7.2).
type StreamingCorrelator struct {
	mu           sync.Mutex
	rules        []StreamingRule
	accumulators map[string]map[string]*accumulator // rule name -> group key -> accumulator
	callbacks    []func(Match)
	logger       *slog.Logger
	now          func() time.Time
}

// NewStreamingCorrelator returns a correlator with no rules registered,
// reading the clock for window pruning from time.Now.
func NewStreamingCorrelator(logger *slog.Logger) *StreamingCorrelator {
	if logger == nil {
		logger = slog.Default()
	}

	return &StreamingCorrelator{
		accumulators: map[string]map[string]*accumulator{},
		logger:       logger,
		now:          time.Now,
	}
}

// AddRule registers rule for evaluation against every future Observe call,
// keeping s.rules sorted by descending Priority (stable, so rules of equal
// priority retain registration order).
func (s *StreamingCorrelator) AddRule(rule StreamingRule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = append(s.rules, rule)
	sort.SliceStable(s.rules, func(i, j int) bool {
		return s.rules[i].Priority > s.rules[j].Priority
	})
	s.accumulators[rule.Name] = map[string]*accumulator{}
}

// OnMatch registers a callback invoked synchronously when a rule fires.
// Callback panics and errors are isolated: they are logged, never
// propagated, and never prevent other callbacks from running.
func (s *StreamingCorrelator) OnMatch(cb func(Match)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callbacks = append(s.callbacks, cb)
}

// Observe feeds one event through every enabled registered rule, in
// descending priority order (§4.7.2).
func (s *StreamingCorrelator) Observe(event *eventmodel.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	for _, rule := range s.rules {
		if !rule.Enabled {
			continue
		}

		if !rule.evaluate(event) {
			continue
		}

		groupKey := ""
		if rule.GroupBy != "" {
			groupKey = streamingField(event, rule.GroupBy)
		}

		byGroup := s.accumulators[rule.Name]

		acc, ok := byGroup[groupKey]
		if !ok {
			acc = &accumulator{}
			byGroup[groupKey] = acc
		}

		acc.events = append(acc.events, timedEvent{event: event, at: now})

		if rule.WindowSeconds > 0 {
			acc.events = pruneWindow(acc.events, now, rule.WindowSeconds)
		}

		if len(acc.events) >= rule.ThresholdCount && rule.ThresholdCount > 0 {
			s.fire(rule, groupKey, acc)
			delete(byGroup, groupKey)
		}
	}
}

func pruneWindow(events []timedEvent, now time.Time, windowSeconds int) []timedEvent {
	cutoff := now.Add(-time.Duration(windowSeconds) * time.Second)

	out := events[:0]

	for _, e := range events {
		if e.at.After(cutoff) {
			out = append(out, e)
		}
	}

	return out
}

func (s *StreamingCorrelator) fire(rule StreamingRule, groupKey string, acc *accumulator) {
	events := make([]*eventmodel.Event, 0, len(acc.events))
	for _, e := range acc.events {
		events = append(events, e.event)
	}

	match := Match{
		RuleName: rule.Name,
		Events:   events,
		Count:    len(events),
		GroupKey: groupKey,
	}

	for _, cb := range s.callbacks {
		s.invoke(cb, match)
	}
}

func (s *StreamingCorrelator) invoke(cb func(Match), match Match) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("correlation: callback panicked", "rule", match.RuleName, "panic", r)
		}
	}()

	cb(match)
}
