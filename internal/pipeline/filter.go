package pipeline

import (
	"regexp"

	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
)

// FilterVerdict is one filter's verdict on an event.
type FilterVerdict int

const (
	// Pass means the filter actively endorses the event.
	Pass FilterVerdict = iota

	// Block means the filter rejects the event outright.
	Block

	// Skip means the filter has no opinion (counts as pass in all_pass
	// mode; does not satisfy any_pass mode on its own).
	Skip
)

// Filter is one gate in the filter chain (§4.4).
type Filter interface {
	Name() string
	Enabled() bool
	Evaluate(event *eventmodel.Event) FilterVerdict
}

// PatternMode selects whether PatternFilter allows or denies on match.
type PatternMode int

const (
	// Allow passes the event only when the pattern matches.
	Allow PatternMode = iota
	// Deny blocks the event when the pattern matches.
	Deny
)

// TypeFilter passes events whose type is in the allow set.
type TypeFilter struct {
	FilterName string
	IsEnabled  bool
	Types      map[string]bool
}

// NewTypeFilter builds an enabled TypeFilter over types.
func NewTypeFilter(name string, types []string) *TypeFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}

	return &TypeFilter{FilterName: name, IsEnabled: true, Types: set}
}

// Name returns the filter's name.
func (f *TypeFilter) Name() string { return f.FilterName }

// Enabled reports whether the filter is active.
func (f *TypeFilter) Enabled() bool { return f.IsEnabled }

// Evaluate returns Pass when the event's type is allowed, Block otherwise.
func (f *TypeFilter) Evaluate(event *eventmodel.Event) FilterVerdict {
	if f.Types[event.EventType] {
		return Pass
	}

	return Block
}

// PatternFilter matches a regex against event data, allowing or denying on
// match per Mode.
type PatternFilter struct {
	FilterName string
	IsEnabled  bool
	Regex      *regexp.Regexp
	Mode       PatternMode
}

// NewPatternFilter compiles pattern and builds an enabled PatternFilter.
func NewPatternFilter(name, pattern string, mode PatternMode) (*PatternFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	return &PatternFilter{FilterName: name, IsEnabled: true, Regex: re, Mode: mode}, nil
}

// Name returns the filter's name.
func (f *PatternFilter) Name() string { return f.FilterName }

// Enabled reports whether the filter is active.
func (f *PatternFilter) Enabled() bool { return f.IsEnabled }

// Evaluate applies the regex to event.Data per the filter's Allow/Deny mode.
func (f *PatternFilter) Evaluate(event *eventmodel.Event) FilterVerdict {
	matched := f.Regex.MatchString(event.Data)

	switch f.Mode {
	case Allow:
		if matched {
			return Pass
		}

		return Block
	case Deny:
		if matched {
			return Block
		}

		return Pass
	default:
		return Skip
	}
}

// RiskFilter passes events whose risk falls within [Min, Max].
type RiskFilter struct {
	FilterName string
	IsEnabled  bool
	Min, Max   int
}

// NewRiskFilter builds an enabled RiskFilter over [minRisk, maxRisk].
func NewRiskFilter(name string, minRisk, maxRisk int) *RiskFilter {
	return &RiskFilter{FilterName: name, IsEnabled: true, Min: minRisk, Max: maxRisk}
}

// Name returns the filter's name.
func (f *RiskFilter) Name() string { return f.FilterName }

// Enabled reports whether the filter is active.
func (f *RiskFilter) Enabled() bool { return f.IsEnabled }

// Evaluate passes events within the configured risk band.
func (f *RiskFilter) Evaluate(event *eventmodel.Event) FilterVerdict {
	if event.Risk >= f.Min && event.Risk <= f.Max {
		return Pass
	}

	return Block
}

// ModuleFilter passes events produced by an allowed module.
type ModuleFilter struct {
	FilterName string
	IsEnabled  bool
	Modules    map[string]bool
}

// NewModuleFilter builds an enabled ModuleFilter over modules.
func NewModuleFilter(name string, modules []string) *ModuleFilter {
	set := make(map[string]bool, len(modules))
	for _, m := range modules {
		set[m] = true
	}

	return &ModuleFilter{FilterName: name, IsEnabled: true, Modules: set}
}

// Name returns the filter's name.
func (f *ModuleFilter) Name() string { return f.FilterName }

// Enabled reports whether the filter is active.
func (f *ModuleFilter) Enabled() bool { return f.IsEnabled }

// Evaluate passes events whose Module is in the allow set.
func (f *ModuleFilter) Evaluate(event *eventmodel.Event) FilterVerdict {
	if f.Modules[event.Module] {
		return Pass
	}

	return Block
}

// PredicateFilter wraps an arbitrary user-supplied predicate.
type PredicateFilter struct {
	FilterName string
	IsEnabled  bool
	Predicate  func(*eventmodel.Event) bool
}

// NewPredicateFilter builds an enabled PredicateFilter.
func NewPredicateFilter(name string, predicate func(*eventmodel.Event) bool) *PredicateFilter {
	return &PredicateFilter{FilterName: name, IsEnabled: true, Predicate: predicate}
}

// Name returns the filter's name.
func (f *PredicateFilter) Name() string { return f.FilterName }

// Enabled reports whether the filter is active.
func (f *PredicateFilter) Enabled() bool { return f.IsEnabled }

// Evaluate passes the event iff the predicate returns true.
func (f *PredicateFilter) Evaluate(event *eventmodel.Event) FilterVerdict {
	if f.Predicate(event) {
		return Pass
	}

	return Block
}
