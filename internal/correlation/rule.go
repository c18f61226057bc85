// Package correlation implements the two correlation subsystems described
// in §4.7: a batch rule-document correlator that runs over the event store
// once a scan leaves the running state, and a streaming correlator that
// evaluates simple conditions over the live event flow.
package correlation

import (
	"errors"
	"fmt"
)

// Field method used to compare a match-rule/condition's value against an
// event field (§4.7.1).
type Method string

// Match methods.
const (
	MethodExact Method = "exact"
	MethodRegex Method = "regex"
)

// Validation errors for rule documents (§4.7.1, §6).
var (
	ErrMissingID          = errors.New("correlation: rule missing id")
	ErrMissingMeta        = errors.New("correlation: rule missing meta")
	ErrMissingCollections = errors.New("correlation: rule missing collections")
	ErrMissingHeadline    = errors.New("correlation: rule missing headline")
	ErrUnknownTopLevelKey = errors.New("correlation: unknown top-level key")
	ErrDottedFirstField   = errors.New("correlation: first match-rule field must not be dotted")
	ErrDataRegexFirst     = errors.New("correlation: data with regex is forbidden as the first match-rule")
	ErrModuleRegex        = errors.New("correlation: module with regex is forbidden")
	ErrUnknownAnalysis    = errors.New("correlation: unknown analysis method")
	ErrEmptyCollection    = errors.New("correlation: collection has no match-rules")
)

// Known analysis method names (§4.7.1).
const (
	AnalysisThreshold                = "threshold"
	AnalysisOutlier                  = "outlier"
	AnalysisFirstCollectionOnly      = "first_collection_only"
	AnalysisMatchAllToFirstCollection = "match_all_to_first_collection"
)

// Meta is the rule's descriptive header (§3, §6).
type Meta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Risk        string `yaml:"risk"`
	Author      string `yaml:"author,omitempty"`
	URL         string `yaml:"url,omitempty"`
}

// MatchRule is one (field, method, value) clause within a collection
// (§4.7.1). Value may carry one or more alternatives; MethodExact matches
// any of them, MethodRegex compiles Value[0] as the pattern.
type MatchRule struct {
	Field  string   `yaml:"field"`
	Method Method   `yaml:"method"`
	Value  []string `yaml:"value"`
}

// Collection is one ordered list of match-rules (GLOSSARY "Collection").
// The first entry is resolved as the primary store query; the rest narrow
// the result set in memory.
type Collection struct {
	MatchRules []MatchRule `yaml:"match"`
}

// Aggregation buckets surviving events by one event field (§3).
type Aggregation struct {
	Field string `yaml:"field"`
}

// AnalysisStep is one entry in the rule's ordered analysis pipeline
// (§4.7.1). Only the fields relevant to Method are populated.
type AnalysisStep struct {
	Method            string  `yaml:"method"`
	Minimum           int     `yaml:"minimum,omitempty"`
	Maximum           int     `yaml:"maximum,omitempty"`
	CountUniqueOnly   bool    `yaml:"count_unique_only,omitempty"`
	MaximumPercent    float64 `yaml:"maximum_percent,omitempty"`
	NoisyPercent      float64 `yaml:"noisy_percent,omitempty"`
	Field             string  `yaml:"field,omitempty"`
	MatchMethod       string  `yaml:"match_method,omitempty"`
}

// Match methods used by match_all_to_first_collection (§4.7.1).
const (
	MatchAllExact    = "exact"
	MatchAllSubnet   = "subnet"
	MatchAllContains = "contains"
)

// Rule is a fully validated, typed correlation rule document (§3, §6). The
// loader never returns a Rule with an obligatory key (id, meta, collections,
// headline) missing — it returns an error instead (§9 Design Notes).
type Rule struct {
	ID          string
	Version     string
	Enabled     bool
	Meta        Meta
	Collections []Collection
	Headline    string
	Aggregation *Aggregation
	Analysis    []AnalysisStep
	RawYAML     string
}

// document is the wire shape a rule is unmarshaled into before validation.
type document struct {
	ID          string        `yaml:"id"`
	Version     string        `yaml:"version"`
	Enabled     *bool         `yaml:"enabled"`
	Meta        *Meta         `yaml:"meta"`
	Collections []Collection  `yaml:"collections"`
	Headline    string        `yaml:"headline"`
	Aggregation *Aggregation  `yaml:"aggregation,omitempty"`
	Analysis    []AnalysisStep `yaml:"analysis,omitempty"`
}

var allowedFieldPrefixes = []string{"type", "module", "data", "child.", "source.", "entity."}

func isAllowedField(field string) bool {
	for _, prefix := range allowedFieldPrefixes {
		if field == prefix || (len(prefix) > 0 && prefix[len(prefix)-1] == '.' && len(field) > len(prefix) && field[:len(prefix)] == prefix) {
			return true
		}
	}

	return false
}

// validate checks the obligatory top-level keys and field vocabulary
// constraints (§4.7.1, §6). A rule failing validation is rejected at load,
// never silently repaired.
func (d *document) validate() (Rule, error) {
	if d.ID == "" {
		return Rule{}, ErrMissingID
	}

	if d.Meta == nil {
		return Rule{}, ErrMissingMeta
	}

	if len(d.Collections) == 0 {
		return Rule{}, ErrMissingCollections
	}

	if d.Headline == "" {
		return Rule{}, ErrMissingHeadline
	}

	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}

	for ci, collection := range d.Collections {
		if len(collection.MatchRules) == 0 {
			return Rule{}, fmt.Errorf("%w: collection %d", ErrEmptyCollection, ci)
		}

		first := collection.MatchRules[0]

		for _, mr := range collection.MatchRules {
			if !isAllowedField(mr.Field) {
				return Rule{}, fmt.Errorf("correlation: field %q not in vocabulary", mr.Field)
			}

			if mr.Field == "module" && mr.Method == MethodRegex {
				return Rule{}, ErrModuleRegex
			}
		}

		if containsDot(first.Field) {
			return Rule{}, ErrDottedFirstField
		}

		if first.Field == "data" && first.Method == MethodRegex {
			return Rule{}, ErrDataRegexFirst
		}
	}

	for _, step := range d.Analysis {
		switch step.Method {
		case AnalysisThreshold, AnalysisOutlier, AnalysisFirstCollectionOnly, AnalysisMatchAllToFirstCollection:
		default:
			return Rule{}, fmt.Errorf("%w: %q", ErrUnknownAnalysis, step.Method)
		}
	}

	return Rule{
		ID:          d.ID,
		Version:     d.Version,
		Enabled:     enabled,
		Meta:        *d.Meta,
		Collections: d.Collections,
		Headline:    d.Headline,
		Aggregation: d.Aggregation,
		Analysis:    d.Analysis,
	}, nil
}

func containsDot(s string) bool {
	for _, r := range s {
		if r == '.' {
			return true
		}
	}

	return false
}
