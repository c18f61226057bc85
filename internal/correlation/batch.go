package correlation

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/poppopjmp/spiderfoot-sub002/internal/store"
)

// bucket is one aggregation group: every surviving record sharing a common
// aggregation key (or the single implicit bucket when a rule carries no
// aggregation clause).
type bucket struct {
	Key     string
	Records []*record
}

// defaultOutlierNoisyPercent is the fallback noisy_percent used by
// analysisOutlier when a rule's outlier step and the Collector both leave
// it unset, matching the original implementation's hardcoded default.
const defaultOutlierNoisyPercent = 10

// Collector runs batch rule-documents against an EventStore once a scan
// has finished producing events (§4.7.1).
type Collector struct {
	Store store.EventStore

	// DefaultOutlierNoisyPercent overrides defaultOutlierNoisyPercent for
	// every outlier analysis step that does not set its own noisy_percent.
	// Zero means "use the built-in default".
	DefaultOutlierNoisyPercent float64
}

// NewCollector returns a Collector backed by s.
func NewCollector(s store.EventStore) *Collector {
	return &Collector{Store: s}
}

// Run executes rule against scanID's stored events end to end: collection,
// aggregation, analysis, and title construction. Buckets that do not
// survive every analysis step are dropped; an empty return means the rule
// matched nothing worth reporting.
func (c *Collector) Run(ctx context.Context, scanID string, rule Rule) ([]store.CorrelationResult, error) {
	if !rule.Enabled {
		return nil, nil
	}

	merged, err := c.collect(ctx, scanID, rule)
	if err != nil {
		return nil, fmt.Errorf("correlation: collect %s: %w", rule.ID, err)
	}

	if len(merged) == 0 {
		return nil, nil
	}

	buckets, err := aggregate(ctx, c.Store, scanID, merged, rule.Aggregation)
	if err != nil {
		return nil, fmt.Errorf("correlation: aggregate %s: %w", rule.ID, err)
	}

	for _, step := range rule.Analysis {
		buckets = c.analyze(buckets, step)

		if len(buckets) == 0 {
			return nil, nil
		}
	}

	results := make([]store.CorrelationResult, 0, len(buckets))

	for _, b := range buckets {
		if len(b.Records) == 0 {
			continue
		}

		results = append(results, buildResult(scanID, rule, b))
	}

	return results, nil
}

// collect resolves every collection, merging the matching rows into one
// deduplicated set keyed by event hash. A row matched by more than one
// collection keeps the lowest (earliest-declared) collection index, per
// the original's "_collection" semantics.
func (c *Collector) collect(ctx context.Context, scanID string, rule Rule) ([]*record, error) {
	byHash := map[string]*record{}

	for idx, collection := range rule.Collections {
		rows, err := c.collectOne(ctx, scanID, collection)
		if err != nil {
			return nil, err
		}

		for _, row := range rows {
			if existing, ok := byHash[row.Hash]; ok {
				if idx < existing.Collection {
					existing.Collection = idx
				}

				continue
			}

			byHash[row.Hash] = &record{Row: row, Collection: idx}
		}
	}

	out := make([]*record, 0, len(byHash))
	for _, r := range byHash {
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Row.Hash < out[j].Row.Hash })

	return out, nil
}

// collectOne resolves one collection: the first match-rule narrows the
// store query, the rest refine the candidate set in memory.
func (c *Collector) collectOne(ctx context.Context, scanID string, collection Collection) ([]store.Row, error) {
	filter := buildResultFilter(collection.MatchRules[0])

	candidates, err := c.Store.ResultEvent(ctx, scanID, filter)
	if err != nil {
		return nil, err
	}

	matched := make([]store.Row, 0, len(candidates))

	for _, row := range candidates {
		ok, err := matchRow(ctx, c.Store, scanID, row, collection.MatchRules)
		if err != nil {
			return nil, err
		}

		if ok {
			matched = append(matched, row)
		}
	}

	return matched, nil
}

// aggregate buckets records by agg.Field, or places everything into one
// implicit bucket when agg is nil. A dotted field (child.*, source.*,
// entity.*) buckets once per matching sub-event rather than once per
// top-level record: a record with three matching children in three
// distinct buckets appears in all three, and a record with no related rows
// for the field is dropped from aggregation entirely, per §4.7.1.
func aggregate(ctx context.Context, s store.EventStore, scanID string, records []*record, agg *Aggregation) ([]bucket, error) {
	if agg == nil {
		return []bucket{{Key: "", Records: records}}, nil
	}

	byKey := map[string]*bucket{}
	order := make([]string, 0)

	addTo := func(key string, r *record) {
		b, ok := byKey[key]
		if !ok {
			b = &bucket{Key: key}
			byKey[key] = b
			order = append(order, key)
		}

		b.Records = append(b.Records, r)
	}

	dotted := containsDot(agg.Field)

	for _, r := range records {
		if !dotted {
			addTo(fieldValue(r.Row, agg.Field), r)
			continue
		}

		values, err := dottedFieldValues(ctx, s, scanID, r.Row, agg.Field)
		if err != nil {
			return nil, err
		}

		for _, v := range values {
			addTo(v, r)
		}
	}

	sort.Strings(order)

	out := make([]bucket, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}

	return out, nil
}

// analyze dispatches one analysis step across every bucket, per §4.7.1's
// ordered pipeline (threshold, outlier, first_collection_only,
// match_all_to_first_collection).
func (c *Collector) analyze(buckets []bucket, step AnalysisStep) []bucket {
	switch step.Method {
	case AnalysisThreshold:
		return analysisThreshold(buckets, step)
	case AnalysisOutlier:
		return analysisOutlier(buckets, step, c.DefaultOutlierNoisyPercent)
	case AnalysisFirstCollectionOnly:
		return analysisFirstCollectionOnly(buckets)
	case AnalysisMatchAllToFirstCollection:
		return analysisMatchAllToFirstCollection(buckets, step)
	default:
		return buckets
	}
}

func bucketCount(b bucket, uniqueOnly bool) int {
	if !uniqueOnly {
		return len(b.Records)
	}

	seen := map[string]bool{}
	for _, r := range b.Records {
		seen[r.Row.Data] = true
	}

	return len(seen)
}

// analysisThreshold keeps buckets whose (optionally unique-counted) size
// falls within [minimum, maximum]. A zero bound is treated as unset.
func analysisThreshold(buckets []bucket, step AnalysisStep) []bucket {
	out := make([]bucket, 0, len(buckets))

	for _, b := range buckets {
		count := bucketCount(b, step.CountUniqueOnly)

		if step.Minimum > 0 && count < step.Minimum {
			continue
		}

		if step.Maximum > 0 && count > step.Maximum {
			continue
		}

		out = append(out, b)
	}

	return out
}

// analysisOutlier drops buckets that dominate the result set, but only once
// the result set as a whole looks non-anomalous. avgpct is the average
// bucket's share of the total record count, assuming an even split across
// buckets; if that average share is below NoisyPercent (default 10) the
// whole set is considered too noisy to correlate and every bucket is
// discarded. Otherwise only the individual buckets whose own share exceeds
// MaximumPercent are deleted.
func analysisOutlier(buckets []bucket, step AnalysisStep, defaultNoisyPercent float64) []bucket {
	if len(buckets) == 0 {
		return nil
	}

	total := 0
	for _, b := range buckets {
		total += len(b.Records)
	}

	if total == 0 {
		return nil
	}

	noisy := step.NoisyPercent
	if noisy <= 0 {
		noisy = defaultNoisyPercent
	}

	if noisy <= 0 {
		noisy = defaultOutlierNoisyPercent
	}

	avg := float64(total) / float64(len(buckets))
	avgpct := avg / float64(total) * 100

	if avgpct < noisy {
		return nil
	}

	out := make([]bucket, 0, len(buckets))

	for _, b := range buckets {
		percent := float64(len(b.Records)) / float64(total) * 100
		if percent <= step.MaximumPercent {
			out = append(out, b)
		}
	}

	return out
}

// analysisFirstCollectionOnly drops every record whose Collection != 0
// (i.e. every record that did not match the rule's primary collection);
// a bucket with no primary records left is dropped entirely. Decided in
// DESIGN.md's Open Question resolution for this method.
func analysisFirstCollectionOnly(buckets []bucket) []bucket {
	out := make([]bucket, 0, len(buckets))

	for _, b := range buckets {
		kept := make([]*record, 0, len(b.Records))

		for _, r := range b.Records {
			if r.Collection == 0 {
				kept = append(kept, r)
			}
		}

		if len(kept) > 0 {
			out = append(out, bucket{Key: b.Key, Records: kept})
		}
	}

	return out
}

// analysisMatchAllToFirstCollection keeps a bucket iff at least one
// non-primary record's step.Field matches some primary record's Field in
// the same bucket, per DESIGN.md's Open Question resolution. Comparison
// method defaults to exact.
func analysisMatchAllToFirstCollection(buckets []bucket, step AnalysisStep) []bucket {
	out := make([]bucket, 0, len(buckets))

	for _, b := range buckets {
		var primaryValues []string

		for _, r := range b.Records {
			if r.Collection == 0 {
				primaryValues = append(primaryValues, fieldValue(r.Row, step.Field))
			}
		}

		if len(primaryValues) == 0 {
			continue
		}

		survives := false

		for _, r := range b.Records {
			if r.Collection == 0 {
				continue
			}

			val := fieldValue(r.Row, step.Field)
			for _, pv := range primaryValues {
				if fieldComparison(step.MatchMethod, val, pv) {
					survives = true

					break
				}
			}

			if survives {
				break
			}
		}

		if survives {
			out = append(out, b)
		}
	}

	return out
}

func fieldComparison(method, a, b string) bool {
	switch method {
	case MatchAllContains:
		return strings.Contains(a, b) || strings.Contains(b, a)
	case MatchAllSubnet:
		return subnetOverlap(a, b)
	default: // MatchAllExact
		return a == b
	}
}

// buildResult converts a surviving bucket into a persistable correlation
// result, substituting {field} placeholders in the rule's headline from
// the bucket's lowest-collection ("primary") record.
func buildResult(scanID string, rule Rule, b bucket) store.CorrelationResult {
	sort.Slice(b.Records, func(i, j int) bool {
		if b.Records[i].Collection != b.Records[j].Collection {
			return b.Records[i].Collection < b.Records[j].Collection
		}

		return b.Records[i].Row.Hash < b.Records[j].Row.Hash
	})

	primary := b.Records[0].Row

	hashes := make([]string, 0, len(b.Records))
	for _, r := range b.Records {
		hashes = append(hashes, r.Row.Hash)
	}

	return store.CorrelationResult{
		ScanID:      scanID,
		RuleID:      rule.ID,
		Name:        rule.Meta.Name,
		Description: rule.Meta.Description,
		Risk:        rule.Meta.Risk,
		RawYAML:     rule.RawYAML,
		Title:       buildTitle(rule.Headline, primary, len(b.Records)),
		EventHashes: hashes,
	}
}

func buildTitle(headline string, primary store.Row, count int) string {
	replacer := strings.NewReplacer(
		"{type}", primary.EventType,
		"{module}", primary.Module,
		"{data}", primary.Data,
		"{count}", strconv.Itoa(count),
	)

	return replacer.Replace(headline)
}
