package correlation

import (
	"context"
	"strings"

	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
	"github.com/poppopjmp/spiderfoot-sub002/internal/store"
)

// record is one event under consideration by the batch correlator, tagged
// with the index of the first collection that matched it (§4.7.1's
// "_collection" bookkeeping field).
type record struct {
	Row        store.Row
	Collection int
}

// fieldValue resolves a non-dotted field (type, module, data) directly off
// row. Dotted fields (child.*, source.*, entity.*) are resolved separately
// by matchDotted since they require a store walk.
func fieldValue(row store.Row, field string) string {
	switch field {
	case "type":
		return row.EventType
	case "module":
		return row.Module
	case "data":
		return row.Data
	default:
		return ""
	}
}

// matchValue reports whether value satisfies mr under its method.
func matchValue(mr MatchRule, value string) bool {
	switch mr.Method {
	case MethodRegex:
		if len(mr.Value) == 0 {
			return false
		}

		return regexMatch(mr.Value[0], value)
	default: // MethodExact
		for _, v := range mr.Value {
			if v == value {
				return true
			}
		}

		return false
	}
}

// splitDotted splits a child./source./entity. field into its scope and
// sub-field, reporting ok=false for a non-dotted field.
func splitDotted(field string) (scope, subField string, ok bool) {
	parts := strings.SplitN(field, ".", 2)
	if len(parts) != 2 {
		return "", "", false
	}

	return parts[0], parts[1], true
}

// resolveRelated fetches the rows scope (child/source/entity) names for
// row, per §4.7.1's enrichment triggers (enrich_event_children/
// enrich_event_sources/enrich_event_entities in the original
// implementation).
func resolveRelated(ctx context.Context, s store.EventStore, scanID string, row store.Row, scope string) ([]store.Row, error) {
	switch scope {
	case "child":
		return s.ChildrenDirect(ctx, scanID, []string{row.Hash})
	case "source":
		return s.SourcesDirect(ctx, scanID, []string{row.Hash})
	case "entity":
		return entityRows(ctx, s, scanID, row)
	default:
		return nil, nil
	}
}

// matchDotted resolves a child./source./entity. field against row.
func matchDotted(ctx context.Context, s store.EventStore, scanID string, row store.Row, mr MatchRule) (bool, error) {
	scope, subField, ok := splitDotted(mr.Field)
	if !ok {
		return false, nil
	}

	related, err := resolveRelated(ctx, s, scanID, row, scope)
	if err != nil {
		return false, err
	}

	for _, rel := range related {
		if matchValue(mr, fieldValue(rel, subField)) {
			return true, nil
		}
	}

	return false, nil
}

// dottedFieldValues resolves the sub-field value of each of row's related
// rows under scope (one value per related row; equal values are not
// merged), per §4.7.1's aggregation semantics: an event aggregated on a
// dotted field buckets once per matching sub-event, rather than once for
// the top-level event.
func dottedFieldValues(ctx context.Context, s store.EventStore, scanID string, row store.Row, field string) ([]string, error) {
	scope, subField, ok := splitDotted(field)
	if !ok {
		return nil, nil
	}

	related, err := resolveRelated(ctx, s, scanID, row, scope)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(related))
	for _, rel := range related {
		out = append(out, fieldValue(rel, subField))
	}

	return out, nil
}

// entityRows walks upward from row through its source chain until it
// reaches an event classified ENTITY or INTERNAL (per eventmodel's
// classification registry), recursing past every DATA/DESCRIPTOR/SUBENTITY
// ancestor in between, or ROOT if none is found. "entity" in the original
// data model names the nearest entity-typed ancestor, which is not
// necessarily row's immediate parent.
func entityRows(ctx context.Context, s store.EventStore, scanID string, row store.Row) ([]store.Row, error) {
	registry := eventmodel.NewRegistry()

	current := row

	for current.Hash != store.RootHashSentinel {
		parents, err := s.SourcesDirect(ctx, scanID, []string{current.Hash})
		if err != nil {
			return nil, err
		}

		if len(parents) == 0 {
			return nil, nil
		}

		parent := parents[0]

		if registry.IsEntity(parent.EventType) {
			return []store.Row{parent}, nil
		}

		current = parent
	}

	return nil, nil
}

// matchRow reports whether row satisfies every match-rule in a collection.
func matchRow(ctx context.Context, s store.EventStore, scanID string, row store.Row, rules []MatchRule) (bool, error) {
	for _, mr := range rules {
		if !containsDot(mr.Field) {
			if !matchValue(mr, fieldValue(row, mr.Field)) {
				return false, nil
			}

			continue
		}

		ok, err := matchDotted(ctx, s, scanID, row, mr)
		if err != nil {
			return false, err
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// buildResultFilter narrows the primary store query using the collection's
// first (always non-dotted) match-rule, per §4.7.1's requirement that the
// first match-rule resolve against the store directly rather than being
// applied purely in memory.
func buildResultFilter(mr MatchRule) store.ResultFilter {
	filter := store.ResultFilter{}

	switch mr.Field {
	case "type":
		filter.EventTypes = mr.Value
	case "module":
		filter.Modules = mr.Value
	case "data":
		if mr.Method == MethodExact && len(mr.Value) > 0 {
			filter.Data = mr.Value[0]
		}
	}

	return filter
}
