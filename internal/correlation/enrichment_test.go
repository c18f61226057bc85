package correlation_test

import (
	"context"
	"testing"

	"github.com/poppopjmp/spiderfoot-sub002/internal/correlation"
	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEntityScopeWalksPastNonEntityAncestors exercises the "entity." dotted
// field via a collection/match clause: ip sits three hops below the nearest
// entity-classified ancestor (root itself, since ROOT is classified
// INTERNAL), with two DATA-classified rows in between. Matching on
// "entity.type = ROOT" should still find it.
func TestEntityScopeWalksPastNonEntityAncestors(t *testing.T) {
	s, scanID, root := seedScan(t)
	ctx := context.Background()

	raw1, err := eventmodel.New(root, "RAW_DATA", "blob1", "mod")
	require.NoError(t, err)
	require.NoError(t, s.StoreEvent(ctx, scanID, raw1, 0))

	raw2, err := eventmodel.New(raw1, "RAW_DATA", "blob2", "mod")
	require.NoError(t, err)
	require.NoError(t, s.StoreEvent(ctx, scanID, raw2, 0))

	ip, err := eventmodel.New(raw2, "IP_ADDRESS", "203.0.113.5", "mod")
	require.NoError(t, err)
	require.NoError(t, s.StoreEvent(ctx, scanID, ip, 0))

	rule, err := correlation.ParseRule([]byte(`
id: entity-walk
meta:
  name: entity walk
  description: desc
  risk: LOW
collections:
  - match:
      - field: type
        method: exact
        value: ["IP_ADDRESS"]
      - field: entity.type
        method: exact
        value: ["ROOT"]
headline: "{count} addresses"
`))
	require.NoError(t, err)

	collector := correlation.NewCollector(s)
	results, err := collector.Run(ctx, scanID, rule)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{ip.Hash}, results[0].EventHashes)
}

// TestEntityScopeStopsAtNearestEntity ensures the walk returns the nearest
// entity ancestor rather than continuing past it: here ip's immediate
// parent is itself an entity-classified event (INTERNET_NAME), so
// "entity.data" must resolve to the domain's data, not the root's.
func TestEntityScopeStopsAtNearestEntity(t *testing.T) {
	s, scanID, root := seedScan(t)
	ctx := context.Background()

	domain, err := eventmodel.New(root, "INTERNET_NAME", "example.com", "mod")
	require.NoError(t, err)
	require.NoError(t, s.StoreEvent(ctx, scanID, domain, 0))

	ip, err := eventmodel.New(domain, "IP_ADDRESS", "203.0.113.6", "mod")
	require.NoError(t, err)
	require.NoError(t, s.StoreEvent(ctx, scanID, ip, 0))

	rule, err := correlation.ParseRule([]byte(`
id: entity-nearest
meta:
  name: entity nearest
  description: desc
  risk: LOW
collections:
  - match:
      - field: type
        method: exact
        value: ["IP_ADDRESS"]
      - field: entity.data
        method: exact
        value: ["example.com"]
headline: "{count} addresses"
`))
	require.NoError(t, err)

	collector := correlation.NewCollector(s)
	results, err := collector.Run(ctx, scanID, rule)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

// TestAggregateDottedFieldBucketsPerSubEvent exercises aggregation on a
// "child." field: a record with matching children in two distinct groups
// appears in both resulting buckets, and a record with no children at all
// is dropped from aggregation entirely.
func TestAggregateDottedFieldBucketsPerSubEvent(t *testing.T) {
	s, scanID, root := seedScan(t)
	ctx := context.Background()

	withChildren, err := eventmodel.New(root, "IP_ADDRESS", "203.0.113.10", "dns")
	require.NoError(t, err)
	require.NoError(t, s.StoreEvent(ctx, scanID, withChildren, 0))

	childA, err := eventmodel.New(withChildren, "RAW_DATA", "a", "modA")
	require.NoError(t, err)
	require.NoError(t, s.StoreEvent(ctx, scanID, childA, 0))

	childB, err := eventmodel.New(withChildren, "RAW_DATA", "b", "modB")
	require.NoError(t, err)
	require.NoError(t, s.StoreEvent(ctx, scanID, childB, 0))

	noChildren, err := eventmodel.New(root, "IP_ADDRESS", "203.0.113.11", "dns")
	require.NoError(t, err)
	require.NoError(t, s.StoreEvent(ctx, scanID, noChildren, 0))

	rule, err := correlation.ParseRule([]byte(`
id: dotted-aggregation
meta:
  name: dotted aggregation
  description: desc
  risk: LOW
collections:
  - match:
      - field: type
        method: exact
        value: ["IP_ADDRESS"]
headline: "{count} addresses"
aggregation:
  field: child.module
`))
	require.NoError(t, err)

	collector := correlation.NewCollector(s)
	results, err := collector.Run(ctx, scanID, rule)
	require.NoError(t, err)
	require.Len(t, results, 2, "one bucket per distinct child module, noChildren excluded entirely")

	var hashes [][]string
	for _, r := range results {
		hashes = append(hashes, r.EventHashes)
	}

	assert.Contains(t, hashes, []string{withChildren.Hash})

	for _, h := range hashes {
		assert.NotContains(t, h, noChildren.Hash)
	}
}

// TestEntityScopeFindsRootWhenNoOtherEntityExists exercises the walk's
// terminal case directly: ip's only ancestor is the root event itself,
// which eventmodel classifies INTERNAL and therefore counts as an entity
// boundary per entityRows.
func TestEntityScopeFindsRootWhenNoOtherEntityExists(t *testing.T) {
	s, scanID, root := seedScan(t)
	ctx := context.Background()

	ip, err := eventmodel.New(root, "IP_ADDRESS", "203.0.113.7", "mod")
	require.NoError(t, err)
	require.NoError(t, s.StoreEvent(ctx, scanID, ip, 0))

	rule, err := correlation.ParseRule([]byte(`
id: entity-root
meta:
  name: entity root
  description: desc
  risk: LOW
collections:
  - match:
      - field: type
        method: exact
        value: ["IP_ADDRESS"]
      - field: entity.type
        method: exact
        value: ["ROOT"]
headline: "{count} addresses"
`))
	require.NoError(t, err)

	collector := correlation.NewCollector(s)
	results, err := collector.Run(ctx, scanID, rule)
	require.NoError(t, err)
	require.Len(t, results, 1)
}
