package correlation_test

import (
	"testing"

	"github.com/poppopjmp/spiderfoot-sub002/internal/correlation"
	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamingCorrelatorFiresAtThreshold(t *testing.T) {
	sc := correlation.NewStreamingCorrelator(nil)
	sc.AddRule(correlation.StreamingRule{
		Name:    "many-errors",
		Enabled: true,
		Conditions: []correlation.Condition{
			{Field: "type", Op: correlation.OpEqual, Value: "SCAN_ERROR"},
		},
		Mode:           correlation.ModeAll,
		ThresholdCount: 3,
	})

	var matches []correlation.Match
	sc.OnMatch(func(m correlation.Match) { matches = append(matches, m) })

	root, err := eventmodel.NewRoot("example.com")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		e, err := eventmodel.New(root, "SCAN_ERROR", "boom", "mod")
		require.NoError(t, err)
		sc.Observe(e)
	}

	assert.Empty(t, matches)

	e, err := eventmodel.New(root, "SCAN_ERROR", "boom3", "mod")
	require.NoError(t, err)
	sc.Observe(e)

	require.Len(t, matches, 1)
	assert.Equal(t, "many-errors", matches[0].RuleName)
	assert.Equal(t, 3, matches[0].Count)
}

func TestStreamingCorrelatorGroupBy(t *testing.T) {
	sc := correlation.NewStreamingCorrelator(nil)
	sc.AddRule(correlation.StreamingRule{
		Name:    "per-module",
		Enabled: true,
		Conditions: []correlation.Condition{
			{Field: "type", Op: correlation.OpEqual, Value: "SCAN_ERROR"},
		},
		Mode:           correlation.ModeAll,
		ThresholdCount: 2,
		GroupBy:        "module",
	})

	var matches []correlation.Match
	sc.OnMatch(func(m correlation.Match) { matches = append(matches, m) })

	root, err := eventmodel.NewRoot("example.com")
	require.NoError(t, err)

	e1, err := eventmodel.New(root, "SCAN_ERROR", "a", "modA")
	require.NoError(t, err)
	sc.Observe(e1)

	e2, err := eventmodel.New(root, "SCAN_ERROR", "b", "modB")
	require.NoError(t, err)
	sc.Observe(e2)

	assert.Empty(t, matches)

	e3, err := eventmodel.New(root, "SCAN_ERROR", "c", "modA")
	require.NoError(t, err)
	sc.Observe(e3)

	require.Len(t, matches, 1)
	assert.Equal(t, "modA", matches[0].GroupKey)
}

func TestStreamingCorrelatorCallbackPanicIsolated(t *testing.T) {
	sc := correlation.NewStreamingCorrelator(nil)
	sc.AddRule(correlation.StreamingRule{
		Name:           "panics",
		Enabled:        true,
		Conditions:     []correlation.Condition{{Field: "type", Op: correlation.OpExists}},
		Mode:           correlation.ModeAll,
		ThresholdCount: 1,
	})

	called := false
	sc.OnMatch(func(m correlation.Match) { panic("boom") })
	sc.OnMatch(func(m correlation.Match) { called = true })

	root, err := eventmodel.NewRoot("example.com")
	require.NoError(t, err)

	e, err := eventmodel.New(root, "IP_ADDRESS", "1.2.3.4", "mod")
	require.NoError(t, err)

	assert.NotPanics(t, func() { sc.Observe(e) })
	assert.True(t, called)
}

func TestStreamingCorrelatorSkipsDisabledRule(t *testing.T) {
	sc := correlation.NewStreamingCorrelator(nil)
	sc.AddRule(correlation.StreamingRule{
		Name:    "disabled",
		Enabled: false,
		Conditions: []correlation.Condition{
			{Field: "type", Op: correlation.OpEqual, Value: "SCAN_ERROR"},
		},
		Mode:           correlation.ModeAll,
		ThresholdCount: 1,
	})

	var matches []correlation.Match
	sc.OnMatch(func(m correlation.Match) { matches = append(matches, m) })

	root, err := eventmodel.NewRoot("example.com")
	require.NoError(t, err)

	e, err := eventmodel.New(root, "SCAN_ERROR", "boom", "mod")
	require.NoError(t, err)
	sc.Observe(e)

	assert.Empty(t, matches)
}

func TestStreamingCorrelatorOrdersRulesByPriorityDescending(t *testing.T) {
	sc := correlation.NewStreamingCorrelator(nil)
	sc.AddRule(correlation.StreamingRule{
		Name:     "low",
		Enabled:  true,
		Priority: 1,
		Conditions: []correlation.Condition{
			{Field: "type", Op: correlation.OpEqual, Value: "SCAN_ERROR"},
		},
		Mode:           correlation.ModeAll,
		ThresholdCount: 1,
	})
	sc.AddRule(correlation.StreamingRule{
		Name:     "high",
		Enabled:  true,
		Priority: 5,
		Conditions: []correlation.Condition{
			{Field: "type", Op: correlation.OpEqual, Value: "SCAN_ERROR"},
		},
		Mode:           correlation.ModeAll,
		ThresholdCount: 1,
	})

	var order []string
	sc.OnMatch(func(m correlation.Match) { order = append(order, m.RuleName) })

	root, err := eventmodel.NewRoot("example.com")
	require.NoError(t, err)

	e, err := eventmodel.New(root, "SCAN_ERROR", "boom", "mod")
	require.NoError(t, err)
	sc.Observe(e)

	require.Len(t, order, 2)
	assert.Equal(t, []string{"high", "low"}, order)
}
