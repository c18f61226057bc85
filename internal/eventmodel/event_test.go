package eventmodel_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
)

func TestNewRoot(t *testing.T) {
	root, err := eventmodel.NewRoot("example.com")
	require.NoError(t, err)

	assert.Equal(t, eventmodel.RootEventType, root.EventType)
	assert.Equal(t, eventmodel.RootHash, root.Hash)
	assert.Equal(t, eventmodel.RootHash, root.SourceHash)
	assert.True(t, root.IsRoot())
	assert.Equal(t, 100, root.Confidence)
	assert.Equal(t, 100, root.Visibility)
	assert.Equal(t, 0, root.Risk)
}

func TestNewRootEmptySeed(t *testing.T) {
	_, err := eventmodel.NewRoot("")
	require.ErrorIs(t, err, eventmodel.ErrEmptyData)
}

func TestNewChildEvent(t *testing.T) {
	root, err := eventmodel.NewRoot("example.com")
	require.NoError(t, err)

	child, err := eventmodel.New(root, "INTERNET_NAME", "www.example.com", "sfp_dns")
	require.NoError(t, err)

	assert.Equal(t, root.Hash, child.SourceHash)
	assert.NotEmpty(t, child.Hash)
	assert.NotEqual(t, eventmodel.RootHash, child.Hash)
	assert.False(t, child.IsRoot())
}

func TestNewChildEventDistinctHashes(t *testing.T) {
	root, err := eventmodel.NewRoot("example.com")
	require.NoError(t, err)

	a, err := eventmodel.New(root, "INTERNET_NAME", "www.example.com", "sfp_dns")
	require.NoError(t, err)

	b, err := eventmodel.New(root, "INTERNET_NAME", "www.example.com", "sfp_dns")
	require.NoError(t, err)

	assert.NotEqual(t, a.Hash, b.Hash, "distinct events must have distinct hashes (I2)")
	assert.False(t, a.Equal(b))
}

func TestNewChildEventRequiresParent(t *testing.T) {
	_, err := eventmodel.New(nil, "INTERNET_NAME", "www.example.com", "sfp_dns")
	require.ErrorIs(t, err, eventmodel.ErrMissingParent)
}

func TestNewChildEventValidation(t *testing.T) {
	root, err := eventmodel.NewRoot("example.com")
	require.NoError(t, err)

	tests := []struct {
		name      string
		eventType string
		data      string
		module    string
		wantErr   error
	}{
		{name: "empty event type", eventType: "", data: "x", module: "m", wantErr: eventmodel.ErrEmptyEventType},
		{name: "empty data", eventType: "T", data: "", module: "m", wantErr: eventmodel.ErrEmptyData},
		{name: "empty module", eventType: "T", data: "x", module: "", wantErr: eventmodel.ErrEmptyModule},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eventmodel.New(root, tc.eventType, tc.data, tc.module)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestScoreRangeValidation(t *testing.T) {
	root, err := eventmodel.NewRoot("example.com")
	require.NoError(t, err)

	tests := []struct {
		name string
		opt  eventmodel.Option
	}{
		{name: "risk too high", opt: eventmodel.WithRisk(101)},
		{name: "risk negative", opt: eventmodel.WithRisk(-1)},
		{name: "confidence too high", opt: eventmodel.WithConfidence(200)},
		{name: "visibility negative", opt: eventmodel.WithVisibility(-5)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eventmodel.New(root, "IP_ADDRESS", "1.2.3.4", "sfp_dns", tc.opt)
			require.True(t, errors.Is(err, eventmodel.ErrScoreOutOfRange))
		})
	}
}

func TestValidHash(t *testing.T) {
	assert.True(t, eventmodel.ValidHash("abc123"))
	assert.True(t, eventmodel.ValidHash(eventmodel.RootHash))
	assert.False(t, eventmodel.ValidHash("abc-123"))
	assert.False(t, eventmodel.ValidHash("abc 123"))
	assert.False(t, eventmodel.ValidHash(""))
}

func TestRegistryClassify(t *testing.T) {
	registry := eventmodel.NewRegistry()

	classification, ok := registry.Classify("IP_ADDRESS")
	require.True(t, ok)
	assert.Equal(t, eventmodel.ClassificationEntity, classification)
	assert.True(t, registry.IsEntity("IP_ADDRESS"))

	_, ok = registry.Classify("SOME_UNKNOWN_TYPE")
	assert.False(t, ok)
	assert.False(t, registry.IsEntity("SOME_UNKNOWN_TYPE"))
}

func TestRegistryRegisterOverride(t *testing.T) {
	registry := eventmodel.NewRegistry()

	registry.Register("CUSTOM_ANCHOR", eventmodel.ClassificationEntity)

	classification, ok := registry.Classify("CUSTOM_ANCHOR")
	require.True(t, ok)
	assert.Equal(t, eventmodel.ClassificationEntity, classification)
}
