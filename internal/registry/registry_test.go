package registry_test

import (
	"testing"

	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
	"github.com/poppopjmp/spiderfoot-sub002/internal/module"
	"github.com/poppopjmp/spiderfoot-sub002/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDemoRegistryRegistersExpectedModules(t *testing.T) {
	r := registry.NewDemoRegistry()

	names := make([]string, 0)
	for _, d := range r.Descriptors() {
		names = append(names, d.Name)
	}

	assert.ElementsMatch(t, []string{"sfp_dns", "sfp_whois", "sfp_geo"}, names)
}

func TestRegistryGetAndMustGet(t *testing.T) {
	r := registry.NewDemoRegistry()

	mod, ok := r.Get("sfp_dns")
	require.True(t, ok)
	assert.Equal(t, "sfp_dns", mod.Describe().Name)

	assert.NotPanics(t, func() { r.MustGet("sfp_geo") })
	assert.Panics(t, func() { r.MustGet("does-not-exist") })
}

func TestGetUnknownModule(t *testing.T) {
	r := registry.New()

	_, ok := r.Get("missing")
	assert.False(t, ok)
}

type stubHandle struct {
	emitted []string
	stop    bool
}

func (s *stubHandle) Emit(eventType, data string, opts ...eventmodel.Option) (*eventmodel.Event, error) {
	s.emitted = append(s.emitted, eventType+":"+data)

	return nil, nil
}

func (s *stubHandle) CheckForStop() bool { return s.stop }

func TestGeoModuleEmitsOnHandleEvent(t *testing.T) {
	geo := registry.NewGeoModule()
	handle := &stubHandle{}

	require.NoError(t, geo.Setup(handle, module.Options{}))

	root, err := eventmodel.NewRoot("example.com")
	require.NoError(t, err)

	event, err := eventmodel.New(root, "IP_ADDRESS", "93.184.216.34", "sfp_dns")
	require.NoError(t, err)

	require.NoError(t, geo.HandleEvent(event))
	require.Len(t, handle.emitted, 1)
	assert.Contains(t, handle.emitted[0], "GEOINFO:")
}

func TestGeoModuleHonorsCheckForStop(t *testing.T) {
	geo := registry.NewGeoModule()
	handle := &stubHandle{stop: true}

	require.NoError(t, geo.Setup(handle, module.Options{}))

	root, err := eventmodel.NewRoot("example.com")
	require.NoError(t, err)

	event, err := eventmodel.New(root, "IP_ADDRESS", "93.184.216.34", "sfp_dns")
	require.NoError(t, err)

	require.NoError(t, geo.HandleEvent(event))
	assert.Empty(t, handle.emitted)
}

func TestWhoisModuleDeclaresPrerequisiteOnDNS(t *testing.T) {
	whois := registry.NewWhoisModule()

	assert.Contains(t, whois.Describe().Prerequisites, "sfp_dns")
}
