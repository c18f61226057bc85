// Package registry holds the static module registry the engine loads at
// build time, replacing the original's dynamic plugin-discovery-by-name
// (§9 Design Notes: "a static registry populated at build time with each
// module's descriptor"). It also carries a handful of illustrative demo
// modules used to exercise the resolver/orchestrator/bus end-to-end,
// matching the module names used in spec.md's own §8 scenarios.
package registry

import (
	"errors"
	"fmt"
	"net"

	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
	"github.com/poppopjmp/spiderfoot-sub002/internal/module"
)

// ErrUnknownModule is returned when a registry lookup misses.
var ErrUnknownModule = errors.New("registry: unknown module")

// Registry holds the module set a scan may draw from, keyed by name.
type Registry struct {
	modules map[string]module.Module
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{modules: map[string]module.Module{}}
}

// Register adds mod, keyed by its descriptor's name.
func (r *Registry) Register(mod module.Module) {
	r.modules[mod.Describe().Name] = mod
}

// Get returns the module named name, if registered.
func (r *Registry) Get(name string) (module.Module, bool) {
	m, ok := r.modules[name]

	return m, ok
}

// MustGet returns the module named name, panicking if absent. Intended for
// build-time wiring, where a missing module is a programming error.
func (r *Registry) MustGet(name string) module.Module {
	m, ok := r.modules[name]
	if !ok {
		panic(fmt.Sprintf("registry: module %q is not registered", name))
	}

	return m
}

// Descriptors returns every registered module's static descriptor, in
// registration order is not guaranteed; callers needing determinism should
// sort by name.
func (r *Registry) Descriptors() []module.Descriptor {
	out := make([]module.Descriptor, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m.Describe())
	}

	return out
}

// Modules returns every registered module.
func (r *Registry) Modules() []module.Module {
	out := make([]module.Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}

	return out
}

// NewDemoRegistry builds a Registry pre-populated with the illustrative
// sfp_dns/sfp_whois/sfp_geo modules named in spec.md §8's end-to-end
// scenarios, sufficient to exercise the resolver, orchestrator, and bus
// without depending on any real external data-source adapter (§1's
// "individual data-source adapters... are explicitly out of scope").
func NewDemoRegistry() *Registry {
	r := New()
	r.Register(NewDNSModule())
	r.Register(NewWhoisModule())
	r.Register(NewGeoModule())

	return r
}

// baseModule implements the parts of module.Module shared by every demo
// module: descriptor storage and the engine handle captured at Setup.
type baseModule struct {
	descriptor module.Descriptor
	handle     module.EngineHandle
}

func (b *baseModule) Describe() module.Descriptor { return b.descriptor }

func (b *baseModule) Setup(handle module.EngineHandle, _ module.Options) error {
	b.handle = handle

	return nil
}

func (b *baseModule) WatchedEvents() []string  { return b.descriptor.Consumes }
func (b *baseModule) ProducedEvents() []string { return b.descriptor.Produces }

// DNSModule resolves a DOMAIN_NAME event into an IP_ADDRESS event. It is a
// stand-in for the kind of passive DNS adapter §1 places out of scope; it
// performs a real forward lookup so the resolver/bus wiring has a genuine
// producer to exercise.
type DNSModule struct {
	baseModule
}

// NewDNSModule builds the sfp_dns demo module (§8 scenario 1: "dns
// consumes DOMAIN_NAME produces IP_ADDRESS").
func NewDNSModule() *DNSModule {
	return &DNSModule{baseModule{descriptor: module.Descriptor{
		Name:     "sfp_dns",
		Produces: []string{"IP_ADDRESS"},
		Consumes: []string{"INTERNET_NAME", "DOMAIN_NAME"},
		Priority: 100,
	}}}
}

// HandleEvent resolves the event's domain and emits one IP_ADDRESS event
// per resolved address.
func (m *DNSModule) HandleEvent(event *eventmodel.Event) error {
	if m.handle.CheckForStop() {
		return nil
	}

	ips, err := net.LookupHost(event.Data)
	if err != nil {
		return nil // Network errors are not fatal to the module (§7 Network kind).
	}

	for _, ip := range ips {
		if _, err := m.handle.Emit("IP_ADDRESS", ip); err != nil {
			return err
		}
	}

	return nil
}

// WhoisModule is a pure consumer demo module: it watches domain events but
// produces nothing, standing in for a storage/registrar-lookup sink.
// Declared with a prerequisite on sfp_dns so §8 scenario 7's scheduling
// check ("sfp_dns before sfp_whois") has a real dependency behind it.
type WhoisModule struct {
	baseModule
}

// NewWhoisModule builds the sfp_whois demo module.
func NewWhoisModule() *WhoisModule {
	return &WhoisModule{baseModule{descriptor: module.Descriptor{
		Name:          "sfp_whois",
		Consumes:      []string{"INTERNET_NAME", "DOMAIN_NAME"},
		Priority:      50,
		Prerequisites: []string{"sfp_dns"},
	}}}
}

// HandleEvent is a no-op: the demo whois module only demonstrates
// scheduling order, not a real registrar lookup (§1 out of scope).
func (m *WhoisModule) HandleEvent(event *eventmodel.Event) error {
	return nil
}

// GeoModule consumes IP_ADDRESS events and emits a GEOINFO event carrying a
// best-effort locality guess. It never calls out to a real geolocation
// provider (§1 out of scope) — it is illustrative plumbing only.
type GeoModule struct {
	baseModule
}

// NewGeoModule builds the sfp_geo demo module (§8 scenario 1: "geo
// consumes IP_ADDRESS produces GEOINFO").
func NewGeoModule() *GeoModule {
	return &GeoModule{baseModule{descriptor: module.Descriptor{
		Name:     "sfp_geo",
		Produces: []string{"GEOINFO"},
		Consumes: []string{"IP_ADDRESS"},
		Priority: 10,
	}}}
}

// HandleEvent emits a single GEOINFO event summarizing the source IP.
func (m *GeoModule) HandleEvent(event *eventmodel.Event) error {
	if m.handle.CheckForStop() {
		return nil
	}

	_, err := m.handle.Emit("GEOINFO", "unknown locality for "+event.Data)

	return err
}
