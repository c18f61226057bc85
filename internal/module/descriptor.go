// Package module defines the contract every scan module honors, independent
// of what it actually does: a static descriptor, a one-shot setup hook, and
// an event handler the bus drives. It also defines EngineHandle, the single
// explicit seam a module uses to call back into the engine, replacing the
// mutable globals (shared pool, logging singleton) the original relied on.
package module

// AllEventTypes is the wildcard consume-set marker meaning "every event
// type" (§4.1).
const AllEventTypes = "*"

// Descriptor is the static metadata a module declares about itself (§3).
type Descriptor struct {
	// Name uniquely identifies the module within a scan.
	Name string

	// Produces is the set of event types the module may emit. May be empty
	// for pure consumers (e.g. a storage sink).
	Produces []string

	// Consumes is the set of event types the module wants delivered.
	// AllEventTypes means every type.
	Consumes []string

	// OptionalConsumes contributes ordering edges to the resolver but never
	// triggers a missing-provider report.
	OptionalConsumes []string

	// Priority is a scheduling hint: within a phase, higher priority modules
	// run first among those whose prerequisites are satisfied.
	Priority int

	// Prerequisites names modules that must have completed before this one
	// may run within its phase (§4.3 can_run_module).
	Prerequisites []string

	// Capabilities are free-form flags other components may key off of
	// (e.g. "passive-only", "requires-api-key").
	Capabilities []string
}

// ConsumesAll reports whether the descriptor subscribes to every event type.
func (d Descriptor) ConsumesAll() bool {
	for _, t := range d.Consumes {
		if t == AllEventTypes {
			return true
		}
	}

	return false
}
