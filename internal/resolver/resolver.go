// Package resolver builds the module producer/consumer dependency graph,
// detects cycles, and computes a deterministic layered load order (§4.6).
package resolver

import (
	"sort"

	"github.com/poppopjmp/spiderfoot-sub002/internal/module"
)

// Status is the outcome of resolving a module set.
type Status string

const (
	// StatusResolved means a full load order was produced with every
	// consumer's required providers present.
	StatusResolved Status = "RESOLVED"

	// StatusMissingProvider means a partial load order was produced but at
	// least one consumer has a consumes type with no producer.
	StatusMissingProvider Status = "MISSING_PROVIDER"

	// StatusCircular means a dependency cycle was found; no load order is
	// produced.
	StatusCircular Status = "CIRCULAR"
)

// MissingProvider records a consumer's unsatisfied consumes type.
type MissingProvider struct {
	Module    string
	EventType string
}

// Cycle is one detected cycle, listed in traversal order (first and last
// module are adjacent, closing the loop).
type Cycle []string

// Result is the outcome of Resolve.
type Result struct {
	Status           Status
	LoadOrder        []string
	Layers           [][]string
	MissingProviders []MissingProvider
	Cycles           []Cycle
}

// Resolver builds and queries the module dependency graph.
type Resolver struct {
	descriptors map[string]module.Descriptor
	producers   map[string][]string // event type -> producer module names
	edges       map[string][]string // module -> modules that depend on it (producer -> consumer)
	reverse     map[string][]string // module -> modules it depends on (consumer -> producer)
}

// New builds a Resolver from a set of module descriptors.
func New(descriptors []module.Descriptor) *Resolver {
	r := &Resolver{
		descriptors: make(map[string]module.Descriptor, len(descriptors)),
		producers:   make(map[string][]string),
		edges:       make(map[string][]string),
		reverse:     make(map[string][]string),
	}

	for _, d := range descriptors {
		r.descriptors[d.Name] = d
	}

	for _, d := range descriptors {
		for _, t := range d.Produces {
			r.producers[t] = append(r.producers[t], d.Name)
		}
	}

	for eventType := range r.producers {
		sort.Strings(r.producers[eventType])
	}

	for _, d := range descriptors {
		r.addConsumerEdges(d.Name, d.Consumes)
		r.addConsumerEdges(d.Name, d.OptionalConsumes)
	}

	for m := range r.edges {
		r.edges[m] = dedupSorted(r.edges[m])
	}

	for m := range r.reverse {
		r.reverse[m] = dedupSorted(r.reverse[m])
	}

	return r
}

func (r *Resolver) addConsumerEdges(consumer string, types []string) {
	for _, t := range types {
		if t == module.AllEventTypes {
			for _, producers := range r.producers {
				for _, p := range producers {
					r.addEdge(p, consumer)
				}
			}

			continue
		}

		for _, p := range r.producers[t] {
			r.addEdge(p, consumer)
		}
	}
}

func (r *Resolver) addEdge(producer, consumer string) {
	if producer == consumer {
		return
	}

	r.edges[producer] = append(r.edges[producer], consumer)
	r.reverse[consumer] = append(r.reverse[consumer], producer)
}

// Resolve builds the result: cycle detection first, then missing-provider
// detection, then (if acyclic) topological layering.
func (r *Resolver) Resolve() Result {
	cycles := r.detectCycles()
	if len(cycles) > 0 {
		return Result{Status: StatusCircular, Cycles: cycles}
	}

	missing := r.missingProviders()

	loadOrder, layers := r.layer()

	status := StatusResolved
	if len(missing) > 0 {
		status = StatusMissingProvider
	}

	return Result{
		Status:           status,
		LoadOrder:        loadOrder,
		Layers:           layers,
		MissingProviders: missing,
	}
}

func (r *Resolver) missingProviders() []MissingProvider {
	var missing []MissingProvider

	names := r.moduleNames()
	for _, name := range names {
		d := r.descriptors[name]

		for _, t := range d.Consumes {
			if t == module.AllEventTypes {
				continue
			}

			if len(r.producers[t]) == 0 {
				missing = append(missing, MissingProvider{Module: name, EventType: t})
			}
		}
	}

	sort.Slice(missing, func(i, j int) bool {
		if missing[i].Module != missing[j].Module {
			return missing[i].Module < missing[j].Module
		}

		return missing[i].EventType < missing[j].EventType
	})

	return missing
}

// color marks DFS visitation state for cycle detection.
type color int

const (
	white color = iota
	gray
	black
)

func (r *Resolver) detectCycles() []Cycle {
	colors := make(map[string]color, len(r.descriptors))
	var cycles []Cycle

	names := r.moduleNames()
	for _, name := range names {
		if colors[name] == white {
			var stack []string

			r.dfsCycle(name, colors, &stack, &cycles)
		}
	}

	return cycles
}

func (r *Resolver) dfsCycle(node string, colors map[string]color, stack *[]string, cycles *[]Cycle) {
	colors[node] = gray
	*stack = append(*stack, node)

	next := append([]string(nil), r.edges[node]...)
	sort.Strings(next)

	for _, n := range next {
		switch colors[n] {
		case white:
			r.dfsCycle(n, colors, stack, cycles)
		case gray:
			*cycles = append(*cycles, extractCycle(*stack, n))
		case black:
		}
	}

	*stack = (*stack)[:len(*stack)-1]
	colors[node] = black
}

func extractCycle(stack []string, closingNode string) Cycle {
	for i, n := range stack {
		if n == closingNode {
			cycle := make(Cycle, len(stack)-i)
			copy(cycle, stack[i:])

			return cycle
		}
	}

	return Cycle{closingNode}
}

// layer performs Kahn's algorithm, grouping modules with no unresolved
// in-edges at each round into one layer. Standalone modules (no edges in
// either direction) are appended to the first layer for determinism.
func (r *Resolver) layer() ([]string, [][]string) {
	names := r.moduleNames()

	inDegree := make(map[string]int, len(names))
	for _, n := range names {
		inDegree[n] = len(r.reverse[n])
	}

	var layers [][]string

	remaining := len(names)
	processed := make(map[string]bool, len(names))

	for remaining > 0 {
		var layer []string

		for _, n := range names {
			if !processed[n] && inDegree[n] == 0 {
				layer = append(layer, n)
			}
		}

		if len(layer) == 0 {
			// Should not happen once cycles are ruled out; bail defensively.
			break
		}

		sort.Strings(layer)
		layers = append(layers, layer)

		for _, n := range layer {
			processed[n] = true
			remaining--

			for _, dependent := range r.edges[n] {
				inDegree[dependent]--
			}
		}
	}

	loadOrder := make([]string, 0, len(names))
	for _, layer := range layers {
		loadOrder = append(loadOrder, layer...)
	}

	return loadOrder, layers
}

func (r *Resolver) moduleNames() []string {
	names := make([]string, 0, len(r.descriptors))
	for n := range r.descriptors {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// GetProducers returns the (sorted) module names that produce eventType.
func (r *Resolver) GetProducers(eventType string) []string {
	return append([]string(nil), r.producers[eventType]...)
}

// GetConsumers returns the (sorted) module names that consume eventType,
// including modules that consume via the wildcard.
func (r *Resolver) GetConsumers(eventType string) []string {
	var consumers []string

	for name, d := range r.descriptors {
		for _, t := range d.Consumes {
			if t == eventType || t == module.AllEventTypes {
				consumers = append(consumers, name)

				break
			}
		}
	}

	sort.Strings(consumers)

	return consumers
}

// GetDependencies returns the modules that moduleName directly depends on
// (its producers).
func (r *Resolver) GetDependencies(moduleName string) []string {
	return append([]string(nil), r.reverse[moduleName]...)
}

// GetDependents returns the modules that directly depend on moduleName.
func (r *Resolver) GetDependents(moduleName string) []string {
	return append([]string(nil), r.edges[moduleName]...)
}

// GetImpact returns the transitive set of modules downstream of moduleName
// (BFS over dependents), sorted.
func (r *Resolver) GetImpact(moduleName string) []string {
	visited := map[string]bool{}
	queue := append([]string(nil), r.edges[moduleName]...)

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		if visited[n] {
			continue
		}

		visited[n] = true
		queue = append(queue, r.edges[n]...)
	}

	result := make([]string, 0, len(visited))
	for n := range visited {
		result = append(result, n)
	}

	sort.Strings(result)

	return result
}

// GetCriticalPath returns the longest chain of dependencies ending at
// moduleName, from the earliest ancestor to moduleName itself.
func (r *Resolver) GetCriticalPath(moduleName string) []string {
	memo := map[string][]string{}

	return r.longestChain(moduleName, memo, map[string]bool{})
}

func (r *Resolver) longestChain(name string, memo map[string][]string, visiting map[string]bool) []string {
	if chain, ok := memo[name]; ok {
		return chain
	}

	if visiting[name] {
		return []string{name}
	}

	visiting[name] = true
	defer delete(visiting, name)

	deps := append([]string(nil), r.reverse[name]...)
	sort.Strings(deps)

	var best []string

	for _, dep := range deps {
		candidate := r.longestChain(dep, memo, visiting)
		if len(candidate) > len(best) {
			best = candidate
		}
	}

	chain := append(append([]string(nil), best...), name)
	memo[name] = chain

	return chain
}

func dedupSorted(items []string) []string {
	sort.Strings(items)

	out := items[:0]

	var last string

	first := true

	for _, it := range items {
		if first || it != last {
			out = append(out, it)
			last = it
			first = false
		}
	}

	return out
}
