// Package export renders scan events into downstream-consumable formats
// (§4.9's result surface, grounded on the original data_export.py's
// registry-of-exporters design).
package export

import (
	"errors"
	"time"
)

// ErrUnknownFormat is returned when a requested export format has no
// registered Exporter.
var ErrUnknownFormat = errors.New("export: unknown format")

// Event is the normalized shape an Exporter renders. It is independent of
// store.Row so exporters never need to import the storage layer directly.
type Event struct {
	EventType    string
	Data         string
	Module       string
	SourceEvent  string
	Risk         int
	Timestamp    time.Time
	Metadata     map[string]any
}

// Options controls what an Exporter includes and how it is rendered
// (§4.9).
type Options struct {
	IncludeMetadata bool
	IncludeRaw      bool
	MinRisk         int
	MaxResults      int
	EventTypes      map[string]bool
	Modules         map[string]bool
	Pretty          bool
}

// filterEvents applies the filters common to every exporter, in the same
// order as the original implementation: risk floor, type allow-set,
// module allow-set, RAW_ exclusion, then result cap.
func filterEvents(events []Event, opts Options) []Event {
	out := make([]Event, 0, len(events))

	for _, e := range events {
		if opts.MinRisk > 0 && e.Risk < opts.MinRisk {
			continue
		}

		if len(opts.EventTypes) > 0 && !opts.EventTypes[e.EventType] {
			continue
		}

		if len(opts.Modules) > 0 && !opts.Modules[e.Module] {
			continue
		}

		if !opts.IncludeRaw && hasPrefix(e.EventType, "RAW_") {
			continue
		}

		out = append(out, e)
	}

	if opts.MaxResults > 0 && len(out) > opts.MaxResults {
		out = out[:opts.MaxResults]
	}

	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Exporter renders a filtered event set into one output format.
type Exporter interface {
	FormatName() string
	FileExtension() string
	ContentType() string
	Export(events []Event, opts Options) (string, error)
}

// Registry holds the exporters available by name, matching the original's
// register/get/export surface.
type Registry struct {
	exporters map[string]Exporter
}

// NewRegistry returns a Registry pre-populated with the built-in JSON,
// CSV, STIX, and summary exporters.
func NewRegistry() *Registry {
	r := &Registry{exporters: map[string]Exporter{}}

	for _, e := range []Exporter{&JSONExporter{}, &CSVExporter{}, &STIXExporter{}, &SummaryExporter{}} {
		r.Register(e)
	}

	return r
}

// Register adds or replaces the exporter keyed by its FormatName.
func (r *Registry) Register(e Exporter) {
	r.exporters[e.FormatName()] = e
}

// Unregister removes the exporter named name, reporting whether it was
// present.
func (r *Registry) Unregister(name string) bool {
	if _, ok := r.exporters[name]; !ok {
		return false
	}

	delete(r.exporters, name)

	return true
}

// Get returns the exporter named name, if registered.
func (r *Registry) Get(name string) (Exporter, bool) {
	e, ok := r.exporters[name]
	return e, ok
}

// Export renders events through the named format.
func (r *Registry) Export(name string, events []Event, opts Options) (string, error) {
	e, ok := r.exporters[name]
	if !ok {
		return "", ErrUnknownFormat
	}

	return e.Export(events, opts)
}

// AvailableFormats lists every registered format name.
func (r *Registry) AvailableFormats() []string {
	out := make([]string, 0, len(r.exporters))
	for name := range r.exporters {
		out = append(out, name)
	}

	return out
}
