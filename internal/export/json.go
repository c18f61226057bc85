package export

import (
	"encoding/json"
	"time"
)

// JSONExporter renders events as a JSON document (§4.9).
type JSONExporter struct{}

func (j *JSONExporter) FormatName() string    { return "json" }
func (j *JSONExporter) FileExtension() string { return ".json" }
func (j *JSONExporter) ContentType() string   { return "application/json" }

type jsonEvent struct {
	EventType   string         `json:"event_type"`
	Data        string         `json:"data"`
	Module      string         `json:"module"`
	SourceEvent string         `json:"source_event,omitempty"`
	Risk        int            `json:"risk"`
	Timestamp   float64        `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type jsonDocument struct {
	ExportTimestamp float64     `json:"export_timestamp"`
	EventCount      int         `json:"event_count"`
	Events          []jsonEvent `json:"events"`
}

// Export renders filtered events as a JSON object: export timestamp,
// event count, and the event list.
func (j *JSONExporter) Export(events []Event, opts Options) (string, error) {
	filtered := filterEvents(events, opts)

	doc := jsonDocument{
		ExportTimestamp: float64(time.Now().UnixNano()) / 1e9,
		EventCount:      len(filtered),
		Events:          make([]jsonEvent, 0, len(filtered)),
	}

	for _, e := range filtered {
		je := jsonEvent{
			EventType:   e.EventType,
			Data:        e.Data,
			Module:      e.Module,
			SourceEvent: e.SourceEvent,
			Risk:        e.Risk,
			Timestamp:   float64(e.Timestamp.UnixNano()) / 1e9,
		}

		if opts.IncludeMetadata {
			je.Metadata = e.Metadata
		}

		doc.Events = append(doc.Events, je)
	}

	var (
		raw []byte
		err error
	)

	if opts.Pretty {
		raw, err = json.MarshalIndent(doc, "", "  ")
	} else {
		raw, err = json.Marshal(doc)
	}

	if err != nil {
		return "", err
	}

	return string(raw), nil
}
