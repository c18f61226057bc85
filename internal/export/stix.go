package export

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"
)

// STIXExporter renders events as a minimal STIX-like bundle of cyber
// observables (§4.9).
type STIXExporter struct{}

func (s *STIXExporter) FormatName() string    { return "stix" }
func (s *STIXExporter) FileExtension() string { return ".json" }
func (s *STIXExporter) ContentType() string   { return "application/json" }

var stixTypeMap = map[string]string{
	"IP_ADDRESS":    "ipv4-addr",
	"IPV6_ADDRESS":  "ipv6-addr",
	"DOMAIN_NAME":   "domain-name",
	"INTERNET_NAME": "domain-name",
	"EMAILADDR":     "email-addr",
	"URL_FORM":      "url",
	"HASH":          "file",
}

type stixObject struct {
	Type          string `json:"type"`
	ID            string `json:"id"`
	Value         string `json:"value"`
	XEventType    string `json:"x_event_type,omitempty"`
	XSourceModule string `json:"x_source_module,omitempty"`
}

func eventToSCO(e Event) stixObject {
	scoType, ok := stixTypeMap[e.EventType]
	if !ok {
		scoType = "x-spiderfoot-event"
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(e.Data))

	obj := stixObject{
		Type:  scoType,
		ID:    fmt.Sprintf("%s--%08x", scoType, h.Sum32()),
		Value: e.Data,
	}

	if scoType == "x-spiderfoot-event" {
		obj.XEventType = e.EventType
	}

	if e.Module != "" {
		obj.XSourceModule = e.Module
	}

	return obj
}

type stixBundle struct {
	Type    string       `json:"type"`
	ID      string       `json:"id"`
	Objects []stixObject `json:"objects"`
}

// Export renders filtered events as a STIX bundle.
func (s *STIXExporter) Export(events []Event, opts Options) (string, error) {
	filtered := filterEvents(events, opts)

	bundle := stixBundle{
		Type:    "bundle",
		ID:      fmt.Sprintf("bundle--spiderfoot-%d", time.Now().Unix()),
		Objects: make([]stixObject, 0, len(filtered)),
	}

	for _, e := range filtered {
		bundle.Objects = append(bundle.Objects, eventToSCO(e))
	}

	var (
		raw []byte
		err error
	)

	if opts.Pretty {
		raw, err = json.MarshalIndent(bundle, "", "  ")
	} else {
		raw, err = json.Marshal(bundle)
	}

	if err != nil {
		return "", err
	}

	return string(raw), nil
}
