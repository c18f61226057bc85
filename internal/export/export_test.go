package export_test

import (
	"testing"
	"time"

	"github.com/poppopjmp/spiderfoot-sub002/internal/export"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvents() []export.Event {
	now := time.Now()

	return []export.Event{
		{EventType: "IP_ADDRESS", Data: "203.0.113.5", Module: "dns", Risk: 20, Timestamp: now},
		{EventType: "INTERNET_NAME", Data: "mail.example.com", Module: "dns", Risk: 80, Timestamp: now},
		{EventType: "RAW_RIR_DATA", Data: "raw blob", Module: "whois", Risk: 0, Timestamp: now},
	}
}

func TestRegistryUnknownFormat(t *testing.T) {
	r := export.NewRegistry()
	_, err := r.Export("nope", sampleEvents(), export.Options{})
	assert.ErrorIs(t, err, export.ErrUnknownFormat)
}

func TestJSONExporterExcludesRawByDefault(t *testing.T) {
	r := export.NewRegistry()
	out, err := r.Export("json", sampleEvents(), export.Options{Pretty: true})
	require.NoError(t, err)
	assert.NotContains(t, out, "raw blob")
	assert.Contains(t, out, "mail.example.com")
}

func TestJSONExporterIncludesRawWhenRequested(t *testing.T) {
	r := export.NewRegistry()
	out, err := r.Export("json", sampleEvents(), export.Options{IncludeRaw: true})
	require.NoError(t, err)
	assert.Contains(t, out, "raw blob")
}

func TestCSVExporterHeaderAndRows(t *testing.T) {
	r := export.NewRegistry()
	out, err := r.Export("csv", sampleEvents(), export.Options{})
	require.NoError(t, err)
	assert.Contains(t, out, "event_type,data,module,risk,timestamp")
	assert.Contains(t, out, "203.0.113.5")
}

func TestMinRiskFilter(t *testing.T) {
	r := export.NewRegistry()
	out, err := r.Export("summary", sampleEvents(), export.Options{MinRisk: 50})
	require.NoError(t, err)
	assert.Contains(t, out, "Total Events: 1")
}

func TestSTIXExporterMapsKnownTypes(t *testing.T) {
	r := export.NewRegistry()
	out, err := r.Export("stix", sampleEvents(), export.Options{})
	require.NoError(t, err)
	assert.Contains(t, out, "ipv4-addr")
	assert.Contains(t, out, "domain-name")
}
