package export

import (
	"encoding/csv"
	"encoding/json"
	"strconv"
	"strings"
)

// CSVExporter renders events as CSV (§4.9).
type CSVExporter struct{}

func (c *CSVExporter) FormatName() string    { return "csv" }
func (c *CSVExporter) FileExtension() string { return ".csv" }
func (c *CSVExporter) ContentType() string   { return "text/csv" }

// Export renders filtered events as CSV with a header row; metadata is
// appended as a JSON-encoded trailing column when requested.
func (c *CSVExporter) Export(events []Event, opts Options) (string, error) {
	filtered := filterEvents(events, opts)

	var buf strings.Builder

	w := csv.NewWriter(&buf)

	headers := []string{"event_type", "data", "module", "risk", "timestamp"}
	if opts.IncludeMetadata {
		headers = append(headers, "metadata")
	}

	if err := w.Write(headers); err != nil {
		return "", err
	}

	for _, e := range filtered {
		row := []string{
			e.EventType,
			e.Data,
			e.Module,
			strconv.Itoa(e.Risk),
			strconv.FormatFloat(float64(e.Timestamp.UnixNano())/1e9, 'f', -1, 64),
		}

		if opts.IncludeMetadata {
			meta, err := json.Marshal(e.Metadata)
			if err != nil {
				return "", err
			}

			row = append(row, string(meta))
		}

		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return "", err
	}

	return buf.String(), nil
}
