package export

import (
	"fmt"
	"sort"
	"strings"
)

// SummaryExporter renders a human-readable plaintext scan summary (§4.9).
type SummaryExporter struct{}

func (s *SummaryExporter) FormatName() string    { return "summary" }
func (s *SummaryExporter) FileExtension() string { return ".txt" }
func (s *SummaryExporter) ContentType() string   { return "text/plain" }

type countPair struct {
	Key   string
	Count int
}

func topN(counts map[string]int, n int) []countPair {
	pairs := make([]countPair, 0, len(counts))
	for k, v := range counts {
		pairs = append(pairs, countPair{Key: k, Count: v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}

		return pairs[i].Key < pairs[j].Key
	})

	if len(pairs) > n {
		pairs = pairs[:n]
	}

	return pairs
}

// Export renders a risk-distribution and top-types/modules summary.
func (s *SummaryExporter) Export(events []Event, opts Options) (string, error) {
	filtered := filterEvents(events, opts)

	typeCounts := map[string]int{}
	moduleCounts := map[string]int{}
	riskCounts := map[string]int{"critical": 0, "high": 0, "medium": 0, "low": 0, "info": 0}
	maxRisk := 0

	for _, e := range filtered {
		typeCounts[e.EventType]++

		if e.Module != "" {
			moduleCounts[e.Module]++
		}

		if e.Risk > maxRisk {
			maxRisk = e.Risk
		}

		switch {
		case e.Risk >= 90:
			riskCounts["critical"]++
		case e.Risk >= 70:
			riskCounts["high"]++
		case e.Risk >= 40:
			riskCounts["medium"]++
		case e.Risk >= 10:
			riskCounts["low"]++
		default:
			riskCounts["info"]++
		}
	}

	var b strings.Builder

	rule := strings.Repeat("=", 60)

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "SpiderFoot Scan Summary")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Total Events: %d\n", len(filtered))
	fmt.Fprintf(&b, "Event Types: %d\n", len(typeCounts))
	fmt.Fprintf(&b, "Modules Used: %d\n", len(moduleCounts))
	fmt.Fprintf(&b, "Max Risk Score: %d\n", maxRisk)
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Risk Distribution:")

	for _, level := range []string{"critical", "high", "medium", "low", "info"} {
		if riskCounts[level] > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", strings.ToUpper(level), riskCounts[level])
		}
	}

	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Top Event Types:")

	for _, p := range topN(typeCounts, 10) {
		fmt.Fprintf(&b, "  %s: %d\n", p.Key, p.Count)
	}

	if len(moduleCounts) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Top Modules:")

		for _, p := range topN(moduleCounts, 10) {
			fmt.Fprintf(&b, "  %s: %d\n", p.Key, p.Count)
		}
	}

	fmt.Fprintln(&b, rule)

	return strings.TrimRight(b.String(), "\n"), nil
}
