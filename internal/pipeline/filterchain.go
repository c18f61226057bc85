package pipeline

import (
	"sync"

	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
)

// ChainMode selects how a FilterChain combines its filters' verdicts.
type ChainMode int

const (
	// AllPass blocks the event if any enabled filter returns Block; all
	// Skip counts as pass.
	AllPass ChainMode = iota

	// AnyPass requires at least one enabled filter to return Pass;
	// otherwise the chain blocks.
	AnyPass
)

// FilterChain is the pre-pipeline gate (§4.4): an ordered list of filters
// combined under a single mode. Mutations are serialized by a lock;
// evaluation copies the filter list under the lock, then runs unlocked.
type FilterChain struct {
	mu      sync.RWMutex
	filters []Filter
	mode    ChainMode
}

// NewFilterChain builds an empty FilterChain in the given mode.
func NewFilterChain(mode ChainMode) *FilterChain {
	return &FilterChain{mode: mode}
}

// Add appends a filter to the chain.
func (c *FilterChain) Add(f Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.filters = append(c.filters, f)
}

// Evaluate reports whether event passes the chain under its configured
// mode (§4.4, §8 I5). An empty chain always passes.
func (c *FilterChain) Evaluate(event *eventmodel.Event) bool {
	c.mu.RLock()
	filters := append([]Filter(nil), c.filters...)
	mode := c.mode
	c.mu.RUnlock()

	switch mode {
	case AllPass:
		for _, f := range filters {
			if !f.Enabled() {
				continue
			}

			if f.Evaluate(event) == Block {
				return false
			}
		}

		return true
	case AnyPass:
		anyEnabled := false

		for _, f := range filters {
			if !f.Enabled() {
				continue
			}

			anyEnabled = true

			if f.Evaluate(event) == Pass {
				return true
			}
		}

		return !anyEnabled
	default:
		return true
	}
}
