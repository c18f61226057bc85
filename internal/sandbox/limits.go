// Package sandbox executes one module invocation inside a per-module
// resource envelope: wall-clock timeout, event/error/HTTP caps, and
// best-effort rate limiting (§4.5).
package sandbox

import "time"

// ResourceLimits bounds one module invocation (§4.5).
type ResourceLimits struct {
	// MaxExecutionSeconds is the wall-clock cap. Exceeding it transitions
	// the sandbox to TimedOut.
	MaxExecutionSeconds float64

	// MaxEvents is the number of events the module may emit in one
	// invocation.
	MaxEvents int

	// MaxErrors is the soft failure count.
	MaxErrors int

	// MaxHTTPRequests bounds outbound HTTP calls made via the engine's HTTP
	// facility.
	MaxHTTPRequests int

	// RateLimitPerSecond optionally caps external requests with a
	// token-bucket limiter. Zero disables rate limiting.
	RateLimitPerSecond float64

	// MaxMemoryMB is an optional memory cap. It is carried with the limits
	// only: neither ResourceTracker nor Sandbox measures or enforces memory
	// use.
	MaxMemoryMB int
}

// DefaultLimits returns conservative defaults suitable for untrusted
// modules.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxExecutionSeconds: 30,
		MaxEvents:           10000,
		MaxErrors:           10,
		MaxHTTPRequests:     500,
		RateLimitPerSecond:  0,
		MaxMemoryMB:         0,
	}
}

// Timeout converts MaxExecutionSeconds to a time.Duration.
func (l ResourceLimits) Timeout() time.Duration {
	return time.Duration(l.MaxExecutionSeconds * float64(time.Second))
}
