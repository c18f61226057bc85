package sandbox

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Violation names the first limit a ResourceTracker detected as exceeded.
type Violation string

// Violation kinds (§4.5, §7 ResourceExceeded/Timeout).
const (
	ViolationNone        Violation = ""
	ViolationEvents      Violation = "max_events exceeded"
	ViolationErrors      Violation = "max_errors exceeded"
	ViolationHTTP        Violation = "max_http_requests exceeded"
	ViolationTime        Violation = "max_execution_seconds exceeded"
	ViolationRateLimited Violation = "rate limited"
)

// ErrRateLimited is the error value for a call the token bucket refuses.
// RecordHTTPRequest does not return it: it reports that case by returning
// true and recording ViolationRateLimited.
var ErrRateLimited = errors.New("sandbox: rate limited")

// ResourceTracker accumulates per-invocation counters against a module's
// ResourceLimits and reports the first violation found.
type ResourceTracker struct {
	mu        sync.Mutex
	limits    ResourceLimits
	started   time.Time
	events    int
	errors    int
	http      int
	limiter   *rate.Limiter
	violation Violation
}

// NewResourceTracker starts a monotonic clock for one invocation against
// limits.
func NewResourceTracker(limits ResourceLimits) *ResourceTracker {
	t := &ResourceTracker{limits: limits, started: time.Now()}

	if limits.RateLimitPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(limits.RateLimitPerSecond), 1)
	}

	return t
}

// RecordEvent increments the emitted-event counter and reports whether the
// limit has now been exceeded.
func (t *ResourceTracker) RecordEvent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.events++

	if t.limits.MaxEvents > 0 && t.events > t.limits.MaxEvents {
		t.setViolation(ViolationEvents)

		return true
	}

	return false
}

// RecordError increments the soft-failure counter and reports whether the
// limit has now been exceeded.
func (t *ResourceTracker) RecordError() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.errors++

	if t.limits.MaxErrors > 0 && t.errors > t.limits.MaxErrors {
		t.setViolation(ViolationErrors)

		return true
	}

	return false
}

// RecordHTTPRequest increments the HTTP call counter, consults the optional
// rate limiter, and reports whether any limit has now been exceeded.
func (t *ResourceTracker) RecordHTTPRequest() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.http++

	if t.limits.MaxHTTPRequests > 0 && t.http > t.limits.MaxHTTPRequests {
		t.setViolation(ViolationHTTP)

		return true
	}

	if t.limiter != nil && !t.limiter.Allow() {
		t.setViolation(ViolationRateLimited)

		return true
	}

	return false
}

// Elapsed returns the wall-clock time since the tracker started.
func (t *ResourceTracker) Elapsed() time.Duration {
	return time.Since(t.started)
}

// CheckTime reports whether the execution-time limit has been exceeded,
// recording the violation if so. Modules call this cooperatively at their
// own checkpoints (check_for_stop, §4.2).
func (t *ResourceTracker) CheckTime() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.limits.MaxExecutionSeconds > 0 && t.Elapsed() >= t.limits.Timeout() {
		t.setViolation(ViolationTime)

		return true
	}

	return false
}

// CheckLimits reports the first violation recorded so far, or
// ViolationNone if none has occurred, including a fresh time check.
func (t *ResourceTracker) CheckLimits() Violation {
	t.CheckTime()

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.violation
}

// Usage is a point-in-time snapshot of tracker counters.
type Usage struct {
	Events          int
	Errors          int
	HTTPRequests    int
	ElapsedSeconds  float64
	ViolationReason Violation
}

// Snapshot returns the tracker's current usage.
func (t *ResourceTracker) Snapshot() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Usage{
		Events:          t.events,
		Errors:          t.errors,
		HTTPRequests:    t.http,
		ElapsedSeconds:  t.Elapsed().Seconds(),
		ViolationReason: t.violation,
	}
}

// setViolation records v as the first violation, if none was recorded yet.
// Caller must hold t.mu.
func (t *ResourceTracker) setViolation(v Violation) {
	if t.violation == ViolationNone {
		t.violation = v
	}
}
