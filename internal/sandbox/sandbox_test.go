package sandbox_test

import (
	"errors"
	"testing"
	"time"

	"github.com/poppopjmp/spiderfoot-sub002/internal/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteCompletes(t *testing.T) {
	sb := sandbox.New("dns", sandbox.DefaultLimits())

	result := sb.Execute(func(tracker *sandbox.ResourceTracker) error {
		tracker.RecordEvent()

		return nil
	})

	assert.Equal(t, sandbox.StateCompleted, result.State)
	assert.Equal(t, sandbox.StateCompleted, sb.State())
	assert.Equal(t, 1, result.Usage.Events)
}

func TestExecuteFailsOnError(t *testing.T) {
	sb := sandbox.New("dns", sandbox.DefaultLimits())
	boom := errors.New("boom")

	result := sb.Execute(func(*sandbox.ResourceTracker) error {
		return boom
	})

	assert.Equal(t, sandbox.StateFailed, result.State)
	require.Error(t, result.Exception)
}

func TestExecuteRecoversPanic(t *testing.T) {
	sb := sandbox.New("dns", sandbox.DefaultLimits())

	result := sb.Execute(func(*sandbox.ResourceTracker) error {
		panic("kaboom")
	})

	assert.Equal(t, sandbox.StateFailed, result.State)
	require.Error(t, result.Exception)
}

func TestExecuteMaxEventsExceeded(t *testing.T) {
	limits := sandbox.DefaultLimits()
	limits.MaxEvents = 2

	sb := sandbox.New("dns", limits)

	result := sb.Execute(func(tracker *sandbox.ResourceTracker) error {
		tracker.RecordEvent()
		tracker.RecordEvent()
		tracker.RecordEvent()

		return nil
	})

	assert.Equal(t, sandbox.StateFailed, result.State)
}

func TestExecuteWithTimeoutTimesOut(t *testing.T) {
	limits := sandbox.ResourceLimits{MaxExecutionSeconds: 0.05}
	sb := sandbox.New("slow", limits)

	result := sb.ExecuteWithTimeout(func(*sandbox.ResourceTracker) error {
		time.Sleep(time.Second)

		return nil
	})

	assert.Equal(t, sandbox.StateTimedOut, result.State)
	assert.GreaterOrEqual(t, result.Duration.Seconds(), limits.MaxExecutionSeconds)
}

func TestOnCompleteCallbackErrorIsolated(t *testing.T) {
	sb := sandbox.New("dns", sandbox.DefaultLimits())

	called := false
	sb.OnComplete(func(sandbox.Result) {
		panic("callback exploded")
	})
	sb.OnComplete(func(sandbox.Result) {
		called = true
	})

	result := sb.Execute(func(*sandbox.ResourceTracker) error { return nil })

	assert.Equal(t, sandbox.StateCompleted, result.State)
	assert.True(t, called)
}

func TestManagerReusesSandbox(t *testing.T) {
	mgr := sandbox.NewManager(sandbox.DefaultLimits())

	first := mgr.Get("dns")
	second := mgr.Get("dns")

	assert.Same(t, first, second)
}

func TestManagerFailedModules(t *testing.T) {
	mgr := sandbox.NewManager(sandbox.DefaultLimits())
	mgr.RecordResult("dns", sandbox.Result{State: sandbox.StateCompleted})
	mgr.RecordResult("geo", sandbox.Result{State: sandbox.StateFailed})

	assert.Equal(t, []string{"geo"}, mgr.FailedModules())
}
