package fulfillment

import (
	"sync"

	"mirlo/model"
)

// Result carries the outcome of one build job to event listeners.
type Result struct {
	JobID       string
	TargetKind  model.TargetKind
	TargetID    int64
	Format      model.AudioFormat
	ArtifactKey string
	Built       bool // false when the artifact already existed
}

// Events is the subscription surface for build lifecycle notifications. It
// is constructed and torn down with the worker that owns it; nothing is
// registered at package load.
type Events struct {
	mu        sync.RWMutex
	completed []func(Result)
	failed    []func(Result, error)
	stalled   []func(Result)
}

// OnCompleted registers a listener for successful builds.
func (e *Events) OnCompleted(fn func(Result)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = append(e.completed, fn)
}

// OnFailed registers a listener for build failures.
func (e *Events) OnFailed(fn func(Result, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, fn)
}

// OnStalled registers a listener for jobs abandoned past their visibility
// timeout.
func (e *Events) OnStalled(fn func(Result)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stalled = append(e.stalled, fn)
}

func (e *Events) emitCompleted(r Result) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.completed {
		fn(r)
	}
}

func (e *Events) emitFailed(r Result, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.failed {
		fn(r, err)
	}
}

func (e *Events) emitStalled(r Result) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.stalled {
		fn(r)
	}
}
