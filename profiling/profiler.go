package profiling

import (
	"errors"

	"github.com/fllarpy/reqprof/domain/profiles"
)

// LabelKey is the pprof label carrying the session name on profiled goroutines.
const LabelKey = "profile"

var (
	// ErrSessionActive is returned when a session with the same name is already open.
	ErrSessionActive = errors.New("profiling session already active")
	// ErrSessionNotFound is returned when stopping a session that was never started.
	ErrSessionNotFound = errors.New("profiling session not found")
	// ErrEngineClosed is returned once the engine has been closed.
	ErrEngineClosed = errors.New("profiling engine closed")
)

// Profiler is a named CPU profiling capability.
type Profiler interface {
	// StartProfiling opens the session called name.
	StartProfiling(name string) error
	// StopProfiling closes the session called name and returns what it collected.
	StopProfiling(name string) (*profiles.Data, error)
}

// AsyncProfiler is a Profiler that completes sessions in the background.
// StopProfilingAsync closes the session at once and later calls done exactly
// once, on another goroutine, with what the session collected. done is not
// called when StopProfilingAsync returns an error.
type AsyncProfiler interface {
	Profiler
	StopProfilingAsync(name string, done func(*profiles.Data, error)) error
}

// Noop is the dummy profiler used while profiling is disabled.
type Noop struct{}

var _ Profiler = Noop{}

func (Noop) StartProfiling(string) error { return nil }

func (Noop) StopProfiling(string) (*profiles.Data, error) { return nil, nil }
