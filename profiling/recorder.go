package profiling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/fllarpy/reqprof/domain/profiles"
)

var (
	// ErrAlreadyStarted is returned by Start on a recorder that left the idle state.
	ErrAlreadyStarted = errors.New("recorder already started")
	// ErrNotRunning is returned by Stop on a recorder that is not running.
	ErrNotRunning = errors.New("recorder not running")
)

type recorderState int

const (
	stateIdle recorderState = iota
	stateRunning
	stateStopped
)

// Recorder is one profiling session bound to one unit of work.
// It is not safe for concurrent use.
type Recorder struct {
	name   string
	bound  binding
	clock  clock.Clock
	logger logrus.FieldLogger

	state     recorderState
	startTime time.Time
	stopTime  time.Time
	duration  time.Duration
	data      *profiles.Data
}

// NewRecorder returns an idle recorder named name. It captures the current
// binding of mode; a recorder with an empty name never profiles.
func NewRecorder(ctx context.Context, mode *Mode, name string) *Recorder {
	b := mode.bind()
	if name == "" {
		b = binding{profiler: Noop{}, silent: true}
	}
	return &Recorder{
		name:   name,
		bound:  b,
		clock:  clock.FromContext(ctx),
		logger: mode.Logger(),
	}
}

// Start opens the profiling session. It is a no-op on an inactive recorder.
func (r *Recorder) Start() error {
	if !r.bound.active {
		return nil
	}
	if r.state != stateIdle {
		return fmt.Errorf("%w: %q", ErrAlreadyStarted, r.name)
	}

	r.startTime = r.clock.Now()
	if err := r.bound.profiler.StartProfiling(r.name); err != nil {
		return fmt.Errorf("start profiling %q: %w", r.name, err)
	}
	r.state = stateRunning

	if !r.bound.silent {
		r.logger.Infof("PROF_START: %s", r.name)
	}
	return nil
}

// Stop closes the session, records its duration and keeps the profile data.
// It is a no-op on an inactive recorder.
func (r *Recorder) Stop() error {
	if !r.bound.active {
		return nil
	}
	if r.state != stateRunning {
		return fmt.Errorf("%w: %q", ErrNotRunning, r.name)
	}

	data, err := r.bound.profiler.StopProfiling(r.name)
	r.stopTime = r.clock.Now()
	r.duration = r.stopTime.Sub(r.startTime)
	r.data = data
	r.state = stateStopped
	if err != nil {
		return fmt.Errorf("stop profiling %q: %w", r.name, err)
	}

	if !r.bound.silent {
		r.logger.Infof("PROF_STOP: %s (time: %dms)", r.name, r.duration.Milliseconds())
	}
	return nil
}

// StopAsync is Stop for callers that must not wait for the profile data.
// Timing and the stop line are recorded at once. done receives the finished
// record exactly once: inline for a plain Profiler, later and possibly on
// another goroutine for an AsyncProfiler. When StopAsync returns an error
// done is not called. On an inactive recorder it does nothing.
func (r *Recorder) StopAsync(done func(profiles.Record, error)) error {
	if !r.bound.active {
		return nil
	}
	if r.state != stateRunning {
		return fmt.Errorf("%w: %q", ErrNotRunning, r.name)
	}
	async, ok := r.bound.profiler.(AsyncProfiler)
	if !ok {
		err := r.Stop()
		done(r.Record(), err)
		return nil
	}

	r.stopTime = r.clock.Now()
	r.duration = r.stopTime.Sub(r.startTime)
	r.state = stateStopped
	record := r.Record()

	err := async.StopProfilingAsync(r.name, func(data *profiles.Data, err error) {
		if data != nil {
			record.SampleCount = data.SampleCount
			record.Raw = data.Raw
		}
		if err != nil {
			err = fmt.Errorf("stop profiling %q: %w", r.name, err)
		}
		done(record, err)
	})
	if err != nil {
		return fmt.Errorf("stop profiling %q: %w", r.name, err)
	}

	if !r.bound.silent {
		r.logger.Infof("PROF_STOP: %s (time: %dms)", r.name, r.duration.Milliseconds())
	}
	return nil
}

func (r *Recorder) Name() string { return r.name }

// Active reports whether the recorder was created with profiling enabled.
func (r *Recorder) Active() bool { return r.bound.active }

// Running reports whether Start succeeded and Stop has not been called yet.
func (r *Recorder) Running() bool { return r.state == stateRunning }

// Stopped reports whether Stop has been called on a running recorder.
func (r *Recorder) Stopped() bool { return r.state == stateStopped }

func (r *Recorder) StartTime() time.Time { return r.startTime }

func (r *Recorder) StopTime() time.Time { return r.stopTime }

func (r *Recorder) Duration() time.Duration { return r.duration }

// Profile returns the data collected by Stop. It stays nil before Stop and
// when the recorder was stopped with StopAsync on an AsyncProfiler.
func (r *Recorder) Profile() *profiles.Data { return r.data }

// Record converts a stopped recorder into a store record.
func (r *Recorder) Record() profiles.Record {
	rec := profiles.Record{
		Name:      r.name,
		StartTime: r.startTime,
		StopTime:  r.stopTime,
		Duration:  r.duration,
	}
	if r.data != nil {
		rec.SampleCount = r.data.SampleCount
		rec.Raw = r.data.Raw
	}
	return rec
}
