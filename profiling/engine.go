package profiling

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/pprof/profile"
	"github.com/sirupsen/logrus"

	"github.com/fllarpy/reqprof/domain/profiles"
)

// Engine is the runtime/pprof backed Profiler.
//
// A single CPU profile runs while at least one session is open. The profile
// is driven by a goroutine owned by the engine, so StartProfiling and
// StopProfilingAsync only update the session table and return. When sessions
// have stopped the goroutine rotates the profile: the running profile is
// stopped, its output becomes a segment handed to every open session, and a
// fresh profile is started if sessions remain. A stopped session then merges
// its segments and keeps the samples labelled with its name.
//
// A stopped session keeps its name reserved until its data is delivered.
type Engine struct {
	cpu    cpuProfiler
	logger logrus.FieldLogger

	kick     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	loopOnce sync.Once

	mu       sync.Mutex
	sessions map[string]*session
	stopping int
	closed   bool
	looping  bool

	// owned by the loop goroutine
	buf *bytes.Buffer // nil while no CPU profile is running
}

type session struct {
	name     string
	segments [][]byte
	stopped  bool
	startErr error
	done     func(*profiles.Data, error)
}

var _ AsyncProfiler = (*Engine)(nil)

// NewEngine returns an Engine driving the process CPU profiler. Close stops
// its goroutine.
func NewEngine(logger logrus.FieldLogger) *Engine {
	return newEngine(pprofCPU{}, logger)
}

func newEngine(cpu cpuProfiler, logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		cpu:      cpu,
		logger:   logger,
		kick:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		sessions: make(map[string]*session),
	}
}

// StartProfiling opens a session. Starting a name that is open or still
// being collected returns ErrSessionActive. Failures of the CPU profile
// itself surface when the session stops.
func (e *Engine) StartProfiling(name string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if _, ok := e.sessions[name]; ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSessionActive, name)
	}
	e.sessions[name] = &session{name: name}
	e.mu.Unlock()

	e.wake()
	return nil
}

// StopProfilingAsync closes a session without waiting for its samples.
func (e *Engine) StopProfilingAsync(name string, done func(*profiles.Data, error)) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	s, ok := e.sessions[name]
	if !ok || s.stopped {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSessionNotFound, name)
	}
	s.stopped = true
	s.done = done
	e.stopping++
	e.mu.Unlock()

	e.wake()
	return nil
}

// StopProfiling closes a session and waits for the samples attributed to it.
// It blocks until the next rotation of the CPU profile.
func (e *Engine) StopProfiling(name string) (*profiles.Data, error) {
	type result struct {
		data *profiles.Data
		err  error
	}
	ch := make(chan result, 1)
	if err := e.StopProfilingAsync(name, func(data *profiles.Data, err error) {
		ch <- result{data: data, err: err}
	}); err != nil {
		return nil, err
	}
	r := <-ch
	return r.data, r.err
}

// Sessions returns the number of sessions that are open or being collected.
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Close stops the CPU profile and the engine goroutine. Stopped sessions are
// still delivered; sessions that are still open are dropped.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	looping := e.looping
	e.mu.Unlock()

	close(e.quit)
	if looping {
		<-e.done
	}
}

// wake starts the loop on first use and asks it for a cycle.
func (e *Engine) wake() {
	e.loopOnce.Do(func() {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		e.looping = true
		e.mu.Unlock()
		go e.loop()
	})
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			e.shutdown()
			return
		case <-e.kick:
			e.cycle()
		}
	}
}

// cycle starts the CPU profile for newly opened sessions and rotates it when
// sessions have stopped.
func (e *Engine) cycle() {
	e.mu.Lock()
	stopping, open := e.stopping, len(e.sessions)
	e.mu.Unlock()

	if e.buf != nil && stopping == 0 {
		return
	}
	if e.buf == nil && open == 0 {
		return
	}

	finished, remaining := e.rotate()
	if remaining > 0 {
		if err := e.startCPU(); err != nil {
			e.logger.WithError(err).Warn("Failed to start CPU profile")
			e.mu.Lock()
			for _, s := range e.sessions {
				if len(s.segments) == 0 {
					s.startErr = err
				}
			}
			e.mu.Unlock()
		}
	}
	e.deliver(finished)
}

// rotate closes the running CPU profile, if any, hands its output to every
// session and detaches the stopped ones. It returns them with the number of
// sessions still open.
func (e *Engine) rotate() ([]*session, int) {
	var segment []byte
	if e.buf != nil {
		e.cpu.StopCPUProfile()
		segment = e.buf.Bytes()
		e.buf = nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var finished []*session
	for name, s := range e.sessions {
		if len(segment) > 0 {
			s.segments = append(s.segments, segment)
		}
		if s.stopped {
			finished = append(finished, s)
			delete(e.sessions, name)
		}
	}
	e.stopping -= len(finished)
	return finished, len(e.sessions)
}

func (e *Engine) startCPU() error {
	buf := &bytes.Buffer{}
	if err := e.cpu.StartCPUProfile(buf); err != nil {
		return err
	}
	e.buf = buf
	return nil
}

// deliver extracts and hands over the data of finished sessions off the loop
// goroutine.
func (e *Engine) deliver(finished []*session) {
	for _, s := range finished {
		go func(s *session) {
			data, err := extract(s.name, s.segments)
			if err == nil && len(s.segments) == 0 && s.startErr != nil {
				err = fmt.Errorf("start CPU profile for %q: %w", s.name, s.startErr)
			}
			if s.done != nil {
				s.done(data, err)
			}
		}(s)
	}
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	for name, s := range e.sessions {
		if !s.stopped {
			delete(e.sessions, name)
		}
	}
	e.mu.Unlock()

	finished, _ := e.rotate()
	e.deliver(finished)
}

// extract merges the segments of one session and keeps the samples labelled
// with its name. Segments are shared between sessions and only read here.
func extract(name string, segments [][]byte) (*profiles.Data, error) {
	data := &profiles.Data{Name: name}

	parts := make([]*profile.Profile, 0, len(segments))
	for _, raw := range segments {
		p, err := profile.ParseData(raw)
		if err != nil {
			return data, fmt.Errorf("parse CPU profile segment for %q: %w", name, err)
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return data, nil
	}

	merged, err := profile.Merge(parts)
	if err != nil {
		return data, fmt.Errorf("merge CPU profile segments for %q: %w", name, err)
	}

	kept := merged.Sample[:0]
	for _, sample := range merged.Sample {
		if hasLabel(sample, name) {
			kept = append(kept, sample)
		}
	}
	if len(kept) == 0 {
		return data, nil
	}
	merged.Sample = kept
	merged = merged.Compact()

	var out bytes.Buffer
	if err := merged.Write(&out); err != nil {
		return data, fmt.Errorf("encode CPU profile for %q: %w", name, err)
	}
	data.SampleCount = len(merged.Sample)
	data.Raw = out.Bytes()
	return data, nil
}

func hasLabel(sample *profile.Sample, name string) bool {
	for _, v := range sample.Label[LabelKey] {
		if v == name {
			return true
		}
	}
	return false
}
