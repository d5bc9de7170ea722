package profiling

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Mode is the switch deciding whether recorders profile and whether they log.
// The zero state is inactive and silent.
type Mode struct {
	profiler Profiler
	logger   logrus.FieldLogger

	mu     sync.RWMutex
	active bool
	silent bool
}

// NewMode returns an inactive Mode that hands out profiler once enabled.
func NewMode(profiler Profiler, logger logrus.FieldLogger) *Mode {
	if profiler == nil {
		profiler = Noop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Mode{
		profiler: profiler,
		logger:   logger,
		silent:   true,
	}
}

// Enable switches to the real profiler. Unless silent, recorders log their
// start and stop lines.
func (m *Mode) Enable(silent bool) {
	m.mu.Lock()
	m.active = true
	m.silent = silent
	m.mu.Unlock()

	if !silent {
		m.logger.Info("Profiler enabled")
	}
}

// Disable switches to the dummy profiler and silences recorders.
func (m *Mode) Disable() {
	m.mu.Lock()
	m.active = false
	m.silent = true
	m.mu.Unlock()

	m.logger.Info("Profiler disabled")
}

func (m *Mode) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

func (m *Mode) Silent() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.silent
}

// binding is what a recorder captures from the mode at construction.
type binding struct {
	profiler Profiler
	active   bool
	silent   bool
}

func (m *Mode) bind() binding {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.active {
		return binding{profiler: Noop{}, silent: true}
	}
	return binding{profiler: m.profiler, active: true, silent: m.silent}
}

// Logger returns the logger recorders bound to this mode write to.
func (m *Mode) Logger() logrus.FieldLogger {
	return m.logger
}
