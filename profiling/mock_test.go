package profiling

import (
	"sync"

	"github.com/fllarpy/reqprof/domain/profiles"
)

// mockProfiler records every call it receives.
type mockProfiler struct {
	mu       sync.Mutex
	calls    []string
	startErr error
	stopErr  error
}

func (m *mockProfiler) StartProfiling(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "start "+name)
	return m.startErr
}

func (m *mockProfiler) StopProfiling(name string) (*profiles.Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "stop "+name)
	if m.stopErr != nil {
		return nil, m.stopErr
	}
	return &profiles.Data{Name: name, SampleCount: 3, Raw: []byte("pprof")}, nil
}

func (m *mockProfiler) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// asyncMockProfiler delivers stop results from another goroutine once
// release is closed.
type asyncMockProfiler struct {
	mockProfiler
	release chan struct{}
}

func (m *asyncMockProfiler) StopProfilingAsync(name string, done func(*profiles.Data, error)) error {
	m.mu.Lock()
	m.calls = append(m.calls, "stop async "+name)
	err := m.stopErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	go func() {
		<-m.release
		done(&profiles.Data{Name: name, SampleCount: 5, Raw: []byte("pprof")}, nil)
	}()
	return nil
}
