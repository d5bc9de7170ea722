package profiling

import (
	"io"
	"runtime/pprof"
)

// cpuProfiler abstracts the process-wide CPU profile so tests can mock it.
type cpuProfiler interface {
	StartCPUProfile(w io.Writer) error
	StopCPUProfile()
}

// pprofCPU delegates to runtime/pprof.
type pprofCPU struct{}

func (pprofCPU) StartCPUProfile(w io.Writer) error {
	return pprof.StartCPUProfile(w)
}

func (pprofCPU) StopCPUProfile() {
	pprof.StopCPUProfile()
}
