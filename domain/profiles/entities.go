package profiles

import (
	"time"
)

// Data is the result of one profiling session as returned by a profiler.
// Raw holds a gzipped pprof protobuf; it is nil when no samples were kept.
type Data struct {
	Name        string
	SampleCount int
	Raw         []byte
}

// Record is a finished profiling session together with the request it measured.
type Record struct {
	ID          uint64
	Name        string
	StartTime   time.Time
	StopTime    time.Time
	Duration    time.Duration
	StatusCode  int
	SampleCount int
	Raw         []byte
}

// Summary is the read-only view of a Record served by the control API.
type Summary struct {
	ID          uint64    `json:"id"`
	Name        string    `json:"name"`
	StartTime   time.Time `json:"start_time"`
	StopTime    time.Time `json:"stop_time"`
	DurationMs  int64     `json:"duration_ms"`
	StatusCode  int       `json:"status_code,omitempty"`
	SampleCount int       `json:"sample_count"`
	SizeBytes   int       `json:"size_bytes"`
}

// Summarize returns the Summary of r.
func (r Record) Summarize() Summary {
	return Summary{
		ID:          r.ID,
		Name:        r.Name,
		StartTime:   r.StartTime,
		StopTime:    r.StopTime,
		DurationMs:  r.Duration.Milliseconds(),
		StatusCode:  r.StatusCode,
		SampleCount: r.SampleCount,
		SizeBytes:   len(r.Raw),
	}
}
