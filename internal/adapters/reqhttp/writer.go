package reqhttp

import (
	"net/http"
	"sync"
)

// FinishWriter wraps an http.ResponseWriter, captures the status code and
// runs the registered callbacks once the response is finished.
//
// The owner of the writer signals completion with Finish, typically deferred
// around the handler chain. A response whose handler never returns is never
// finished and its callbacks never run.
type FinishWriter struct {
	http.ResponseWriter
	statusCode int

	once      sync.Once
	mu        sync.Mutex
	callbacks []func()
}

// NewFinishWriter wraps w. The status code defaults to 200.
func NewFinishWriter(w http.ResponseWriter) *FinishWriter {
	return &FinishWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (fw *FinishWriter) WriteHeader(code int) {
	fw.statusCode = code
	fw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer when it supports flushing.
func (fw *FinishWriter) Flush() {
	if f, ok := fw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (fw *FinishWriter) Unwrap() http.ResponseWriter {
	return fw.ResponseWriter
}

// StatusCode returns the status written so far.
func (fw *FinishWriter) StatusCode() int {
	return fw.statusCode
}

// OnFinish registers fn to run when the response finishes. Callbacks run in
// registration order. Registering after Finish has no effect.
func (fw *FinishWriter) OnFinish(fn func()) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.callbacks = append(fw.callbacks, fn)
}

// Finish runs the callbacks. Only the first call has an effect.
func (fw *FinishWriter) Finish() {
	fw.once.Do(func() {
		fw.mu.Lock()
		callbacks := fw.callbacks
		fw.callbacks = nil
		fw.mu.Unlock()

		for _, fn := range callbacks {
			fn()
		}
	})
}
