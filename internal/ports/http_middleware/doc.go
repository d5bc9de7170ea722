// Package http_middleware provides HTTP middleware that runs a CPU profiling
// session for every request. Each session is named after the request URL,
// started before the wrapped handler runs and stopped once the response is
// finished. The profile itself is stored when the profiler delivers it.
//
// The middleware is designed to be used with the standard library's
// net/http package and writes finished profiles to the application's
// profile store.
package http_middleware
