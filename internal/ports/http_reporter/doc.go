// Package http_reporter provides the HTTP control surface of the profiler.
// It reports and toggles the profiling mode and serves the finished profiles
// kept in the profile store, as JSON summaries or raw pprof data that
// `go tool pprof` reads directly.
//
// The handler is a gorilla/mux router and can be mounted on any HTTP router
// or used with the standard library's http package.
package http_reporter
