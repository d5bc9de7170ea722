// Package profiling binds CPU profiling sessions to units of work such as
// HTTP requests.
//
// A Mode is the switch deciding whether profiling happens at all. Recorders
// created while the mode is active use the real Profiler bound to the mode;
// recorders created while it is inactive use the Noop profiler and stay
// silent. A recorder keeps the binding it was created with, so toggling the
// mode never affects sessions already in flight.
//
// Engine is the runtime/pprof backed Profiler. Go permits a single CPU
// profile per process, so the engine shares one profile between all open
// sessions and attributes samples by the pprof label LabelKey. The profile is
// rotated on a goroutine owned by the engine, so opening and closing sessions
// never waits for the runtime.
package profiling
