// Package reqhttp adapts net/http response writers to the request lifecycle
// events the profiling middleware needs: a one-shot notification when the
// handler chain has finished with a response, and the status code it wrote.
package reqhttp
