// Package progress provides the job event primitives and the non-blocking hub
// that fans orchestrator activity out to pluggable sinks. Events are batched on
// a background goroutine so slow sinks (archives, Pub/Sub) never stall the
// monitor or scheduler that emit them.
package progress
