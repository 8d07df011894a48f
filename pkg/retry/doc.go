// Package retry provides exponential backoff for transient failures.
//
// Do and DoWithResult retry an operation while it fails with an error the
// errors package classifies as transient (broker unavailable, connection
// lost, deadlines). Any other error ends the attempts at once. Backoff
// exposes the same delay sequence for long-running loops, such as a worker
// polling a broker, that must keep going after a failure but slow down
// while it persists.
//
// Presets:
//
//   - Startup(): connecting to the broker when a process starts
//   - Loop(): pacing a polling loop after broker errors
//
// All waits return early when the context is cancelled.
package retry
