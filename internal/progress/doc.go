// Package progress carries delivery lifecycle events from the workers to
// pluggable sinks. Workers emit through a Hub that never blocks them; the hub
// batches events on its own goroutine and fans each batch out to every sink.
package progress
