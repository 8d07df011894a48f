// Package executor runs solved pipelines and streams their output.
//
// A Runner starts the pipeline under /bin/sh in its own process group and
// pumps stdout into a Sink while collecting stderr. Sinks defer their
// headers until the first stdout byte arrives, so a pipeline that fails
// before producing output can still be answered with a proper error
// status. Once bytes have gone out, failures can only be reported in-band
// with Exception packets.
//
// Cancelling the context terminates the whole process group.
package executor
