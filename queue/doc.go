// Package queue implements the cache-fill work queue.
//
// Jobs travel as fixed-field, pipe-delimited records. The first seven fields
// are common to every category:
//
//	0 submit time (ISO, ms)   4 remote address
//	1 server host             5 user
//	2 server pid              6 category
//	3 requesting script
//
// followed by category arguments and, once a worker picks the job up,
// start time, status and progress, then end time and exit code.
//
// A Broker offers list semantics over named queues: Push appends, and
// PopBlocking atomically moves the head of one queue onto another so
// that exactly one worker receives each job. MemoryBroker serves tests and
// single-node deployments; NATSBroker keeps the queues in a JetStream
// key/value bucket shared by any number of servers and workers.
//
// Client layers coalescing, progress updates and completed-job retention
// on top of a Broker.
package queue
