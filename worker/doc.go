// Package worker runs queued background jobs.
//
// A Runtime pops jobs from the pending queue, moves them to the in-progress
// queue and dispatches them by category to a registered Handler. Handlers
// report progress through the queue entry while they work. When the
// runtime's context is cancelled, the running handler's subprocesses are
// terminated, the job is finalized as interrupted, and the loop exits.
//
// The handlers in this package build cache blocks (TASK_CACHE), refresh
// cached source descriptions (HAPI_INFO_CACHE) and regenerate the catalog
// files (LIST_REFRESH). USAGE jobs are accepted and finished as not
// implemented.
package worker
