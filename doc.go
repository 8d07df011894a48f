// Package dasflex is a das2/das3/HAPI data server. It answers data requests
// by running the reader pipelines that data source definitions describe,
// and streams their output straight back to the client.
//
// # Architecture
//
// A request travels through the packages in this order:
//
//	server      routing, protocol conventions, error envelopes
//	source      definition loading ($include, dsdf synthesis, parameter checks)
//	auth        access rules of protected sources
//	blockcache  cache lookup; misses become fill jobs on the work queue
//	pipeline    command selection, ordering and mime chain checks
//	template    #[...] substitution into command lines
//	executor    subprocess chain, streaming sinks, in-band exceptions
//
// Cache fills, info files and catalog refreshes run out of band:
//
//	queue       job records and the pending / in-progress / completed queues
//	worker      pop loop and the per-category handlers
//	natsclient  NATS connection and JetStream KV access for the shared broker
//
// # Error Handling
//
// Request failures carry an errors.Kind. The kind decides the HTTP status
// while headers are still unsent, and the exception type written into the
// stream once data has started to flow. Infrastructure errors are classified
// transient, invalid or fatal, which drives retries of broker operations.
//
// # Deployment
//
// A single node runs "dasflex serve" with the memory broker and embedded
// workers. Larger installs point several servers and "dasflex worker"
// processes at one NATS server so that a block missed on any server is
// built once.
package dasflex
