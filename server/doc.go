// Package server is the dasflex request dispatcher.
//
// It maps the three calling conventions onto one data path:
//
//	/source/<id>/data?read.time.min=...        das3
//	/server?server=dataset&dataset=<id>&...    das2
//	/hapi/data?id=<id>&time.min=...            hapi
//	/ws/source/<id>/data?...                   das3 over a websocket
//
// Every data request goes through the same steps. The form is collected
// and screened for shell metacharacters, the source definition is loaded,
// foreign keys are translated and declared parameters validated. Access
// rules are then checked, and the block cache is consulted. The resulting
// pipeline is streamed to the client with headers deferred until the first
// byte, so a reader that fails before producing output still gets a proper
// error status.
//
// Errors are rendered in the envelope the client can read: das2 or das3
// exception packets for stream endpoints, JSON for hapi and metadata
// endpoints and HTML for browsers.
//
// The server also serves the source metadata endpoints (flex.json,
// dsdf.d2t, form.html), directory listings, the catalog files written by
// LIST_REFRESH jobs, /health and /metrics.
package server
