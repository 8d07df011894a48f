// Package errors provides the error handling patterns shared by the dasflex
// server, worker and libraries.
//
// # Retry classification
//
// Broker and subprocess plumbing classify failures as Transient (retryable),
// Invalid (bad input) or Fatal with the Wrap helpers:
//
//	if err := kv.Put(ctx, key, value); err != nil {
//	    return errors.WrapTransient(err, "NATSBroker", "Push", "kv put")
//	}
//
// Wrapped messages follow "component.method: action failed: cause".
//
// # Request kinds
//
// Failures that reach a client carry a Kind which decides the HTTP status and
// the exception type written into das streams:
//
//	QueryError        400  BadRequest
//	AuthRequired      401  Unauthorized
//	Forbidden         403  Forbidden
//	NotFoundError     404  NotFound
//	RemoteServer      301  (redirect, or 404 when redirects are disabled)
//	TodoError         501  NotImplemented
//	ServerError       500  ServerError
//	NoDataInInterval  200  NoDataInInterval
//
// Anything without a Kind is treated as a ServerError:
//
//	status := errors.HTTPStatus(err)
//	kind := errors.KindOf(err)
package errors
