package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the protocol-facing category of a request failure.
type Kind int

const (
	// KindServer is a misconfiguration, broker or subprocess failure.
	KindServer Kind = iota
	// KindQuery is a client-correctable input problem.
	KindQuery
	// KindAuthRequired means credentials are needed.
	KindAuthRequired
	// KindForbidden means the credentials do not grant access.
	KindForbidden
	// KindNotFound is an unknown source or directory.
	KindNotFound
	// KindRemoteServer means the source is owned by another host.
	KindRemoteServer
	// KindTodo marks a path that is not implemented.
	KindTodo
	// KindNoData is a successful execution with an empty result.
	KindNoData
)

var kindNames = map[Kind]string{
	KindServer:       "ServerError",
	KindQuery:        "BadRequest",
	KindAuthRequired: "Unauthorized",
	KindForbidden:    "Forbidden",
	KindNotFound:     "NotFound",
	KindRemoteServer: "RemoteServer",
	KindTodo:         "NotImplemented",
	KindNoData:       "NoDataInInterval",
}

// String returns the exception type name used in das stream packets.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "ServerError"
}

// Status maps the kind onto an HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindQuery:
		return http.StatusBadRequest
	case KindAuthRequired:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRemoteServer:
		return http.StatusMovedPermanently
	case KindTodo:
		return http.StatusNotImplemented
	case KindNoData:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// Error is a request failure carrying its Kind.
type Error struct {
	Kind    Kind
	Message string
	// URL is the redirect target for KindRemoteServer.
	URL string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newKind(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Query reports a client input problem (HTTP 400).
func Query(format string, args ...any) error { return newKind(KindQuery, format, args...) }

// AuthRequired reports missing credentials (HTTP 401).
func AuthRequired(format string, args ...any) error {
	return newKind(KindAuthRequired, format, args...)
}

// Forbidden reports insufficient credentials (HTTP 403).
func Forbidden(format string, args ...any) error { return newKind(KindForbidden, format, args...) }

// NotFound reports an unknown source or directory (HTTP 404).
func NotFound(format string, args ...any) error { return newKind(KindNotFound, format, args...) }

// Todo reports an unimplemented path (HTTP 501).
func Todo(format string, args ...any) error { return newKind(KindTodo, format, args...) }

// Server reports an internal failure (HTTP 500).
func Server(format string, args ...any) error { return newKind(KindServer, format, args...) }

// NoData reports an empty but successful result.
func NoData(format string, args ...any) error { return newKind(KindNoData, format, args...) }

// RemoteServer reports that a source lives on another server at url.
func RemoteServer(url, format string, args ...any) error {
	e := newKind(KindRemoteServer, format, args...)
	e.URL = url
	return e
}

// WithKind attaches a kind to an existing error, keeping it in the chain.
func WithKind(k Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	e := newKind(k, format, args...)
	e.Err = err
	return e
}

// KindOf returns the outermost Kind in the chain; unclassified errors are
// KindServer.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServer
}

// HTTPStatus maps an error onto an HTTP status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return KindOf(err).Status()
}

// RedirectURL returns the redirect target of a RemoteServer error.
func RedirectURL(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRemoteServer {
		return e.URL, true
	}
	return "", false
}

// Message returns the user-facing message of a kinded error, or the full
// error text otherwise.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
