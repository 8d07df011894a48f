// Package auth decides whether a request may read a source.
//
// Sources opt in with protocol.authRequired or an authorization section.
// Authorization names the users and groups allowed in, and may gate
// access on the age of the requested data: a params rule with max_age
// only demands credentials when the requested time lies within max_age of
// now. Credential checks are delegated to a Backend.
package auth

import (
	"log/slog"
	"slices"
	"time"

	"github.com/das-developers/das2py-server-sub000/dastime"
	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/source"
)

// Result is the outcome of an access check.
type Result int

const (
	OK Result = iota
	AuthRequired
	Forbidden
	ServerErr
)

func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case AuthRequired:
		return "auth_required"
	case Forbidden:
		return "forbidden"
	default:
		return "server_error"
	}
}

// ErrBadCredentials is returned by backends for an unknown user or a
// wrong password.
var ErrBadCredentials = errors.New("bad credentials")

// Credentials are the basic-auth values of a request.
type Credentials struct {
	User     string
	Password string
	Present  bool
}

// Backend verifies passwords and group membership.
type Backend interface {
	Verify(user, password string) error
	InGroup(user, group string) (bool, error)
}

// Authorizer evaluates source access rules against a Backend.
type Authorizer struct {
	backend Backend
	realm   string
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithRealm sets the realm used when a source names none.
func WithRealm(realm string) Option {
	return func(a *Authorizer) {
		a.realm = realm
	}
}

// WithClock overrides time.Now for age rules.
func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) {
		a.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authorizer) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Authorizer. A nil backend rejects every protected
// request with a server error.
func New(backend Backend, opts ...Option) *Authorizer {
	a := &Authorizer{
		backend: backend,
		realm:   "dasflex",
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "auth")
	return a
}

// Realm returns the basic-auth realm for def.
func (a *Authorizer) Realm(def *source.SourceDef) string {
	if def != nil && def.Protocol.AuthRealm != "" {
		return def.Protocol.AuthRealm
	}
	return a.realm
}

// Protected reports whether a request for params needs credentials.
func (a *Authorizer) Protected(def *source.SourceDef, params map[string]string) bool {
	need := def.Protocol.AuthRequired
	authz := def.Authorization
	if authz == nil {
		return need
	}
	if len(authz.Params) == 0 {
		return need || len(authz.UserIs) > 0 || len(authz.UserInGroup) > 0
	}
	now := a.now()
	for _, rule := range authz.Params {
		if a.recent(rule, params, now) {
			return true
		}
	}
	return false
}

// recent reports whether the requested value of rule.Key falls inside the
// embargo window. Unparseable ages or values are treated as recent.
func (a *Authorizer) recent(rule source.ParamRule, params map[string]string, now time.Time) bool {
	v, ok := params[rule.Key]
	if !ok {
		return false
	}
	age, err := dastime.ParseResolution(rule.MaxAge)
	if err != nil {
		a.logger.Warn("Bad max_age in authorization rule", "key", rule.Key, "max_age", rule.MaxAge)
		return true
	}
	t, err := dastime.Parse(v)
	if err != nil {
		return true
	}
	return t.After(now.Add(-time.Duration(age * float64(time.Second))))
}

// Check decides access. The returned error carries the kind matching the
// result and is nil for OK.
func (a *Authorizer) Check(def *source.SourceDef, params map[string]string, cred Credentials) (Result, error) {
	if !a.Protected(def, params) {
		return OK, nil
	}
	if a.backend == nil {
		return ServerErr, errors.Server("no authentication backend configured")
	}
	if !cred.Present || cred.User == "" {
		return AuthRequired, errors.AuthRequired("authentication required for %s", def.LocalID)
	}
	if err := a.backend.Verify(cred.User, cred.Password); err != nil {
		if errors.Is(err, ErrBadCredentials) {
			a.logger.Info("Rejected credentials", "user", cred.User, "source", def.LocalID)
			return AuthRequired, errors.AuthRequired("invalid credentials for %s", def.LocalID)
		}
		a.logger.Error("Authentication backend failed", "error", err)
		return ServerErr, errors.WithKind(errors.KindServer, err, "authentication failed")
	}

	authz := def.Authorization
	if authz == nil || (len(authz.UserIs) == 0 && len(authz.UserInGroup) == 0) {
		return OK, nil
	}
	if slices.Contains(authz.UserIs, cred.User) {
		return OK, nil
	}
	for _, g := range authz.UserInGroup {
		in, err := a.backend.InGroup(cred.User, g)
		if err != nil {
			return ServerErr, errors.WithKind(errors.KindServer, err, "group lookup failed")
		}
		if in {
			return OK, nil
		}
	}
	return Forbidden, errors.Forbidden("user %s may not read %s", cred.User, def.LocalID)
}
