package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/source"
)

func testBackend(t *testing.T) *Static {
	t.Helper()
	alice, err := HashPassword("wonderland", bcrypt.MinCost)
	require.NoError(t, err)
	bob, err := HashPassword("builder", bcrypt.MinCost)
	require.NoError(t, err)
	return NewStatic(
		map[string]string{"alice": alice, "bob": bob},
		map[string][]string{"juno": {"alice"}},
	)
}

func TestStatic(t *testing.T) {
	s := testBackend(t)
	assert.NoError(t, s.Verify("alice", "wonderland"))
	assert.ErrorIs(t, s.Verify("alice", "nope"), ErrBadCredentials)
	assert.ErrorIs(t, s.Verify("mallory", "x"), ErrBadCredentials)

	in, err := s.InGroup("alice", "juno")
	require.NoError(t, err)
	assert.True(t, in)
	in, _ = s.InGroup("bob", "juno")
	assert.False(t, in)
}

func TestCheck(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	a := New(testBackend(t), WithClock(func() time.Time { return now }), WithRealm("site"))

	open := &source.SourceDef{LocalID: "open"}
	group := &source.SourceDef{
		LocalID:       "juno/waves",
		Protocol:      source.Protocol{AuthRequired: true, AuthRealm: "Juno"},
		Authorization: &source.Authorization{UserInGroup: []string{"juno"}, UserIs: []string{"carol"}},
	}
	anyUser := &source.SourceDef{LocalID: "members", Protocol: source.Protocol{AuthRequired: true}}
	embargo := &source.SourceDef{
		LocalID: "embargoed",
		Authorization: &source.Authorization{
			UserIs: []string{"alice"},
			Params: []source.ParamRule{{Key: source.KeyTimeMax, MaxAge: "30 day"}},
		},
	}

	aliceCred := Credentials{User: "alice", Password: "wonderland", Present: true}
	bobCred := Credentials{User: "bob", Password: "builder", Present: true}
	recent := map[string]string{source.KeyTimeMax: "2024-05-20"}
	old := map[string]string{source.KeyTimeMax: "2024-01-01"}

	tests := []struct {
		name   string
		def    *source.SourceDef
		params map[string]string
		cred   Credentials
		want   Result
		kind   errors.Kind
	}{
		{"open source", open, nil, Credentials{}, OK, 0},
		{"no credentials", group, nil, Credentials{}, AuthRequired, errors.KindAuthRequired},
		{"wrong password", group, nil, Credentials{User: "alice", Password: "x", Present: true}, AuthRequired, errors.KindAuthRequired},
		{"group member", group, nil, aliceCred, OK, 0},
		{"not in group", group, nil, bobCred, Forbidden, errors.KindForbidden},
		{"any valid user", anyUser, nil, bobCred, OK, 0},
		{"old data is public", embargo, old, Credentials{}, OK, 0},
		{"recent data needs login", embargo, recent, Credentials{}, AuthRequired, errors.KindAuthRequired},
		{"recent data wrong user", embargo, recent, bobCred, Forbidden, errors.KindForbidden},
		{"recent data allowed user", embargo, recent, aliceCred, OK, 0},
		{"unparseable time is protected", embargo, map[string]string{source.KeyTimeMax: "soon"}, Credentials{}, AuthRequired, errors.KindAuthRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Check(tt.def, tt.params, tt.cred)
			assert.Equal(t, tt.want, got)
			if tt.want == OK {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.kind, errors.KindOf(err))
		})
	}

	assert.Equal(t, "Juno", a.Realm(group))
	assert.Equal(t, "site", a.Realm(anyUser))
}

func TestCheck_NoBackend(t *testing.T) {
	a := New(nil)
	def := &source.SourceDef{LocalID: "x", Protocol: source.Protocol{AuthRequired: true}}

	got, err := a.Check(def, nil, Credentials{User: "a", Present: true})
	assert.Equal(t, ServerErr, got)
	assert.Equal(t, errors.KindServer, errors.KindOf(err))
	assert.Equal(t, "server_error", got.String())
}
