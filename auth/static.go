package auth

import (
	"slices"

	"golang.org/x/crypto/bcrypt"
)

// Static is a Backend over fixed maps of bcrypt hashes and group members.
type Static struct {
	users  map[string]string
	groups map[string][]string
}

// NewStatic creates a Static backend. users maps names to bcrypt hashes;
// groups maps group names to members.
func NewStatic(users map[string]string, groups map[string][]string) *Static {
	return &Static{users: users, groups: groups}
}

// Verify checks a password against the stored hash.
func (s *Static) Verify(user, password string) error {
	hash, ok := s.users[user]
	if !ok {
		return ErrBadCredentials
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == bcrypt.ErrMismatchedHashAndPassword {
		return ErrBadCredentials
	}
	return err
}

// InGroup reports group membership.
func (s *Static) InGroup(user, group string) (bool, error) {
	return slices.Contains(s.groups[group], user), nil
}

// HashPassword returns a bcrypt hash suitable for the users map.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
