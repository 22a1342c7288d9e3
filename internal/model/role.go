package model

import (
	"errors"
	"strings"
)

type Role string

const (
	RoleClient   Role = "CLIENT"
	RoleEmployee Role = "EMPLOYEE"
	RoleAdmin    Role = "ADMIN"
)

var ErrUnknownRole = errors.New("unknown role")

// ParseRole accepts role names case-insensitively and rejects anything outside the enumeration.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := role.rank(); !ok {
		return "", ErrUnknownRole
	}
	return role, nil
}

func (r Role) Valid() bool {
	_, ok := r.rank()
	return ok
}

// Includes reports whether r grants everything other grants.
// ADMIN includes EMPLOYEE, which includes CLIENT.
func (r Role) Includes(other Role) bool {
	mine, ok := r.rank()
	if !ok {
		return false
	}
	theirs, ok := other.rank()
	if !ok {
		return false
	}
	return mine >= theirs
}

func (r Role) rank() (int, bool) {
	switch r {
	case RoleClient:
		return 1, true
	case RoleEmployee:
		return 2, true
	case RoleAdmin:
		return 3, true
	default:
		return 0, false
	}
}

func (r Role) String() string {
	return string(r)
}
