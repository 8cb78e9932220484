// Package identity defines the durable identity record attached to every
// authenticated connection and the directory used to resolve one from a
// credential subject.
package identity

import (
	"context"
	"errors"
)

// Role is the coarse authorization class of an identity.
type Role string

const (
	// RoleReporter identities send location updates.
	RoleReporter Role = "LOCATION"
	// RoleObserver identities follow reporters and receive their updates.
	RoleObserver Role = "ADMIN"
)

// ParseRole validates a role string from config or storage.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleReporter, RoleObserver:
		return Role(s), nil
	}
	return "", errors.New("identity: unknown role " + s)
}

// Identity is a durable user record. It is immutable for the lifetime of a
// connection; a reconnect re-resolves it.
type Identity struct {
	ID   int64
	Name string
	Role Role
}

// ErrUnknownIdentity is returned by a Directory when no record matches the
// presented subject.
var ErrUnknownIdentity = errors.New("identity: unknown identity")

// Directory resolves a credential subject to an identity record. Production
// deployments back this with the user store; this core only ever reads it.
type Directory interface {
	Resolve(ctx context.Context, id int64) (Identity, error)
}
