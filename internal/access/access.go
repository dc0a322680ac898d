// Package access defines the explicit capability values passed into every
// mutating ledger, issuer and governance operation.
package access

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Role is a privilege that gates a class of operations.
type Role uint8

const (
	RoleAdmin Role = 1 << iota
	RoleMinter
	RolePaymentRecorder
	RoleRegulator
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleMinter:
		return "minter"
	case RolePaymentRecorder:
		return "payment-recorder"
	case RoleRegulator:
		return "regulator"
	default:
		return "unknown"
	}
}

// Caller identifies who is invoking an operation and what it may do.
type Caller struct {
	Address common.Address
	Roles   Role
}

// Account returns an unprivileged caller.
func Account(addr common.Address) Caller {
	return Caller{Address: addr}
}

// Grant returns a caller holding the given roles.
func Grant(addr common.Address, roles ...Role) Caller {
	c := Caller{Address: addr}
	for _, r := range roles {
		c.Roles |= r
	}
	return c
}

// Has reports whether the caller holds role.
func (c Caller) Has(role Role) bool {
	return c.Roles&role == role
}

// HasAny reports whether the caller holds at least one of roles.
func (c Caller) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if c.Has(r) {
			return true
		}
	}
	return false
}

// Valid reports whether the caller carries a non-zero identity.
func (c Caller) Valid() bool {
	return c.Address != (common.Address{})
}

func (c Caller) String() string {
	var names []string
	for _, r := range []Role{RoleAdmin, RoleMinter, RolePaymentRecorder, RoleRegulator} {
		if c.Has(r) {
			names = append(names, r.String())
		}
	}
	if len(names) == 0 {
		return c.Address.Hex()
	}
	return c.Address.Hex() + "[" + strings.Join(names, ",") + "]"
}
