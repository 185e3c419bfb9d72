package mpcstep

import "fmt"

// Role is the protocol position a Context plays. The two sides of one
// operation must take opposite roles. RoleP1 initiates every operation.
type Role uint8

const (
	RoleP1 Role = 1
	RoleP2 Role = 2
)

func (r Role) valid() bool { return r == RoleP1 || r == RoleP2 }

// Peer returns the counterpart's role.
func (r Role) Peer() Role {
	if r == RoleP1 {
		return RoleP2
	}
	return RoleP1
}

func (r Role) String() string {
	switch r {
	case RoleP1:
		return "p1"
	case RoleP2:
		return "p2"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}
