package coordinator

import (
	"fmt"
	"strings"
)

// Role is what a node does with the transfer characteristics of a peer.
// It is bound once at setup, never inferred from characteristic UUIDs.
type Role uint8

const (
	RoleSender Role = 1 << iota
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ParseRole parses "sender" or "receiver".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sender", "send":
		return RoleSender, nil
	case "receiver", "receive", "recv":
		return RoleReceiver, nil
	}
	return 0, fmt.Errorf("coordinator: unknown role %q", s)
}

// Roles is the set of roles a node runs. A node may run both at once.
type Roles uint8

// RolesOf builds a role set.
func RolesOf(rs ...Role) Roles {
	var out Roles
	for _, r := range rs {
		out |= Roles(r)
	}
	return out
}

// ParseRoles parses a list such as ["sender", "receiver"].
func ParseRoles(names []string) (Roles, error) {
	var out Roles
	for _, n := range names {
		r, err := ParseRole(n)
		if err != nil {
			return 0, err
		}
		out |= Roles(r)
	}
	return out, nil
}

// Has reports whether r is in the set.
func (rs Roles) Has(r Role) bool {
	return rs&Roles(r) != 0
}

// Empty reports whether no role is set.
func (rs Roles) Empty() bool {
	return rs == 0
}

func (rs Roles) String() string {
	var parts []string
	if rs.Has(RoleSender) {
		parts = append(parts, RoleSender.String())
	}
	if rs.Has(RoleReceiver) {
		parts = append(parts, RoleReceiver.String())
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Direction is which side of the BLE connection this node plays for a peer.
type Direction int

const (
	// DirectionCentral: we dialed the peer and write to its receive characteristic.
	DirectionCentral Direction = iota
	// DirectionPeripheral: the peer dialed us and subscribed to our send characteristic.
	DirectionPeripheral
)

func (d Direction) String() string {
	if d == DirectionPeripheral {
		return "peripheral"
	}
	return "central"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
