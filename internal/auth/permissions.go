package auth

import "slices"

// Role is the access level carried in a token.
type Role string

// Roles, weakest first.
const (
	// RoleViewer may read server, driver and history state.
	RoleViewer Role = "viewer"

	// RoleOperator may also start and stop the server and drivers.
	RoleOperator Role = "operator"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleViewer || r == RoleOperator
}

// Permission is a named capability checked by the HTTP API.
type Permission string

const (
	PermStatusRead    Permission = "status:read"
	PermServerControl Permission = "server:control"
	PermDriverControl Permission = "driver:control"
	PermCommandSend   Permission = "command:send"
	PermHistoryRead   Permission = "history:read"
	PermEventsStream  Permission = "events:stream"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermStatusRead,
		PermHistoryRead,
		PermEventsStream,
	},
	RoleOperator: {
		PermStatusRead,
		PermHistoryRead,
		PermEventsStream,
		PermServerControl,
		PermDriverControl,
		PermCommandSend,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}
