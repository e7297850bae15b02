package domain

// Role is the staff role carried in the auth token. The integrity engine
// does not manage roles; it only gates operations on them.
type Role string

const (
	RoleDoorStaff Role = "door_staff"
	RoleVIPHost   Role = "vip_host"
	RoleManager   Role = "manager"
	RoleOwner     Role = "owner"

	// RoleSystem marks ledger entries authored by the engine itself, such as
	// detector-raised alerts from a background rescan. It holds no
	// capabilities and is never accepted from an auth token.
	RoleSystem Role = "system"
)

// IsValid reports whether the role is one of the known staff roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleDoorStaff, RoleVIPHost, RoleManager, RoleOwner:
		return true
	}
	return false
}

// Capability names a gated operation. Routes are guarded by an explicit
// capability predicate rather than role inheritance so the permission matrix
// stays auditable in one place.
type Capability string

const (
	CapSessionWrite    Capability = "session:write"
	CapAlertRead       Capability = "alert:read"
	CapAlertManage     Capability = "alert:manage"
	CapAuditRead       Capability = "audit:read"
	CapAuditExport     Capability = "audit:export"
	CapChainHaltClear  Capability = "audit:halt_clear"
	CapPerformanceRead Capability = "performance:read"
)

// capabilities is the full permission matrix. Higher roles list their grants
// explicitly; there is no implicit inheritance.
var capabilities = map[Role]map[Capability]bool{
	RoleDoorStaff: {
		CapSessionWrite: true,
	},
	RoleVIPHost: {
		CapSessionWrite: true,
		CapAlertRead:    true,
	},
	RoleManager: {
		CapSessionWrite:    true,
		CapAlertRead:       true,
		CapAlertManage:     true,
		CapAuditRead:       true,
		CapPerformanceRead: true,
	},
	RoleOwner: {
		CapSessionWrite:    true,
		CapAlertRead:       true,
		CapAlertManage:     true,
		CapAuditRead:       true,
		CapAuditExport:     true,
		CapChainHaltClear:  true,
		CapPerformanceRead: true,
	},
}

// Can reports whether the role holds the capability.
func (r Role) Can(c Capability) bool {
	return capabilities[r][c]
}
