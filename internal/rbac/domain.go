package rbac

import "time"

// Action identifies the operation being gated on a catalog node.
type Action string

// Supported actions.
const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// Valid reports whether the action is one of the supported values.
func (a Action) Valid() bool {
	switch a {
	case ActionRead, ActionWrite, ActionDelete:
		return true
	}
	return false
}

// Key identifies a protected operation as a (menu, submenu, action) triple.
// An empty Submenu addresses the bare menu node; a guard on the parent never
// implies a grant on a child.
type Key struct {
	Menu    string `json:"menu"`
	Submenu string `json:"submenu,omitempty"`
	Action  Action `json:"action"`
}

// String renders the key in "menu/submenu:action" form for logs and events.
func (k Key) String() string {
	if k.Submenu == "" {
		return k.Menu + ":" + string(k.Action)
	}
	return k.Menu + "/" + k.Submenu + ":" + string(k.Action)
}

// Permission is an immutable catalog entry with its durable store identity.
type Permission struct {
	ID          int64
	Key         Key
	Description string
}

// SystemKeyAdmin marks the Administrator role. Evaluation branches on this
// marker, never on the display name, so renaming the role cannot break the
// bypass.
const SystemKeyAdmin = "admin"

// RoleKind is the tagged variant evaluation branches on.
type RoleKind int

// Role kinds.
const (
	KindStandard RoleKind = iota
	KindSystemAdmin
)

// Role represents a named permission grouping.
type Role struct {
	ID          int64
	Name        string
	Description string
	IsSystem    bool
	SystemKey   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Kind resolves the evaluation variant for the role.
func (r Role) Kind() RoleKind {
	if r.IsSystem && r.SystemKey == SystemKeyAdmin {
		return KindSystemAdmin
	}
	return KindStandard
}

// RoleGrant is one stored (role, permission) row. Absence of a row means the
// permission is not granted.
type RoleGrant struct {
	PermissionID int64
	Key          Key
	CanAccess    bool
}

// GrantUpdate is one entry of a commit batch sent to the matrix store.
type GrantUpdate struct {
	Key       Key
	CanAccess bool
}

// Grant is the tri-state result of a matrix lookup. Storage reports Unset
// for a missing row; only the evaluator boundary maps that to deny, so a
// storage layer can never accidentally default-allow.
type Grant struct {
	set     bool
	allowed bool
}

// Explicit returns a grant carrying a stored value.
func Explicit(allowed bool) Grant {
	return Grant{set: true, allowed: allowed}
}

// Unset returns the missing-row grant.
func Unset() Grant {
	return Grant{}
}

// Known reports whether a stored row backed this grant.
func (g Grant) Known() bool {
	return g.set
}

// Allowed resolves the grant at the evaluator boundary: a missing row denies.
func (g Grant) Allowed() bool {
	return g.set && g.allowed
}

// Assignment links a user to a role. Rows are never hard-deleted;
// reassignment flips IsActive on the prior row.
type Assignment struct {
	UserID    int64
	RoleID    int64
	IsActive  bool
	CreatedAt time.Time
}
