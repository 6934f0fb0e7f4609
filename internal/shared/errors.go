package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName indicates a role name collision (case-insensitive).
	ErrDuplicateName = errors.New("duplicate role name")
	// ErrProtectedRole indicates an attempt to delete a system role.
	ErrProtectedRole = errors.New("system role cannot be deleted")
	// ErrRoleInUse indicates an attempt to delete a role with active assignees.
	ErrRoleInUse = errors.New("role has active user assignments")
	// ErrPermissionNotFound indicates a guard or commit referenced a catalog
	// key that does not exist. This is a configuration defect, not a policy
	// decision.
	ErrPermissionNotFound = errors.New("permission not in catalog")
	// ErrStoreUnavailable wraps transport failures from the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUnauthorized indicates the caller's own session is invalid. Distinct
	// from an access denied by policy.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// UserSafeMessage maps an error to a message that can be shown to an
// operator without leaking store internals.
func UserSafeMessage(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateName):
		return "A role with that name already exists."
	case errors.Is(err, ErrProtectedRole):
		return "System roles cannot be deleted."
	case errors.Is(err, ErrRoleInUse):
		return "Reassign users before deleting this role."
	case errors.Is(err, ErrPermissionNotFound):
		return "Unknown permission. Reload the page and try again."
	case errors.Is(err, ErrStoreUnavailable):
		return "The data store is unreachable. Please retry."
	case errors.Is(err, ErrNotFound):
		return "The requested record no longer exists."
	default:
		return "Something went wrong. Please retry."
	}
}
