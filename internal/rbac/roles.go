package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
	RoleAuditor  = "auditor" // hidden role
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsHiddenRole(role string) bool { return role == RoleAuditor }

// ReadRoles may inspect tracked calls and their history.
var ReadRoles = []string{RoleOperator, RoleViewer}

// WriteRoles may start calls and purge history.
var WriteRoles = []string{RoleOperator}

// IsKnownRole reports whether role is one tokens may carry.
func IsKnownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleViewer, RoleAuditor:
		return true
	default:
		return false
	}
}
