package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdministrator   = "administrator"
	RoleEditor          = "editor"
	RoleViewer          = "viewer"
	RoleSuperAdmin      = "super_admin"
	RoleCustomerSupport = "customer_support" // hidden role
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleCustomerSupport }
