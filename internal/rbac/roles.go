package rbac

// Role names are embedded in issued tokens; renaming one invalidates them.
const (
	RoleTenantAdmin     = "tenant_admin"
	RoleOperator        = "operator"
	RoleAnalyst         = "analyst"
	RoleSuperAdmin      = "super_admin"
	RoleNetworkOperator = "network_operator"
)

type grant struct {
	// crossTenant roles may scope a request to any tenant.
	crossTenant bool
	// hidden roles never pass a check that does not list them.
	hidden bool
}

var grants = map[string]grant{
	RoleTenantAdmin:     {},
	RoleOperator:        {},
	RoleAnalyst:         {},
	RoleSuperAdmin:      {crossTenant: true},
	RoleNetworkOperator: {hidden: true},
}

// Known reports whether role is one this service issues.
func Known(role string) bool {
	_, ok := grants[role]
	return ok
}

func IsSuperAdmin(role string) bool { return grants[role].crossTenant }

func IsHiddenRole(role string) bool { return grants[role].hidden }
