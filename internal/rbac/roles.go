package rbac

// Role names. Keep these stable; they are part of auth contracts with the
// marketplace collaborators.
const (
	RoleShopper    = "shopper"
	RoleMediator   = "mediator"
	RoleAgency     = "agency"
	RoleBrand      = "brand"
	RoleFinance    = "finance"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
