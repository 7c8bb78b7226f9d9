package authz

import "estatedesk.io/dashboard/internal/domain"

// Capabilities is the per-role snapshot the dashboard uses to decide which
// tabs and controls to show. It is derived from the same rules as Authorize.
type Capabilities struct {
	Role                domain.Role   `json:"role"`
	ViewCommissionStats bool          `json:"view_commission_stats"`
	ManageUsers         bool          `json:"manage_users"`
	AssignableRoles     []domain.Role `json:"assignable_roles"`
	EditSystemSettings  bool          `json:"edit_system_settings"`
	EditReferenceData   bool          `json:"edit_reference_data"`
}

// CapabilitiesFor computes the capability snapshot of acting.
func CapabilitiesFor(acting domain.Role) Capabilities {
	caps := Capabilities{
		Role:                acting,
		ViewCommissionStats: CanViewCommissionStats(acting),
		ManageUsers:         CanManageUsers(acting),
		AssignableRoles:     []domain.Role{},
		EditSystemSettings:  Authorize(Request{Acting: acting, Resource: ResourceSystemSettings, Action: ActionEdit}).Allowed,
		EditReferenceData:   Authorize(Request{Acting: acting, Resource: ResourceReferenceData, Action: ActionEdit}).Allowed,
	}
	for _, r := range domain.Roles() {
		if CanAssignRole(acting, r) {
			caps.AssignableRoles = append(caps.AssignableRoles, r)
		}
	}
	return caps
}
