// Package authz is the single authorization decision point of the dashboard.
//
// Every screen and every mutation consults the gate before rendering
// sensitive data or calling the CRM, so the dashboard never offers a control
// the CRM would reject. The CRM remains the final authority; a CRM 403 is
// surfaced with DeniedMessage.
//
// The gate is pure: decisions depend only on the roles and the action.
package authz

import (
	"estatedesk.io/dashboard/internal/domain"
	apperrors "estatedesk.io/dashboard/internal/pkg/errors"
)

// Resource is a class of sensitive data or settings.
type Resource string

const (
	ResourceCommissionStats Resource = "commission-stats"
	ResourceUserAccounts    Resource = "user-accounts"
	ResourceSystemSettings  Resource = "system-settings"
	ResourceReferenceData   Resource = "reference-data"
	ResourceLogLevel        Resource = "log-level"
)

// Action is what the acting user attempts on a resource.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Request describes one authorization question.
type Request struct {
	Acting   domain.Role
	Resource Resource
	Action   Action

	// TargetRole is the role being assigned (user create/edit).
	TargetRole domain.Role
	// ExistingRole is the current role of the account being edited or deleted.
	ExistingRole domain.Role
	// Subject names the reference data kind in messages ("parishes",
	// "budget tiers"). Optional.
	Subject string
}

// Decision is the gate's answer. Reason is set on denial and is meant to be
// shown to the user verbatim.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Err converts a denial into an ACCESS_DENIED AppError; nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperrors.ErrAccessDenied(d.Reason)
}

// CanViewCommissionStats reports whether acting may see commission figures.
func CanViewCommissionStats(acting domain.Role) bool {
	return acting.AtLeast(domain.RoleManager)
}

// CanManageUsers reports whether acting may open user management at all.
func CanManageUsers(acting domain.Role) bool {
	return acting.AtLeast(domain.RoleManager)
}

// CanAssignRole reports whether acting may give target to an account.
// AGENT and MANAGER are assignable by MANAGER or ADMIN; ADMIN only by ADMIN.
func CanAssignRole(acting, target domain.Role) bool {
	if !CanManageUsers(acting) {
		return false
	}
	switch target {
	case domain.RoleAgent:
		return true
	case domain.RoleManager:
		return acting.AtLeast(domain.RoleManager)
	case domain.RoleAdmin:
		return acting == domain.RoleAdmin
	default:
		return false
	}
}

// CanEditUser reports whether acting may change an account currently holding
// existing so that it ends up with newRole. Non-admins never touch admin
// accounts, even to leave the role unchanged.
func CanEditUser(acting, existing, newRole domain.Role) bool {
	if acting == domain.RoleAgent {
		return false
	}
	if existing == domain.RoleAdmin && acting != domain.RoleAdmin {
		return false
	}
	return CanAssignRole(acting, newRole)
}

// Authorize answers req with a reasoned decision.
func Authorize(req Request) Decision {
	if !req.Acting.Valid() {
		return deny("Your account has no recognised role. Please contact your administrator.")
	}

	switch req.Resource {
	case ResourceCommissionStats:
		if req.Action != ActionView {
			return deny("Commission statistics are read-only.")
		}
		if !CanViewCommissionStats(req.Acting) {
			return deny("Commission statistics are available to managers and administrators.")
		}
		return allow()

	case ResourceUserAccounts:
		return authorizeUsers(req)

	case ResourceSystemSettings:
		if req.Action == ActionView {
			return allow()
		}
		if req.Acting != domain.RoleAdmin {
			return deny(DeniedMessage(ResourceSystemSettings, req.Action, ""))
		}
		return allow()

	case ResourceReferenceData:
		if req.Action == ActionView {
			return allow()
		}
		if !req.Acting.AtLeast(domain.RoleManager) {
			return deny(DeniedMessage(ResourceReferenceData, req.Action, req.Subject))
		}
		return allow()

	case ResourceLogLevel:
		if req.Acting != domain.RoleAdmin {
			return deny(DeniedMessage(ResourceLogLevel, req.Action, ""))
		}
		return allow()

	default:
		return deny("You are not authorized to perform this action.")
	}
}

// AuthorizeRoute answers whether acting may attempt action on resource at
// all, before any target is known. It guards whole route groups; the
// target-dependent rules (role assignment, admin accounts) are left to
// Authorize once the service has the target in hand.
func AuthorizeRoute(acting domain.Role, resource Resource, action Action) Decision {
	if resource == ResourceUserAccounts && acting.Valid() {
		if !CanManageUsers(acting) {
			return deny(DeniedMessage(ResourceUserAccounts, action, ""))
		}
		return allow()
	}
	return Authorize(Request{Acting: acting, Resource: resource, Action: action})
}

func authorizeUsers(req Request) Decision {
	switch req.Action {
	case ActionView:
		if !CanManageUsers(req.Acting) {
			return deny(DeniedMessage(ResourceUserAccounts, ActionView, ""))
		}
		return allow()

	case ActionCreate:
		if !CanManageUsers(req.Acting) {
			return deny(DeniedMessage(ResourceUserAccounts, ActionCreate, ""))
		}
		if !CanAssignRole(req.Acting, req.TargetRole) {
			return deny(assignDenial(req.TargetRole, "create other Admin users"))
		}
		return allow()

	case ActionEdit, ActionDelete:
		if !CanManageUsers(req.Acting) {
			return deny(DeniedMessage(ResourceUserAccounts, req.Action, ""))
		}
		if req.ExistingRole == domain.RoleAdmin && req.Acting != domain.RoleAdmin {
			return deny("Only Admin users can edit other Admin users.")
		}
		newRole := req.TargetRole
		if req.Action == ActionDelete || newRole == "" {
			newRole = req.ExistingRole
		}
		if !CanEditUser(req.Acting, req.ExistingRole, newRole) {
			return deny(assignDenial(newRole, "create or promote users to Admin"))
		}
		return allow()

	default:
		return deny("You are not authorized to perform this action.")
	}
}

func assignDenial(target domain.Role, adminPhrase string) string {
	switch target {
	case domain.RoleAdmin:
		return "Only Admin users can " + adminPhrase + "."
	case domain.RoleManager:
		return "Only Manager or Admin users can create Manager users."
	default:
		return "The requested role is not a valid role."
	}
}

// DeniedMessage is the explanation shown when action on resource is refused,
// whether by the gate or by the CRM (HTTP 403). subject overrides the
// reference data noun.
func DeniedMessage(resource Resource, action Action, subject string) string {
	const contact = " Please contact your administrator."

	switch resource {
	case ResourceCommissionStats:
		return "You are not authorized to view commission statistics." + contact
	case ResourceUserAccounts:
		switch action {
		case ActionView:
			return "You are not authorized to view users." + contact
		case ActionCreate:
			return "You are not authorized to add users." + contact
		case ActionDelete:
			return "You are not authorized to delete users." + contact
		default:
			return "You are not authorized to edit users." + contact
		}
	case ResourceSystemSettings:
		if action == ActionView {
			return "You are not authorized to view or change system settings." + contact
		}
		return "You are not authorized to change system settings." + contact
	case ResourceLogLevel:
		return "Only Admin users can view or change the service log level."
	case ResourceReferenceData:
		if subject == "" {
			subject = "reference data"
		}
		return "You are not authorized to " + verb(action) + " " + subject + "." + contact
	default:
		return "You are not authorized to perform this action." + contact
	}
}

func verb(action Action) string {
	switch action {
	case ActionCreate:
		return "add"
	case ActionDelete:
		return "delete"
	case ActionView:
		return "view"
	default:
		return "edit"
	}
}
