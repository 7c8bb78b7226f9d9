package service

import (
	"context"

	"go.uber.org/zap"

	"estatedesk.io/dashboard/internal/authz"
	"estatedesk.io/dashboard/internal/domain"
	"estatedesk.io/dashboard/internal/pkg/logger"
	"estatedesk.io/dashboard/internal/pkg/validator"
)

// UserService manages CRM staff accounts.
type UserService struct {
	validate *validator.Validator
	log      *zap.Logger
}

// NewUserService creates a UserService.
func NewUserService(v *validator.Validator) *UserService {
	return &UserService{validate: v, log: logger.Component("user_service")}
}

// List returns all staff accounts.
func (s *UserService) List(ctx context.Context, actor Actor) ([]domain.User, error) {
	if err := s.authorize(actor, authz.ActionView, "", ""); err != nil {
		return nil, err
	}
	crm, err := actor.CRM(ctx)
	if err != nil {
		return nil, translateCRMError(err, authz.ResourceUserAccounts, authz.ActionView, "")
	}
	users, err := crm.ListUsers(ctx)
	if err != nil {
		return nil, translateCRMError(err, authz.ResourceUserAccounts, authz.ActionView, "")
	}
	return users, nil
}

// Create adds a staff account with the requested role, which the acting user
// must be allowed to assign.
func (s *UserService) Create(ctx context.Context, actor Actor, in domain.NewUser) (domain.User, error) {
	if err := requireUserManagement(actor, authz.ActionCreate); err != nil {
		return domain.User{}, err
	}
	in.Role = normalizeRole(in.Role)
	if err := s.validate.Validate(in); err != nil {
		return domain.User{}, err
	}
	if err := s.authorize(actor, authz.ActionCreate, in.Role, ""); err != nil {
		return domain.User{}, err
	}

	crm, err := actor.CRM(ctx)
	if err != nil {
		return domain.User{}, translateCRMError(err, authz.ResourceUserAccounts, authz.ActionCreate, "")
	}
	user, err := crm.CreateUser(ctx, in)
	if err != nil {
		return domain.User{}, translateCRMError(err, authz.ResourceUserAccounts, authz.ActionCreate, "")
	}
	s.log.Info("Staff account created",
		zap.String("session_id", actor.SessionID()),
		zap.Int64("user_id", user.ID),
		zap.String("role", string(user.Role)),
	)
	return user, nil
}

// Update edits account id. The account's current role is fetched first so
// that non-admins can never touch an admin account.
func (s *UserService) Update(ctx context.Context, actor Actor, id int64, in domain.UserUpdate) (domain.User, error) {
	if err := requireUserManagement(actor, authz.ActionEdit); err != nil {
		return domain.User{}, err
	}
	in.Role = normalizeRole(in.Role)
	if err := s.validate.Validate(in); err != nil {
		return domain.User{}, err
	}

	crm, err := actor.CRM(ctx)
	if err != nil {
		return domain.User{}, translateCRMError(err, authz.ResourceUserAccounts, authz.ActionEdit, "")
	}
	existing, err := crm.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, translateCRMError(err, authz.ResourceUserAccounts, authz.ActionEdit, "")
	}
	if err := s.authorize(actor, authz.ActionEdit, in.Role, existing.Role); err != nil {
		return domain.User{}, err
	}

	user, err := crm.UpdateUser(ctx, id, in)
	if err != nil {
		return domain.User{}, translateCRMError(err, authz.ResourceUserAccounts, authz.ActionEdit, "")
	}
	s.log.Info("Staff account updated",
		zap.String("session_id", actor.SessionID()),
		zap.Int64("user_id", id),
		zap.String("previous_role", string(existing.Role)),
		zap.String("role", string(user.Role)),
	)
	return user, nil
}

// Delete removes account id.
func (s *UserService) Delete(ctx context.Context, actor Actor, id int64) error {
	if err := requireUserManagement(actor, authz.ActionDelete); err != nil {
		return err
	}
	crm, err := actor.CRM(ctx)
	if err != nil {
		return translateCRMError(err, authz.ResourceUserAccounts, authz.ActionDelete, "")
	}
	existing, err := crm.GetUser(ctx, id)
	if err != nil {
		return translateCRMError(err, authz.ResourceUserAccounts, authz.ActionDelete, "")
	}
	if err := s.authorize(actor, authz.ActionDelete, "", existing.Role); err != nil {
		return err
	}
	if err := crm.DeleteUser(ctx, id); err != nil {
		return translateCRMError(err, authz.ResourceUserAccounts, authz.ActionDelete, "")
	}
	s.log.Info("Staff account deleted",
		zap.String("session_id", actor.SessionID()),
		zap.Int64("user_id", id),
	)
	return nil
}

func (s *UserService) authorize(actor Actor, action authz.Action, target, existing domain.Role) error {
	return authz.Authorize(authz.Request{
		Acting:       actor.ActingRole(),
		Resource:     authz.ResourceUserAccounts,
		Action:       action,
		TargetRole:   target,
		ExistingRole: existing,
	}).Err()
}

// requireUserManagement rejects actors who may not open user management,
// before any payload is looked at.
func requireUserManagement(actor Actor, action authz.Action) error {
	return authz.AuthorizeRoute(actor.ActingRole(), authz.ResourceUserAccounts, action).Err()
}

// normalizeRole accepts "manager" for MANAGER; unknown values are left for
// the validator to reject.
func normalizeRole(r domain.Role) domain.Role {
	if parsed, ok := domain.ParseRole(string(r)); ok {
		return parsed
	}
	return r
}
