package service

import (
	"context"

	"go.uber.org/zap"

	"estatedesk.io/dashboard/internal/authz"
	"estatedesk.io/dashboard/internal/crmapi"
	"estatedesk.io/dashboard/internal/domain"
	"estatedesk.io/dashboard/internal/pkg/logger"
	"estatedesk.io/dashboard/internal/pkg/validator"
)

const (
	subjectParishes    = "parishes"
	subjectBudgetTiers = "budget tiers"
)

// SettingsService serves the settings screens: agency-wide system settings
// and the parish and budget tier reference lists.
type SettingsService struct {
	validate    *validator.Validator
	parishes    *referenceCache[domain.Parish]
	budgetTiers *referenceCache[domain.BudgetTier]
	log         *zap.Logger
}

// NewSettingsService creates a SettingsService.
func NewSettingsService(v *validator.Validator, cache CacheConfig) *SettingsService {
	return &SettingsService{
		validate:    v,
		parishes:    newReferenceCache[domain.Parish]("parishes", cache),
		budgetTiers: newReferenceCache[domain.BudgetTier]("budget_tiers", cache),
		log:         logger.Component("settings_service"),
	}
}

// Forget drops everything cached for sessionID. Wired to session end.
func (s *SettingsService) Forget(sessionID string) {
	s.parishes.forget(sessionID)
	s.budgetTiers.forget(sessionID)
}

// SystemSettings returns the agency-wide settings.
func (s *SettingsService) SystemSettings(ctx context.Context, actor Actor) (domain.SystemSettings, error) {
	if err := gate(actor, authz.ResourceSystemSettings, authz.ActionView, ""); err != nil {
		return domain.SystemSettings{}, err
	}
	crm, err := actor.CRM(ctx)
	if err != nil {
		return domain.SystemSettings{}, translateCRMError(err, authz.ResourceSystemSettings, authz.ActionView, "")
	}
	out, err := crm.GetSystemSettings(ctx)
	if err != nil {
		return domain.SystemSettings{}, translateCRMError(err, authz.ResourceSystemSettings, authz.ActionView, "")
	}
	return out, nil
}

// SaveSystemSettings stores the agency-wide settings. Administrators only.
func (s *SettingsService) SaveSystemSettings(ctx context.Context, actor Actor, in domain.SystemSettings) (domain.SystemSettings, error) {
	if err := gate(actor, authz.ResourceSystemSettings, authz.ActionEdit, ""); err != nil {
		return domain.SystemSettings{}, err
	}
	if err := s.validate.Validate(in); err != nil {
		return domain.SystemSettings{}, err
	}
	crm, err := actor.CRM(ctx)
	if err != nil {
		return domain.SystemSettings{}, translateCRMError(err, authz.ResourceSystemSettings, authz.ActionEdit, "")
	}
	out, err := crm.SaveSystemSettings(ctx, in)
	if err != nil {
		return domain.SystemSettings{}, translateCRMError(err, authz.ResourceSystemSettings, authz.ActionEdit, "")
	}
	s.log.Info("System settings saved", zap.String("session_id", actor.SessionID()))
	return out, nil
}

// Parishes returns the parish list, cached per session.
func (s *SettingsService) Parishes(ctx context.Context, actor Actor) ([]domain.Parish, error) {
	return listReference(ctx, actor, s.parishes, subjectParishes, (*crmapi.Client).ListParishes)
}

// CreateParish adds a parish.
func (s *SettingsService) CreateParish(ctx context.Context, actor Actor, in domain.Parish) (domain.Parish, error) {
	return mutateReference(ctx, s, actor, s.parishes, subjectParishes, authz.ActionCreate, in, (*crmapi.Client).CreateParish)
}

// UpdateParish renames parish id.
func (s *SettingsService) UpdateParish(ctx context.Context, actor Actor, id int64, in domain.Parish) (domain.Parish, error) {
	in.ID = id
	return mutateReference(ctx, s, actor, s.parishes, subjectParishes, authz.ActionEdit, in, (*crmapi.Client).UpdateParish)
}

// DeleteParish removes parish id.
func (s *SettingsService) DeleteParish(ctx context.Context, actor Actor, id int64) error {
	return deleteReference(ctx, s, actor, s.parishes, subjectParishes, id, (*crmapi.Client).DeleteParish)
}

// BudgetTiers returns the budget tier list, cached per session.
func (s *SettingsService) BudgetTiers(ctx context.Context, actor Actor) ([]domain.BudgetTier, error) {
	return listReference(ctx, actor, s.budgetTiers, subjectBudgetTiers, (*crmapi.Client).ListBudgetTiers)
}

// CreateBudgetTier adds a budget tier.
func (s *SettingsService) CreateBudgetTier(ctx context.Context, actor Actor, in domain.BudgetTier) (domain.BudgetTier, error) {
	return mutateReference(ctx, s, actor, s.budgetTiers, subjectBudgetTiers, authz.ActionCreate, in, (*crmapi.Client).CreateBudgetTier)
}

// UpdateBudgetTier edits budget tier id.
func (s *SettingsService) UpdateBudgetTier(ctx context.Context, actor Actor, id int64, in domain.BudgetTier) (domain.BudgetTier, error) {
	in.ID = id
	return mutateReference(ctx, s, actor, s.budgetTiers, subjectBudgetTiers, authz.ActionEdit, in, (*crmapi.Client).UpdateBudgetTier)
}

// DeleteBudgetTier removes budget tier id.
func (s *SettingsService) DeleteBudgetTier(ctx context.Context, actor Actor, id int64) error {
	return deleteReference(ctx, s, actor, s.budgetTiers, subjectBudgetTiers, id, (*crmapi.Client).DeleteBudgetTier)
}

func listReference[T any](
	ctx context.Context,
	actor Actor,
	cache *referenceCache[T],
	subject string,
	list func(*crmapi.Client, context.Context) ([]T, error),
) ([]T, error) {
	if err := gate(actor, authz.ResourceReferenceData, authz.ActionView, subject); err != nil {
		return nil, err
	}
	if items, ok := cache.get(actor.SessionID()); ok {
		return items, nil
	}
	gen := cache.generation()
	crm, err := actor.CRM(ctx)
	if err != nil {
		return nil, translateCRMError(err, authz.ResourceReferenceData, authz.ActionView, subject)
	}
	items, err := list(crm, ctx)
	if err != nil {
		return nil, translateCRMError(err, authz.ResourceReferenceData, authz.ActionView, subject)
	}
	cache.set(actor.SessionID(), items, gen)
	return items, nil
}

func mutateReference[T any](
	ctx context.Context,
	s *SettingsService,
	actor Actor,
	cache *referenceCache[T],
	subject string,
	action authz.Action,
	in T,
	call func(*crmapi.Client, context.Context, T) (T, error),
) (T, error) {
	var zero T
	if err := gate(actor, authz.ResourceReferenceData, action, subject); err != nil {
		return zero, err
	}
	if err := s.validate.Validate(in); err != nil {
		return zero, err
	}
	crm, err := actor.CRM(ctx)
	if err != nil {
		return zero, translateCRMError(err, authz.ResourceReferenceData, action, subject)
	}
	out, err := call(crm, ctx, in)
	// The CRM may have applied the change even when the response failed.
	cache.purge()
	if err != nil {
		return zero, translateCRMError(err, authz.ResourceReferenceData, action, subject)
	}
	s.log.Info("Reference data changed",
		zap.String("session_id", actor.SessionID()),
		zap.String("kind", subject),
		zap.String("action", string(action)),
	)
	return out, nil
}

func deleteReference[T any](
	ctx context.Context,
	s *SettingsService,
	actor Actor,
	cache *referenceCache[T],
	subject string,
	id int64,
	call func(*crmapi.Client, context.Context, int64) error,
) error {
	if err := gate(actor, authz.ResourceReferenceData, authz.ActionDelete, subject); err != nil {
		return err
	}
	crm, err := actor.CRM(ctx)
	if err != nil {
		return translateCRMError(err, authz.ResourceReferenceData, authz.ActionDelete, subject)
	}
	err = call(crm, ctx, id)
	cache.purge()
	if err != nil {
		return translateCRMError(err, authz.ResourceReferenceData, authz.ActionDelete, subject)
	}
	s.log.Info("Reference data changed",
		zap.String("session_id", actor.SessionID()),
		zap.String("kind", subject),
		zap.String("action", string(authz.ActionDelete)),
		zap.Int64("id", id),
	)
	return nil
}

func gate(actor Actor, resource authz.Resource, action authz.Action, subject string) error {
	return authz.Authorize(authz.Request{
		Acting:   actor.ActingRole(),
		Resource: resource,
		Action:   action,
		Subject:  subject,
	}).Err()
}
