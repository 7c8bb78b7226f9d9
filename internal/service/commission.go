package service

import (
	"context"

	"estatedesk.io/dashboard/internal/authz"
	"estatedesk.io/dashboard/internal/domain"
)

// CommissionView is what the commission panel renders. When Authorized is
// false Stats is nil and Notice explains why; figures are never zeroed out
// in place of a denial.
type CommissionView struct {
	Authorized bool                    `json:"authorized"`
	Notice     string                  `json:"notice,omitempty"`
	Stats      *domain.CommissionStats `json:"stats,omitempty"`
}

// CommissionService serves the commission statistics panel.
type CommissionService struct{}

// NewCommissionService creates a CommissionService.
func NewCommissionService() *CommissionService {
	return &CommissionService{}
}

// Stats returns the commission figures for managers and administrators and
// the limited view for everyone else. The CRM is only called when the gate
// allows it.
func (s *CommissionService) Stats(ctx context.Context, actor Actor) (CommissionView, error) {
	decision := authz.Authorize(authz.Request{
		Acting:   actor.ActingRole(),
		Resource: authz.ResourceCommissionStats,
		Action:   authz.ActionView,
	})
	if !decision.Allowed {
		return CommissionView{Notice: decision.Reason}, nil
	}

	crm, err := actor.CRM(ctx)
	if err != nil {
		return CommissionView{}, translateCRMError(err, authz.ResourceCommissionStats, authz.ActionView, "")
	}
	stats, err := crm.CommissionStats(ctx)
	if err != nil {
		return CommissionView{}, translateCRMError(err, authz.ResourceCommissionStats, authz.ActionView, "")
	}
	return CommissionView{Authorized: true, Stats: &stats}, nil
}
