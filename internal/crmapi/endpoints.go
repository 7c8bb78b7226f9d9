package crmapi

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"estatedesk.io/dashboard/internal/domain"
)

// Tokens is a CRM access/refresh token pair.
type Tokens struct {
	Access  string
	Refresh string
}

// Login exchanges credentials for a token pair. Bad credentials yield
// ErrUnauthorized.
func (c *Client) Login(ctx context.Context, username, password string) (Tokens, error) {
	var out tokenPair
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/token/", body, &out); err != nil {
		if vErr, ok := IsValidation(err); ok {
			// Some CRM versions answer bad credentials with 400.
			return Tokens{}, fmt.Errorf("%w: %s", ErrUnauthorized, vErr.Error())
		}
		return Tokens{}, err
	}
	if out.Access == "" {
		return Tokens{}, fmt.Errorf("%w: login response carried no access token", ErrNetwork)
	}
	return Tokens{Access: out.Access, Refresh: out.Refresh}, nil
}

// RefreshAccess trades a refresh token for a new access token. When the CRM
// rotates refresh tokens the new one is returned too; otherwise Refresh is
// the input token.
func (c *Client) RefreshAccess(ctx context.Context, refresh string) (Tokens, error) {
	var out tokenPair
	if err := c.do(ctx, http.MethodPost, "/token/refresh/", map[string]string{"refresh": refresh}, &out); err != nil {
		return Tokens{}, err
	}
	if out.Refresh == "" {
		out.Refresh = refresh
	}
	return Tokens{Access: out.Access, Refresh: out.Refresh}, nil
}

// Blacklist revokes a refresh token on logout.
func (c *Client) Blacklist(ctx context.Context, refresh string) error {
	return c.do(ctx, http.MethodPost, "/api/token/blacklist/", map[string]string{"refresh": refresh}, nil)
}

// CurrentUser returns the account the bound token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (domain.User, error) {
	var out wireUser
	if err := c.do(ctx, http.MethodGet, "/auth/user/", nil, &out); err != nil {
		return domain.User{}, err
	}
	return out.toDomain(), nil
}

// ListViewings returns every viewing visible to the bound user.
func (c *Client) ListViewings(ctx context.Context) ([]domain.Viewing, error) {
	wire, err := listAll[wireViewing](ctx, c, "/viewings/")
	if err != nil {
		return nil, err
	}
	return convertAll(c, "/viewings/", wire, wireViewing.toDomain), nil
}

// ListProperties returns every property listing visible to the bound user.
func (c *Client) ListProperties(ctx context.Context) ([]domain.Property, error) {
	wire, err := listAll[wireProperty](ctx, c, "/properties/listings/")
	if err != nil {
		return nil, err
	}
	return convertAll(c, "/properties/listings/", wire, wireProperty.toDomain), nil
}

// ListClients returns every client visible to the bound user.
func (c *Client) ListClients(ctx context.Context) ([]domain.Client, error) {
	wire, err := listAll[wireClient](ctx, c, "/clients/")
	if err != nil {
		return nil, err
	}
	return convertAll(c, "/clients/", wire, wireClient.toDomain), nil
}

// CommissionStats fetches the agency commission summary.
func (c *Client) CommissionStats(ctx context.Context) (domain.CommissionStats, error) {
	var out wireCommissionStats
	if err := c.do(ctx, http.MethodGet, "/properties/listings/commission_stats/", nil, &out); err != nil {
		return domain.CommissionStats{}, err
	}
	stats, err := out.toDomain()
	if err != nil {
		c.log.Warn("Dropped malformed CRM timestamps",
			zap.String("path", "/properties/listings/commission_stats/"),
			zap.Error(err),
		)
	}
	return stats, nil
}

// ListUsers returns every staff account.
func (c *Client) ListUsers(ctx context.Context) ([]domain.User, error) {
	wire, err := listAll[wireUser](ctx, c, "/users/users/")
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toDomain())
	}
	return out, nil
}

// GetUser returns one staff account.
func (c *Client) GetUser(ctx context.Context, id int64) (domain.User, error) {
	var out wireUser
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/users/%d/", id), nil, &out); err != nil {
		return domain.User{}, err
	}
	return out.toDomain(), nil
}

// CreateUser creates a staff account.
func (c *Client) CreateUser(ctx context.Context, u domain.NewUser) (domain.User, error) {
	var out wireUser
	if err := c.do(ctx, http.MethodPost, "/users/users/", u, &out); err != nil {
		return domain.User{}, err
	}
	return out.toDomain(), nil
}

// UpdateUser replaces the editable fields of a staff account. The username
// is never sent.
func (c *Client) UpdateUser(ctx context.Context, id int64, u domain.UserUpdate) (domain.User, error) {
	var out wireUser
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/users/users/%d/", id), u, &out); err != nil {
		return domain.User{}, err
	}
	return out.toDomain(), nil
}

// DeleteUser removes a staff account.
func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/users/users/%d/", id), nil, nil)
}

// GetSystemSettings returns the agency-wide settings.
func (c *Client) GetSystemSettings(ctx context.Context) (domain.SystemSettings, error) {
	var out domain.SystemSettings
	if err := c.do(ctx, http.MethodGet, "/settings/system/", nil, &out); err != nil {
		return domain.SystemSettings{}, err
	}
	return out, nil
}

// SaveSystemSettings stores the agency-wide settings and returns what the
// CRM persisted.
func (c *Client) SaveSystemSettings(ctx context.Context, s domain.SystemSettings) (domain.SystemSettings, error) {
	var out domain.SystemSettings
	if err := c.do(ctx, http.MethodPost, "/settings/system/", s, &out); err != nil {
		return domain.SystemSettings{}, err
	}
	return out, nil
}

// ListParishes returns the parish reference list.
func (c *Client) ListParishes(ctx context.Context) ([]domain.Parish, error) {
	return listAll[domain.Parish](ctx, c, "/settings/parishes/")
}

// CreateParish adds a parish.
func (c *Client) CreateParish(ctx context.Context, p domain.Parish) (domain.Parish, error) {
	var out domain.Parish
	err := c.do(ctx, http.MethodPost, "/settings/parishes/", map[string]string{"name": p.Name}, &out)
	return out, err
}

// UpdateParish renames a parish.
func (c *Client) UpdateParish(ctx context.Context, p domain.Parish) (domain.Parish, error) {
	var out domain.Parish
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/settings/parishes/%d/", p.ID), map[string]string{"name": p.Name}, &out)
	return out, err
}

// DeleteParish removes a parish.
func (c *Client) DeleteParish(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/settings/parishes/%d/", id), nil, nil)
}

type budgetTierBody struct {
	DisplayName string `json:"display_name"`
	Order       int    `json:"order"`
}

// ListBudgetTiers returns the budget tier reference list.
func (c *Client) ListBudgetTiers(ctx context.Context) ([]domain.BudgetTier, error) {
	return listAll[domain.BudgetTier](ctx, c, "/settings/budget-tiers/")
}

// CreateBudgetTier adds a budget tier.
func (c *Client) CreateBudgetTier(ctx context.Context, t domain.BudgetTier) (domain.BudgetTier, error) {
	var out domain.BudgetTier
	err := c.do(ctx, http.MethodPost, "/settings/budget-tiers/", budgetTierBody{t.DisplayName, t.Order}, &out)
	return out, err
}

// UpdateBudgetTier edits a budget tier.
func (c *Client) UpdateBudgetTier(ctx context.Context, t domain.BudgetTier) (domain.BudgetTier, error) {
	var out domain.BudgetTier
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/settings/budget-tiers/%d/", t.ID), budgetTierBody{t.DisplayName, t.Order}, &out)
	return out, err
}

// DeleteBudgetTier removes a budget tier.
func (c *Client) DeleteBudgetTier(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/settings/budget-tiers/%d/", id), nil, nil)
}

// convertAll maps a collection to domain records. Records with unparsable
// timestamps are kept with those times zeroed and logged.
func convertAll[W, D any](c *Client, path string, wire []W, conv func(W) (D, error)) []D {
	out := make([]D, 0, len(wire))
	for _, w := range wire {
		d, err := conv(w)
		if err != nil {
			c.log.Warn("Dropped malformed CRM timestamps",
				zap.String("path", path),
				zap.Error(err),
			)
		}
		out = append(out, d)
	}
	return out
}
