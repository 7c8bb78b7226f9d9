package domain

import (
	"strings"
	"time"
)

// Viewing statuses.
const (
	ViewingStatusScheduled = "SCHEDULED"
	ViewingStatusCompleted = "COMPLETED"
	ViewingStatusCancelled = "CANCELLED"
)

// Property statuses that count as a closed sale.
const (
	PropertyStatusSold   = "SOLD"
	PropertyStatusClosed = "CLOSED"
)

// User is a CRM staff account.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      Role   `json:"role"`
	IsActive  bool   `json:"is_active"`
}

// DisplayName returns "First Last", falling back to the username.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// Viewing is a scheduled property viewing.
type Viewing struct {
	ID              int64     `json:"id"`
	PropertyID      int64     `json:"property_listing"`
	PropertyAddress string    `json:"property_address"`
	ClientID        int64     `json:"client"`
	ClientName      string    `json:"client_name"`
	AgentID         int64     `json:"agent"`
	AgentName       string    `json:"agent_name"`
	ScheduledAt     time.Time `json:"viewing_datetime"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsScheduled reports whether the viewing is still pending.
func (v Viewing) IsScheduled() bool {
	return strings.EqualFold(v.Status, ViewingStatusScheduled)
}

// Property is a property listing.
type Property struct {
	ID            int64     `json:"id"`
	StreetAddress string    `json:"street_address"`
	Town          string    `json:"town"`
	ParishName    string    `json:"parish_name"`
	Status        string    `json:"status"`
	ListingPrice  float64   `json:"listing_price"`
	RentalPrice   float64   `json:"rental_price,omitempty"`
	AgentName     string    `json:"agent_name"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsSold reports whether the listing is sold or closed.
func (p Property) IsSold() bool {
	return strings.EqualFold(p.Status, PropertyStatusSold) || strings.EqualFold(p.Status, PropertyStatusClosed)
}

// LastChangedAt is the best-known time of the latest status change:
// UpdatedAt when the CRM reports it, CreatedAt otherwise.
func (p Property) LastChangedAt() time.Time {
	if !p.UpdatedAt.IsZero() {
		return p.UpdatedAt
	}
	return p.CreatedAt
}

// Client is a buyer or renter tracked by the agency.
type Client struct {
	ID              int64     `json:"id"`
	Name            string    `json:"client_name"`
	Email           string    `json:"email"`
	PhoneNumber     string    `json:"phone_number"`
	ParishName      string    `json:"area_of_interest_parish_name,omitempty"`
	BudgetTierName  string    `json:"budget_tier_name,omitempty"`
	PreQualified    bool      `json:"pre_qual_completed"`
	LastContactedAt time.Time `json:"last_contacted"`
	CreatedAt       time.Time `json:"created_at"`
}

// HasBeenContacted reports whether a last-contact date is recorded.
func (c Client) HasBeenContacted() bool {
	return !c.LastContactedAt.IsZero()
}

// CommissionStats is the agency's commission summary. Only managers and
// administrators ever receive it.
type CommissionStats struct {
	TotalSalesCount        int          `json:"total_sales_count"`
	TotalSalesValue        float64      `json:"total_sales_value"`
	TotalCompanyCommission float64      `json:"total_company_commission"`
	TotalAgentCommission   float64      `json:"total_agent_commission"`
	CommissionPercentage   float64      `json:"commission_percentage"`
	AgentSplitPercentage   float64      `json:"agent_split_percentage"`
	AgentPercentageOfSale  float64      `json:"agent_percentage_of_sale"`
	RecentSales            []RecentSale `json:"recent_sales"`
}

// RecentSale is one closed sale in CommissionStats.
type RecentSale struct {
	ID              int64     `json:"id"`
	Address         string    `json:"address"`
	SalePrice       float64   `json:"sale_price"`
	AgentCommission float64   `json:"agent_commission"`
	Status          string    `json:"status"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SystemSettings are the agency-wide settings.
type SystemSettings struct {
	CompanyCommissionPercentage string `json:"company_commission_percentage" validate:"required,numeric"`
	AgentCommissionSplit        string `json:"agent_commission_split" validate:"required,numeric"`
	OverdueContactDays          int    `json:"overdue_contact_days" validate:"gte=1,lte=365"`
	DefaultLeadRecipientEmail   string `json:"default_lead_recipient_email" validate:"omitempty,email"`
}

// Parish is reference data: an administrative area.
type Parish struct {
	ID   int64  `json:"id"`
	Name string `json:"name" validate:"required,max=100"`
}

// BudgetTier is reference data: a client budget bracket.
type BudgetTier struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name" validate:"required,max=100"`
	Order       int    `json:"order" validate:"gte=0"`
}

// NewUser is the payload for creating a staff account.
type NewUser struct {
	Username  string `json:"username" validate:"required,min=3,max=150"`
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
	Password  string `json:"password" validate:"required,min=8"`
	Role      Role   `json:"role" validate:"required,role"`
}

// UserUpdate is the payload for editing a staff account. The username is
// immutable; an empty Password leaves the password unchanged.
type UserUpdate struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
	Password  string `json:"password,omitempty" validate:"omitempty,min=8"`
	Role      Role   `json:"role" validate:"required,role"`
	IsActive  *bool  `json:"is_active,omitempty"`
}
