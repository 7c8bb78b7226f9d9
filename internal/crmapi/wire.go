package crmapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"estatedesk.io/dashboard/internal/domain"
)

// Wire payloads mirror the CRM JSON. Timestamps stay strings until mapped so
// that a malformed value is reported per record rather than failing the decoder.

type wireUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	IsActive  *bool  `json:"is_active"`
}

type wireViewing struct {
	ID              int64   `json:"id"`
	PropertyListing int64   `json:"property_listing"`
	PropertyAddress string  `json:"property_address"`
	Client          int64   `json:"client"`
	ClientName      string  `json:"client_name"`
	Agent           int64   `json:"agent"`
	AgentName       string  `json:"agent_name"`
	ViewingDatetime *string `json:"viewing_datetime"`
	Status          string  `json:"status"`
	Notes           string  `json:"notes"`
	CreatedAt       *string `json:"created_at"`
}

type wireProperty struct {
	ID            int64     `json:"id"`
	StreetAddress string    `json:"street_address"`
	Town          string    `json:"town"`
	ParishName    string    `json:"parish_name"`
	Status        string    `json:"status"`
	ListingPrice  flexFloat `json:"listing_price"`
	RentalPrice   flexFloat `json:"rental_price"`
	AgentName     string    `json:"agent_name"`
	CreatedAt     *string   `json:"created_at"`
	UpdatedAt     *string   `json:"updated_at"`
}

type wireClient struct {
	ID                       int64   `json:"id"`
	ClientName               string  `json:"client_name"`
	Email                    string  `json:"email"`
	PhoneNumber              string  `json:"phone_number"`
	AreaOfInterestParishName string  `json:"area_of_interest_parish_name"`
	BudgetTierName           string  `json:"budget_tier_name"`
	PreQualCompleted         bool    `json:"pre_qual_completed"`
	LastContacted            *string `json:"last_contacted"`
	CreatedAt                *string `json:"created_at"`
}

type wireCommissionStats struct {
	TotalSalesCount        int              `json:"total_sales_count"`
	TotalSalesValue        flexFloat        `json:"total_sales_value"`
	TotalCompanyCommission flexFloat        `json:"total_company_commission"`
	TotalAgentCommission   flexFloat        `json:"total_agent_commission"`
	CommissionPercentage   flexFloat        `json:"commission_percentage"`
	AgentSplitPercentage   flexFloat        `json:"agent_split_percentage"`
	AgentPercentageOfSale  flexFloat        `json:"agent_percentage_of_sale"`
	RecentSales            []wireRecentSale `json:"recent_sales"`
}

type wireRecentSale struct {
	ID              int64     `json:"id"`
	Address         string    `json:"address"`
	SalePrice       flexFloat `json:"sale_price"`
	AgentCommission flexFloat `json:"agent_commission"`
	Status          string    `json:"status"`
	UpdatedAt       *string   `json:"updated_at"`
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// flexFloat accepts JSON numbers, decimal strings ("250000.00") and null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("decode number %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime parses a CRM timestamp. nil and "" map to the zero time;
// values without a zone are taken as UTC.
func parseTime(field string, s *string) (time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return time.Time{}, nil
	}
	v := strings.TrimSpace(*s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse %s %q: unsupported time format", field, v)
}

func (w wireUser) toDomain() domain.User {
	role, _ := domain.ParseRole(w.Role)
	active := true
	if w.IsActive != nil {
		active = *w.IsActive
	}
	return domain.User{
		ID:        w.ID,
		Username:  w.Username,
		Email:     w.Email,
		FirstName: w.FirstName,
		LastName:  w.LastName,
		Role:      role,
		IsActive:  active,
	}
}

// lenientTimes collects timestamp parse failures for one record. A bad value
// becomes the zero time, which no notification rule matches, so one malformed
// row never costs the rest of the collection.
type lenientTimes struct {
	errs []error
}

func (l *lenientTimes) parse(field string, s *string) time.Time {
	t, err := parseTime(field, s)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return t
}

func (l *lenientTimes) err(kind string, id int64) error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s %d: %w", kind, id, errors.Join(l.errs...))
}

// The toDomain conversions always return a usable record. A non-nil error
// lists the timestamps that were dropped.

func (w wireViewing) toDomain() (domain.Viewing, error) {
	var times lenientTimes
	v := domain.Viewing{
		ID:              w.ID,
		PropertyID:      w.PropertyListing,
		PropertyAddress: w.PropertyAddress,
		ClientID:        w.Client,
		ClientName:      w.ClientName,
		AgentID:         w.Agent,
		AgentName:       w.AgentName,
		ScheduledAt:     times.parse("viewing_datetime", w.ViewingDatetime),
		Status:          w.Status,
		Notes:           w.Notes,
		CreatedAt:       times.parse("created_at", w.CreatedAt),
	}
	return v, times.err("viewing", w.ID)
}

func (w wireProperty) toDomain() (domain.Property, error) {
	var times lenientTimes
	p := domain.Property{
		ID:            w.ID,
		StreetAddress: w.StreetAddress,
		Town:          w.Town,
		ParishName:    w.ParishName,
		Status:        w.Status,
		ListingPrice:  float64(w.ListingPrice),
		RentalPrice:   float64(w.RentalPrice),
		AgentName:     w.AgentName,
		CreatedAt:     times.parse("created_at", w.CreatedAt),
		UpdatedAt:     times.parse("updated_at", w.UpdatedAt),
	}
	return p, times.err("property", w.ID)
}

func (w wireClient) toDomain() (domain.Client, error) {
	var times lenientTimes
	c := domain.Client{
		ID:              w.ID,
		Name:            w.ClientName,
		Email:           w.Email,
		PhoneNumber:     w.PhoneNumber,
		ParishName:      w.AreaOfInterestParishName,
		BudgetTierName:  w.BudgetTierName,
		PreQualified:    w.PreQualCompleted,
		LastContactedAt: times.parse("last_contacted", w.LastContacted),
		CreatedAt:       times.parse("created_at", w.CreatedAt),
	}
	return c, times.err("client", w.ID)
}

func (w wireCommissionStats) toDomain() (domain.CommissionStats, error) {
	stats := domain.CommissionStats{
		TotalSalesCount:        w.TotalSalesCount,
		TotalSalesValue:        float64(w.TotalSalesValue),
		TotalCompanyCommission: float64(w.TotalCompanyCommission),
		TotalAgentCommission:   float64(w.TotalAgentCommission),
		CommissionPercentage:   float64(w.CommissionPercentage),
		AgentSplitPercentage:   float64(w.AgentSplitPercentage),
		AgentPercentageOfSale:  float64(w.AgentPercentageOfSale),
		RecentSales:            make([]domain.RecentSale, 0, len(w.RecentSales)),
	}
	var errs []error
	for _, s := range w.RecentSales {
		var times lenientTimes
		stats.RecentSales = append(stats.RecentSales, domain.RecentSale{
			ID:              s.ID,
			Address:         s.Address,
			SalePrice:       float64(s.SalePrice),
			AgentCommission: float64(s.AgentCommission),
			Status:          s.Status,
			UpdatedAt:       times.parse("updated_at", s.UpdatedAt),
		})
		if err := times.err("recent sale", s.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return stats, errors.Join(errs...)
}
