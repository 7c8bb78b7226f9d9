// Package notification derives the dashboard notification feed.
//
// The feed is recomputed wholesale from three CRM collections (viewings,
// properties, clients) on every refresh. Read state is the only thing carried
// from one list to the next, keyed by the deterministic notification ID.
package notification

import (
	"errors"
	"fmt"
	"time"

	"estatedesk.io/dashboard/internal/domain"
)

// Kind classifies the fact a notification reports.
type Kind string

const (
	KindViewing        Kind = "viewing"
	KindPropertyNew    Kind = "property-new"
	KindSale           Kind = "sale"
	KindClientFollowup Kind = "client-followup"
)

// Priority is the urgency tier used for ranking.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities: high=3, medium=2, low=1; unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Dashboard screens a notification links to.
const (
	TargetViewings   = "/dashboard/viewings"
	TargetProperties = "/dashboard/properties"
	TargetClients    = "/dashboard/clients"
)

// Notification is one derived feed entry.
type Notification struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	Read         bool      `json:"read"`
	Priority     Priority  `json:"priority"`
	ActionTarget string    `json:"action_target,omitempty"`
}

// Sources are the raw collections a refresh derives from.
type Sources struct {
	Viewings   []domain.Viewing
	Properties []domain.Property
	Clients    []domain.Client
}

// Rules holds the derivation windows and thresholds.
type Rules struct {
	// ViewingWindow is how far ahead scheduled viewings are announced.
	ViewingWindow time.Duration
	// ViewingUrgent marks a viewing high priority when it is at most this far away.
	ViewingUrgent time.Duration
	// NewPropertyWindow is how long a newly created listing is announced.
	NewPropertyWindow time.Duration
	// SaleWindow is how long a sold or closed listing is announced.
	SaleWindow time.Duration
	// StaleClientDays is the number of whole days without contact that
	// triggers a follow-up.
	StaleClientDays int
	// StaleClientUrgentDays raises the follow-up to high priority.
	StaleClientUrgentDays int
	// FutureTolerance accepts CRM timestamps slightly ahead of the local clock
	// for the "recently happened" rules.
	FutureTolerance time.Duration
}

// DefaultRules returns the standard windows: viewings 24h ahead (urgent
// within 2h), new listings for 24h, sales for 48h, follow-ups after 3 days
// (urgent after 7).
func DefaultRules() Rules {
	return Rules{
		ViewingWindow:         24 * time.Hour,
		ViewingUrgent:         2 * time.Hour,
		NewPropertyWindow:     24 * time.Hour,
		SaleWindow:            48 * time.Hour,
		StaleClientDays:       3,
		StaleClientUrgentDays: 7,
		FutureTolerance:       5 * time.Minute,
	}
}

// Validate checks that the rules are internally consistent.
func (r Rules) Validate() error {
	var errs []error
	if r.ViewingWindow <= 0 {
		errs = append(errs, errors.New("viewing window must be positive"))
	}
	if r.ViewingUrgent < 0 || r.ViewingUrgent > r.ViewingWindow {
		errs = append(errs, fmt.Errorf("viewing urgent threshold %s must be within the viewing window %s", r.ViewingUrgent, r.ViewingWindow))
	}
	if r.NewPropertyWindow <= 0 {
		errs = append(errs, errors.New("new property window must be positive"))
	}
	if r.SaleWindow <= 0 {
		errs = append(errs, errors.New("sale window must be positive"))
	}
	if r.StaleClientDays < 1 {
		errs = append(errs, errors.New("stale client days must be at least 1"))
	}
	if r.StaleClientUrgentDays < r.StaleClientDays {
		errs = append(errs, fmt.Errorf("stale client urgent days %d must be >= stale client days %d", r.StaleClientUrgentDays, r.StaleClientDays))
	}
	if r.FutureTolerance < 0 {
		errs = append(errs, errors.New("future tolerance must not be negative"))
	}
	return errors.Join(errs...)
}

// UnreadCount counts unread entries of list.
func UnreadCount(list []Notification) int {
	n := 0
	for _, item := range list {
		if !item.Read {
			n++
		}
	}
	return n
}
