package notification

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// Derive computes the ranked notification list for now. It is pure: the same
// inputs always produce the same list, and every entry starts unread.
func Derive(now time.Time, src Sources, rules Rules) []Notification {
	out := make([]Notification, 0, len(src.Viewings)+len(src.Properties)+len(src.Clients))

	for _, v := range src.Viewings {
		if !v.IsScheduled() || v.ScheduledAt.IsZero() {
			continue
		}
		until := v.ScheduledAt.Sub(now)
		if until <= 0 || until > rules.ViewingWindow {
			continue
		}
		priority := PriorityMedium
		if until <= rules.ViewingUrgent {
			priority = PriorityHigh
		}
		hours := int(math.Round(until.Hours()))
		out = append(out, Notification{
			ID:           "viewing-" + strconv.FormatInt(v.ID, 10),
			Kind:         KindViewing,
			Title:        "Upcoming Viewing",
			Message:      fmt.Sprintf("Viewing at %s with %s in %d hours", v.PropertyAddress, v.ClientName, hours),
			Timestamp:    v.ScheduledAt,
			Priority:     priority,
			ActionTarget: TargetViewings,
		})
	}

	for _, p := range src.Properties {
		if recent(now, p.CreatedAt, rules.NewPropertyWindow, rules.FutureTolerance) {
			out = append(out, Notification{
				ID:           "property-new-" + strconv.FormatInt(p.ID, 10),
				Kind:         KindPropertyNew,
				Title:        "New Property Added",
				Message:      fmt.Sprintf("%s in %s has been listed", p.StreetAddress, p.Town),
				Timestamp:    p.CreatedAt,
				Priority:     PriorityMedium,
				ActionTarget: TargetProperties,
			})
		}

		if !p.IsSold() {
			continue
		}
		ref := p.LastChangedAt()
		if !recent(now, ref, rules.SaleWindow, rules.FutureTolerance) {
			continue
		}
		msg := p.StreetAddress + " has been sold"
		if p.ListingPrice > 0 {
			msg += " for $" + formatPrice(p.ListingPrice)
		}
		out = append(out, Notification{
			ID:           "property-sold-" + strconv.FormatInt(p.ID, 10),
			Kind:         KindSale,
			Title:        "Property Sold!",
			Message:      msg,
			Timestamp:    ref,
			Priority:     PriorityHigh,
			ActionTarget: TargetProperties,
		})
	}

	for _, c := range src.Clients {
		if !c.HasBeenContacted() {
			continue
		}
		days := int(now.Sub(c.LastContactedAt) / day)
		if days < rules.StaleClientDays {
			continue
		}
		priority := PriorityMedium
		if days >= rules.StaleClientUrgentDays {
			priority = PriorityHigh
		}
		out = append(out, Notification{
			ID:           "client-stale-" + strconv.FormatInt(c.ID, 10),
			Kind:         KindClientFollowup,
			Title:        "Follow-up Needed",
			Message:      fmt.Sprintf("%s hasn't been contacted in %d days", c.Name, days),
			Timestamp:    c.LastContactedAt,
			Priority:     priority,
			ActionTarget: TargetClients,
		})
	}

	Sort(out)
	return out
}

// recent reports whether t lies within window before now, allowing t to be
// up to tolerance ahead of now. Zero times never qualify.
func recent(now, t time.Time, window, tolerance time.Duration) bool {
	if t.IsZero() {
		return false
	}
	age := now.Sub(t)
	return age <= window && age >= -tolerance
}

// Sort ranks list in place: priority descending, then timestamp descending,
// then ID ascending so that equal entries still have a fixed order.
func Sort(list []Notification) {
	slices.SortFunc(list, compare)
}

func compare(a, b Notification) int {
	if c := cmp.Compare(b.Priority.Rank(), a.Priority.Rank()); c != 0 {
		return c
	}
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// formatPrice renders 1234567.5 as "1,234,567.50" and whole amounts without
// decimals.
func formatPrice(v float64) string {
	cents := int64(math.Round(v * 100))
	whole, frac := cents/100, cents%100

	digits := strconv.FormatInt(whole, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac != 0 {
		fmt.Fprintf(&b, ".%02d", frac)
	}
	return b.String()
}
