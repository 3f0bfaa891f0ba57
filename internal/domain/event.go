package domain

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Event is a ticketed event owned by a single organizer. Tier capacity is
// declared here, but sold counts live in the inventory ledger.
type Event struct {
	ID          string
	OrganizerID string
	Title       string
	Description string
	Date        time.Time
	Venue       string
	Tiers       []Tier
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Tier is a named ticket class with its own price and capacity.
type Tier struct {
	Name     string
	Price    Money
	Capacity int
}

// Tier returns the tier named name.
func (e Event) Tier(name string) (Tier, bool) {
	for _, t := range e.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}

// OwnedBy reports whether organizerID owns the event.
func (e Event) OwnedBy(organizerID string) bool {
	return organizerID != "" && e.OrganizerID == organizerID
}

// ParseDate accepts a calendar date (2006-01-02) or an RFC 3339 timestamp
// and returns the UTC calendar date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, Invalid("date", "must be a calendar date (YYYY-MM-DD)")
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// FormatDate renders a calendar date.
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// ValidateTiers checks the tier set of a single event.
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return Invalid("tiers", "at least one tier is required")
	}
	seen := make(map[string]struct{}, len(tiers))
	for _, t := range tiers {
		if strings.TrimSpace(t.Name) == "" {
			return Invalid("tiers.name", "tier name is required")
		}
		if _, dup := seen[t.Name]; dup {
			return Invalid("tiers.name", "duplicate tier %q", t.Name)
		}
		seen[t.Name] = struct{}{}
		if t.Price < 0 {
			return Invalid("tiers.price", "tier %q has a negative price", t.Name)
		}
		if t.Capacity < 0 {
			return Invalid("tiers.capacity", "tier %q has a negative capacity", t.Name)
		}
	}
	return nil
}
