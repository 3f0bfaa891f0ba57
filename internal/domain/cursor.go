package domain

import (
	"encoding/base64"
	"strings"
	"time"
)

// EventCursor is a keyset position in the (date, id) ordering of events.
// The zero value points before the first event.
type EventCursor struct {
	Date time.Time
	ID   string
}

// CursorAfter returns the cursor positioned just after e.
func CursorAfter(e Event) EventCursor {
	return EventCursor{Date: e.Date, ID: e.ID}
}

func (c EventCursor) IsZero() bool {
	return c.ID == "" && c.Date.IsZero()
}

// Precedes reports whether e sorts strictly after the cursor.
func (c EventCursor) Precedes(e Event) bool {
	if c.IsZero() {
		return true
	}
	if !e.Date.Equal(c.Date) {
		return e.Date.After(c.Date)
	}
	return e.ID > c.ID
}

// Encode renders an opaque token for clients.
func (c EventCursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(FormatDate(c.Date) + "|" + c.ID))
}

// DecodeCursor parses a token produced by Encode. An empty token is the zero cursor.
func DecodeCursor(token string) (EventCursor, error) {
	if token == "" {
		return EventCursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return EventCursor{}, Invalid("after", "malformed cursor")
	}
	date, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return EventCursor{}, Invalid("after", "malformed cursor")
	}
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return EventCursor{}, Invalid("after", "malformed cursor")
	}
	return EventCursor{Date: d, ID: id}, nil
}
