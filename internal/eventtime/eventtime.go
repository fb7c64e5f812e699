// Package eventtime normalizes calendar start fields into absolute instants.
//
// Calendar APIs deliver event starts in three shapes:
//
//   - a timestamp with an explicit offset ("2024-03-15T14:30:00+05:30",
//     "...+0530", "...Z"), optionally with fractional seconds;
//   - a bare wall-clock timestamp ("2024-03-15T09:00:00") paired with a
//     separate time zone field;
//   - a date only ("2024-03-15") for all-day events.
//
// All three resolve to a UTC time.Time.
package eventtime

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"standby/internal/model"
)

// ErrUnparseable is returned when no supported shape matches. Callers treat
// it as "no event for this query".
var ErrUnparseable = errors.New("eventtime: unparseable start time")

var (
	offsetSuffix = regexp.MustCompile(`[+-]\d{2}:?\d{2}$`)

	// Fractional seconds are accepted by time.Parse even when the layout
	// does not spell them out.
	offsetLayouts = []string{
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05Z0700",
	}
	localLayout = "2006-01-02T15:04:05"
	dateLayout  = "2006-01-02"
)

// Parser resolves zone hints against a fallback location.
type Parser struct {
	// Fallback is used when a hint is absent or unknown. Nil means time.Local.
	Fallback *time.Location
}

// Default resolves against the host's local zone.
var Default = Parser{}

// Parse normalizes raw using the host's local zone as fallback.
func Parse(raw model.RawEventTime) (time.Time, error) {
	return Default.Parse(raw)
}

// Parse picks DateTime when present, otherwise Date.
func (p Parser) Parse(raw model.RawEventTime) (time.Time, error) {
	if raw.Empty() {
		return time.Time{}, ErrUnparseable
	}
	if raw.DateTime != "" {
		return p.ParseDateTime(raw.DateTime, raw.TimeZone)
	}
	return p.ParseAllDay(raw.Date, raw.TimeZone)
}

// HasOffset reports whether text carries its own UTC offset.
func HasOffset(text string) bool {
	if strings.HasSuffix(text, "Z") || strings.HasSuffix(text, "z") {
		return true
	}
	return offsetSuffix.MatchString(text)
}

// ParseDateTime parses an RFC3339-like timestamp. When text has an explicit
// offset the zone hint is ignored; otherwise the wall-clock fields are read
// in tzID (or the fallback zone).
func (p Parser) ParseDateTime(text, tzID string) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, ErrUnparseable
	}

	if HasOffset(text) {
		normalized := text
		if strings.HasSuffix(normalized, "z") {
			normalized = normalized[:len(normalized)-1] + "Z"
		}
		for _, layout := range offsetLayouts {
			if t, err := time.Parse(layout, normalized); err == nil {
				return t.UTC(), nil
			}
		}
	}

	t, err := time.ParseInLocation(localLayout, text, p.Location(tzID))
	if err != nil {
		return time.Time{}, ErrUnparseable
	}
	return t.UTC(), nil
}

// ParseAllDay interprets a "YYYY-MM-DD" date as midnight in tzID (or the
// fallback zone).
func (p Parser) ParseAllDay(date, tzID string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), p.Location(tzID))
	if err != nil {
		return time.Time{}, ErrUnparseable
	}
	return t.UTC(), nil
}

// Location resolves an IANA zone id. Empty or unknown ids silently fall back.
func (p Parser) Location(tzID string) *time.Location {
	fallback := p.Fallback
	if fallback == nil {
		fallback = time.Local
	}
	if tzID == "" {
		return fallback
	}
	loc, err := time.LoadLocation(tzID)
	if err != nil {
		return fallback
	}
	return loc
}
