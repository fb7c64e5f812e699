package model

import "time"

// UntitledEvent is shown when the calendar entry has no summary.
const UntitledEvent = "Untitled Event"

// Event is the next upcoming calendar entry shown on the standby screen.
// It is immutable once constructed; the cache replaces it wholesale.
type Event struct {
	// StartTime is an absolute instant; its Location carries no meaning.
	StartTime time.Time
	Title     string
}

// NewEvent builds an Event, substituting UntitledEvent for an empty title.
func NewEvent(start time.Time, title string) *Event {
	if title == "" {
		title = UntitledEvent
	}
	return &Event{StartTime: start.UTC(), Title: title}
}

// IsInFuture reports whether the event starts strictly after now. An event
// starting exactly at now is no longer upcoming.
func (e *Event) IsInFuture(now time.Time) bool {
	if e == nil {
		return false
	}
	return e.StartTime.After(now)
}

// RawEventTime is the start field as delivered by a calendar API, before
// normalization. Exactly one of DateTime or Date is expected to be set.
type RawEventTime struct {
	// DateTime is an RFC3339-like timestamp, with or without an offset.
	DateTime string
	// Date is a plain "YYYY-MM-DD" used for all-day events.
	Date string
	// TimeZone is an optional IANA zone hint.
	TimeZone string
}

// Empty reports whether neither DateTime nor Date is populated.
func (r RawEventTime) Empty() bool {
	return r.DateTime == "" && r.Date == ""
}
