package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "standby/internal/log"
)

// vevent is a VEVENT reduced to what next-event selection needs.
type vevent struct {
	UID     string
	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule   string
	ExDates []time.Time

	// RecurrenceID is set on overrides of a single recurring instance.
	RecurrenceID *time.Time
}

// duration is the event length, defaulting to one day for all-day entries
// and zero for timed entries without an end.
func (v vevent) duration() time.Duration {
	if v.End.After(v.Start) {
		return v.End.Sub(v.Start)
	}
	if v.AllDay {
		return 24 * time.Hour
	}
	return 0
}

// parseFeed decodes an ICS body. Floating times and dates without a TZID are
// placed in loc. Malformed VEVENTs are logged and skipped.
func parseFeed(feed Feed, body []byte, loc *time.Location) ([]vevent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics %s: parse: %w", feed.ID, err)
	}

	var out []vevent
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve, loc)
		if err != nil {
			appLog.Debug("ics: skipping vevent", "id", feed.ID, "err", err.Error())
			continue
		}
		out = append(out, ev)
	}
	appLog.Debug("ics parsed", "id", feed.ID, "events", len(out))
	return out, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (vevent, error) {
	var out vevent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := propTime(dtstart.Value, dtstart.ICalParameters, loc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start, out.AllDay = start, allDay

	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
		if end, _, err := propTime(p.Value, p.ICalParameters, loc); err == nil {
			out.End = end
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, _, err := propTime(part, p.ICalParameters, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, _, err := propTime(p.Value, p.ICalParameters, loc); err == nil {
			out.RecurrenceID = &t
		}
	}
	return out, nil
}

// propTime decodes a DATE or DATE-TIME property value. UTC values end in Z,
// TZID selects the zone of a local value, and anything else is floating.
func propTime(value string, params map[string][]string, loc *time.Location) (time.Time, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	zone := loc
	if ids := params["TZID"]; len(ids) > 0 && ids[0] != "" {
		if l, err := time.LoadLocation(strings.Trim(ids[0], `"`)); err == nil {
			zone = l
		}
	}

	isDate := !strings.Contains(value, "T")
	if vs := params["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		isDate = true
	}

	switch {
	case isDate:
		// All-day entries start at midnight on the display clock.
		t, err := time.ParseInLocation("20060102", value, loc)
		return t, true, err
	case strings.HasSuffix(value, "Z"):
		t, err := time.Parse("20060102T150405Z", value)
		return t, false, err
	default:
		t, err := time.ParseInLocation("20060102T150405", value, zone)
		return t, false, err
	}
}
