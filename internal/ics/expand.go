package ics

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"standby/internal/eventtime"
	appLog "standby/internal/log"
)

const maxOccurrencesPerEvent = 5000

// occurrence is one concrete instance of a (possibly recurring) event.
type occurrence struct {
	UID     string
	Summary string
	Start   time.Time
	End     time.Time
	AllDay  bool
}

// occurrencesIn expands events into the instances that overlap w, ordered by
// start. An instance overlaps when it ends after w.Start and starts no later
// than w.End, so an event already in progress is included. RRULE, EXDATE and
// RECURRENCE-ID overrides are honored.
func occurrencesIn(events []vevent, w eventtime.Window) []occurrence {
	bases := make(map[string][]vevent)
	overrides := make(map[string][]vevent)
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		} else {
			bases[ev.UID] = append(bases[ev.UID], ev)
		}
	}

	var out []occurrence
	for uid, evs := range bases {
		for _, ev := range evs {
			if ev.RRule == "" {
				out = appendIfOverlaps(out, ev, ev.Start, w)
				continue
			}
			out = append(out, expandRecurring(ev, overrides[uid], w)...)
		}
	}
	// Overrides whose series is missing still describe a real instance.
	for uid, ovs := range overrides {
		if _, ok := bases[uid]; ok {
			continue
		}
		for _, ov := range ovs {
			out = appendIfOverlaps(out, ov, ov.Start, w)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].UID < out[j].UID
	})
	return out
}

func expandRecurring(ev vevent, overrides []vevent, w eventtime.Window) []occurrence {
	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		appLog.Error("ics: bad RRULE", err, "uid", ev.UID, "rrule", ev.RRule)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Instances that started before the window may still be running.
	dur := ev.duration()
	from := w.Start.Add(-dur).In(ev.Start.Location())
	starts := set.Between(from, w.End.In(ev.Start.Location()), true)
	if len(starts) > maxOccurrencesPerEvent {
		appLog.Debug("ics: truncating occurrences", "uid", ev.UID, "count", len(starts))
		starts = starts[:maxOccurrencesPerEvent]
	}

	var out []occurrence
	for _, s := range starts {
		if ov, ok := overrideFor(overrides, s); ok {
			out = appendIfOverlaps(out, ov, ov.Start, w)
			continue
		}
		out = appendIfOverlaps(out, ev, s, w)
	}
	return out
}

func overrideFor(overrides []vevent, start time.Time) (vevent, bool) {
	for _, ov := range overrides {
		if ov.RecurrenceID.Equal(start) {
			return ov, true
		}
	}
	return vevent{}, false
}

func appendIfOverlaps(out []occurrence, ev vevent, start time.Time, w eventtime.Window) []occurrence {
	end := start.Add(ev.duration())
	if start.After(w.End) {
		return out
	}
	// Zero-length entries count while they have not started yet.
	if end.After(w.Start) || (end.Equal(start) && !start.Before(w.Start)) {
		return append(out, occurrence{
			UID:     ev.UID,
			Summary: ev.Summary,
			Start:   start,
			End:     end,
			AllDay:  ev.AllDay,
		})
	}
	return out
}
