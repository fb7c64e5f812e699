package display

import (
	"errors"

	"github.com/goodsign/monday"

	"standby/internal/model"
	"standby/internal/refresh"
)

const fetchedLayout = "Monday, January 02, 2006 3:04 PM"

// FetchStatus is the one-line outcome of a manual fetch.
func FetchStatus(ev *model.Event, err error, opts Options) string {
	opts = opts.withDefaults()
	switch {
	case errors.Is(err, refresh.ErrIdle):
		return "Fetch failed: not signed in"
	case err != nil:
		return "Fetch failed: " + err.Error()
	case ev == nil:
		return "No upcoming events"
	default:
		return "Fetched: " + ev.Title + " at " + monday.Format(ev.StartTime.In(opts.Location), fetchedLayout, opts.Locale)
	}
}
