// Package ics answers "what is next?" from subscribed ICS feeds, as an
// alternative to Google Calendar. Feeds are fetched with HTTP caching,
// decoded with golang-ical and recurrences expanded with rrule-go.
package ics

import (
	"context"
	"errors"
	"time"

	"standby/internal/eventtime"
	appLog "standby/internal/log"
	"standby/internal/model"
)

// Account is the pseudo identity the refresh loop runs under in ICS mode.
const Account = "ics"

// ErrNoFeeds is returned when no feed is configured.
var ErrNoFeeds = errors.New("ics: no feeds configured")

// Source picks the next event across all feeds.
type Source struct {
	fetcher *Fetcher
	feeds   []Feed
	loc     *time.Location
}

// NewSource returns a Source over feeds. Day boundaries and floating times
// use loc (time.Local when nil).
func NewSource(fetcher *Fetcher, feeds []Feed, loc *time.Location) *Source {
	if loc == nil {
		loc = time.Local
	}
	return &Source{fetcher: fetcher, feeds: feeds, loc: loc}
}

// NextEvent mirrors the Google query: the earliest instance overlapping the
// rest of today, else the earliest overlapping tomorrow. It fails only when
// every feed failed.
func (s *Source) NextEvent(ctx context.Context, now time.Time) (*model.Event, error) {
	if len(s.feeds) == 0 {
		return nil, ErrNoFeeds
	}

	payloads, errs := s.fetcher.FetchAll(ctx, s.feeds)
	if len(payloads) == 0 {
		return nil, errors.Join(errs...)
	}

	var events []vevent
	parsed := 0
	for _, p := range payloads {
		evs, err := parseFeed(p.Feed, p.Body, s.loc)
		if err != nil {
			appLog.Error("ics parse failed", err, "id", p.Feed.ID)
			errs = append(errs, err)
			continue
		}
		parsed++
		events = append(events, evs...)
	}
	if parsed == 0 {
		return nil, errors.Join(errs...)
	}

	for _, w := range eventtime.Windows(now, s.loc) {
		if occ := occurrencesIn(events, w); len(occ) > 0 {
			first := occ[0]
			appLog.Debug("ics: next event",
				"uid", first.UID,
				"start", first.Start.Format(time.RFC3339),
				"all_day", first.AllDay,
			)
			return model.NewEvent(first.Start, first.Summary), nil
		}
	}
	return nil, nil
}
