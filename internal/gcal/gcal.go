// Package gcal fetches the next upcoming event from Google Calendar.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"standby/internal/eventtime"
	appLog "standby/internal/log"
	"standby/internal/model"
)

// TokenSourcer hands out a token source for the signed-in account.
type TokenSourcer interface {
	TokenSource(ctx context.Context) (oauth2.TokenSource, error)
}

// FetchError describes a failed calendar request.
type FetchError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gcal %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gcal %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsAuthError reports whether the token was rejected.
func (e *FetchError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Client queries one calendar for the next event.
type Client struct {
	tokens     TokenSourcer
	calendarID string
	loc        *time.Location
	parser     eventtime.Parser
	opts       []option.ClientOption
}

// NewClient returns a Client for calendarID. Day boundaries and zone
// fallbacks use loc (time.Local when nil). Extra options are passed to the
// calendar service, e.g. option.WithEndpoint in tests.
func NewClient(tokens TokenSourcer, calendarID string, loc *time.Location, opts ...option.ClientOption) *Client {
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.Local
	}
	return &Client{
		tokens:     tokens,
		calendarID: calendarID,
		loc:        loc,
		parser:     eventtime.Parser{Fallback: loc},
		opts:       opts,
	}
}

// NextEvent returns the first event ordered by start time over the rest of
// today, falling back to all of tomorrow. (nil, nil) means nothing usable was
// found in either window.
func (c *Client) NextEvent(ctx context.Context, now time.Time) (*model.Event, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	for _, w := range eventtime.Windows(now, c.loc) {
		ev, err := c.firstIn(ctx, svc, w)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			return ev, nil
		}
	}
	return nil, nil
}

// PrimaryCalendarID resolves the signed-in user's primary calendar id, which
// is their email address. It serves as the session identity.
func PrimaryCalendarID(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (string, error) {
	svc, err := calendar.NewService(ctx, append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)...)
	if err != nil {
		return "", &FetchError{Op: "new service", Err: err}
	}
	cal, err := svc.CalendarList.Get("primary").Context(ctx).Do()
	if err != nil {
		return "", wrapAPIError("calendarList.get", err)
	}
	return cal.Id, nil
}

func (c *Client) service(ctx context.Context) (*calendar.Service, error) {
	ts, err := c.tokens.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, &FetchError{Op: "new service", Err: err}
	}
	return svc, nil
}

func (c *Client) firstIn(ctx context.Context, svc *calendar.Service, w eventtime.Window) (*model.Event, error) {
	res, err := svc.Events.List(c.calendarID).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(1).
		TimeMin(w.Start.UTC().Format(time.RFC3339Nano)).
		TimeMax(w.End.UTC().Format(time.RFC3339Nano)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapAPIError("events.list", err)
	}
	if len(res.Items) == 0 {
		return nil, nil
	}

	item := res.Items[0]
	if item.Start == nil {
		return nil, nil
	}
	raw := model.RawEventTime{
		DateTime: item.Start.DateTime,
		Date:     item.Start.Date,
		TimeZone: item.Start.TimeZone,
	}
	start, err := c.parser.Parse(raw)
	if err != nil {
		appLog.Debug("gcal: skipping event with unparseable start",
			"id", item.Id,
			"date_time", raw.DateTime,
			"date", raw.Date,
			"tz", raw.TimeZone,
		)
		return nil, nil
	}

	ev := model.NewEvent(start, item.Summary)
	logParsed(item, ev, raw)
	return ev, nil
}

func logParsed(item *calendar.Event, ev *model.Event, raw model.RawEventTime) {
	src := "date"
	if raw.DateTime != "" {
		src = "dateTime"
	}
	endDateTime, endDate := "n/a", "n/a"
	if item.End != nil {
		if item.End.DateTime != "" {
			endDateTime = item.End.DateTime
		}
		if item.End.Date != "" {
			endDate = item.End.Date
		}
	}
	tz := raw.TimeZone
	if tz == "" {
		tz = "n/a"
	}
	appLog.Debug("gcal: event parsed",
		"title", ev.Title,
		"start", ev.StartTime.Format(time.RFC3339),
		"start_src", src,
		"tz", tz,
		"end_date_time", endDateTime,
		"end_date", endDate,
	)
}

func wrapAPIError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &FetchError{Op: op, StatusCode: gerr.Code, Err: err}
	}
	return &FetchError{Op: op, Err: err}
}
