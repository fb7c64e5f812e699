package gcal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"standby/internal/eventtime"
)

type staticTokens struct{ err error }

func (s staticTokens) TokenSource(context.Context) (oauth2.TokenSource, error) {
	if s.err != nil {
		return nil, s.err
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test"}), nil
}

// fakeCalendar answers events.list with one canned body per window, keyed by
// the day of timeMin.
type fakeCalendar struct {
	t      *testing.T
	loc    *time.Location
	mu     sync.Mutex
	bodies map[int]string
	status int
	calls  []string
	maxes  []string
}

func (f *fakeCalendar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	f.calls = append(f.calls, q.Get("timeMin"))
	f.maxes = append(f.maxes, q.Get("timeMax"))
	f.mu.Unlock()

	assert.Equal(f.t, "/calendar/v3/calendars/primary/events", r.URL.Path)
	assert.Equal(f.t, "1", q.Get("maxResults"))
	assert.Equal(f.t, "startTime", q.Get("orderBy"))
	assert.Equal(f.t, "true", q.Get("singleEvents"))

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
		return
	}

	from, err := time.Parse(time.RFC3339, q.Get("timeMin"))
	require.NoError(f.t, err)
	body, ok := f.bodies[from.In(f.loc).Day()]
	if !ok {
		body = `{"items":[]}`
	}
	_, _ = w.Write([]byte(body))
}

func (f *fakeCalendar) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestClient(t *testing.T, fake *fakeCalendar, tokens TokenSourcer) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewClient(tokens, "primary", fake.loc,
		option.WithEndpoint(srv.URL+"/calendar/v3/"),
		option.WithHTTPClient(srv.Client()),
	)
}

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestNextEventToday(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2024, 3, 15, 8, 0, 0, 0, loc)
	fake := &fakeCalendar{t: t, loc: loc, bodies: map[int]string{
		15: `{"items":[{"id":"1","summary":"Standup","start":{"dateTime":"2024-03-15T09:30:00-04:00"},"end":{"dateTime":"2024-03-15T09:45:00-04:00"}}]}`,
	}}
	c := newTestClient(t, fake, staticTokens{})

	ev, err := c.NextEvent(context.Background(), now)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "Standup", ev.Title)
	assert.True(t, time.Date(2024, 3, 15, 13, 30, 0, 0, time.UTC).Equal(ev.StartTime))
	assert.Equal(t, 1, fake.callCount())
}

func TestNextEventFallsBackToTomorrowAllDay(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2024, 3, 15, 22, 0, 0, 0, loc)
	fake := &fakeCalendar{t: t, loc: loc, bodies: map[int]string{
		16: `{"items":[{"id":"2","start":{"date":"2024-03-16"},"end":{"date":"2024-03-17"}}]}`,
	}}
	c := newTestClient(t, fake, staticTokens{})

	ev, err := c.NextEvent(context.Background(), now)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "Untitled Event", ev.Title)
	assert.True(t, time.Date(2024, 3, 16, 0, 0, 0, 0, loc).Equal(ev.StartTime))
	assert.Equal(t, 2, fake.callCount())
}

func TestNextEventBareTimeUsesZoneHint(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2024, 3, 15, 8, 0, 0, 0, loc)
	fake := &fakeCalendar{t: t, loc: loc, bodies: map[int]string{
		15: `{"items":[{"id":"3","summary":"Call","start":{"dateTime":"2024-03-15T23:00:00","timeZone":"Asia/Seoul"}}]}`,
	}}
	c := newTestClient(t, fake, staticTokens{})

	ev, err := c.NextEvent(context.Background(), now)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.True(t, time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC).Equal(ev.StartTime))
}

func TestNextEventSkipsUnparseableToday(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2024, 3, 15, 8, 0, 0, 0, loc)
	fake := &fakeCalendar{t: t, loc: loc, bodies: map[int]string{
		15: `{"items":[{"id":"4","summary":"Broken","start":{}}]}`,
		16: `{"items":[{"id":"5","summary":"Brunch","start":{"dateTime":"2024-03-16T11:00:00Z"}}]}`,
	}}
	c := newTestClient(t, fake, staticTokens{})

	ev, err := c.NextEvent(context.Background(), now)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "Brunch", ev.Title)
}

func TestNextEventNothingUpcoming(t *testing.T) {
	loc := newYork(t)
	fake := &fakeCalendar{t: t, loc: loc, bodies: map[int]string{}}
	c := newTestClient(t, fake, staticTokens{})

	ev, err := c.NextEvent(context.Background(), time.Date(2024, 3, 15, 8, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.Equal(t, 2, fake.callCount())
}

func TestNextEventAPIError(t *testing.T) {
	loc := newYork(t)
	fake := &fakeCalendar{t: t, loc: loc, status: http.StatusUnauthorized}
	c := newTestClient(t, fake, staticTokens{})

	_, err := c.NextEvent(context.Background(), time.Date(2024, 3, 15, 8, 0, 0, 0, loc))
	require.Error(t, err)

	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "events.list", ferr.Op)
	assert.Equal(t, http.StatusUnauthorized, ferr.StatusCode)
	assert.True(t, ferr.IsAuthError())
}

func TestNextEventWithoutSession(t *testing.T) {
	errSignedOut := errors.New("not signed in")
	loc := newYork(t)
	fake := &fakeCalendar{t: t, loc: loc}
	c := newTestClient(t, fake, staticTokens{err: errSignedOut})

	_, err := c.NextEvent(context.Background(), time.Now())
	assert.ErrorIs(t, err, errSignedOut)
	assert.Zero(t, fake.callCount())
}

func TestQueryWindowsMatchEventtime(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2024, 3, 15, 8, 0, 0, 0, loc)
	fake := &fakeCalendar{t: t, loc: loc}
	c := newTestClient(t, fake, staticTokens{})

	ev, err := c.NextEvent(context.Background(), now)
	require.NoError(t, err)
	assert.Nil(t, ev)

	windows := eventtime.Windows(now, loc)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.maxes, len(windows))
	for i, w := range windows {
		end, err := time.Parse(time.RFC3339Nano, fake.maxes[i])
		require.NoError(t, err)
		assert.True(t, w.End.Equal(end), "window %d ends at %s, query sent %s", i, w.End, end)
		assert.Equal(t, 999, end.Nanosecond()/int(time.Millisecond))
	}
}
