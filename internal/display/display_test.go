package display

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/goodsign/monday"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standby/internal/device"
	"standby/internal/model"
	"standby/internal/refresh"
	"standby/internal/store"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestCompose(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2024, 3, 15, 9, 5, 30, 0, loc)
	ev := model.NewEvent(time.Date(2024, 3, 15, 10, 0, 0, 0, loc), "Design review")
	st := device.Status{Battery: &device.Battery{Percent: 57, Charging: true}, Bluetooth: true}

	f := Compose(now, ev, st, "a@example.com", Options{Location: loc})

	assert.Equal(t, "9:05", f.Clock)
	assert.Equal(t, "Friday, March 15, 2024", f.Date)
	assert.True(t, f.HasEvent)
	assert.Equal(t, "Design review", f.EventTitle)
	assert.Equal(t, "in 55m", f.Countdown)
	assert.Equal(t, "57%", f.Battery)
	assert.True(t, f.Charging)
	assert.True(t, f.Bluetooth)
	assert.True(t, f.SignedIn)
}

func TestComposeHidesStartedEvent(t *testing.T) {
	loc := newYork(t)
	start := time.Date(2024, 3, 15, 10, 0, 0, 0, loc)
	ev := model.NewEvent(start, "Standup")

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"one second before", start.Add(-time.Second), true},
		{"exactly at start", start, false},
		{"after start", start.Add(time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Compose(tt.now, ev, device.Status{}, "", Options{Location: loc, CountdownSeconds: true})
			assert.Equal(t, tt.want, f.HasEvent)
			if tt.want {
				assert.Equal(t, "in 1s", f.Countdown)
			} else {
				assert.Empty(t, f.Countdown)
				assert.Empty(t, f.EventTitle)
			}
		})
	}
}

func TestComposeWithoutBatteryOrAccount(t *testing.T) {
	f := Compose(time.Now(), nil, device.Status{}, "", Options{})
	assert.Empty(t, f.Battery)
	assert.False(t, f.SignedIn)
	assert.False(t, f.HasEvent)
}

func TestComposeLocalizedDate(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2024, 3, 15, 9, 5, 0, 0, loc)
	f := Compose(now, nil, device.Status{}, "", Options{Location: loc, Locale: monday.LocaleFrFR})
	assert.Contains(t, f.Date, "vendredi")
	assert.NotContains(t, f.Date, "Friday")
}

type fakeDevices struct {
	mu      sync.Mutex
	status  device.Status
	updates chan device.Status
	polls   int
}

func (f *fakeDevices) Poll(context.Context) device.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return f.status
}

func (f *fakeDevices) Status() device.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeDevices) Subscribe() (<-chan device.Status, func()) {
	return f.updates, func() {}
}

func TestScreenTicks(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2024, 3, 15, 9, 59, 0, 0, loc)
	cell := store.NewCell(nil)
	account := "a@example.com"

	s := NewScreen(cell, nil, func() string { return account }, Options{Location: loc}, 0)
	s.now = func() time.Time { return now }
	s.Redraw()
	assert.Equal(t, "9:59", s.Snapshot().Clock)
	assert.False(t, s.Snapshot().HasEvent)

	cell.Store(model.NewEvent(time.Date(2024, 3, 15, 10, 30, 0, 0, loc), "Sync"))
	now = now.Add(30 * time.Second)
	s.tickCountdown()
	f := s.Snapshot()
	assert.True(t, f.HasEvent)
	assert.Equal(t, "in 31m", f.Countdown)
	assert.Equal(t, "9:59", f.Clock, "the clock only moves on the minute tick")

	now = time.Date(2024, 3, 15, 10, 0, 0, 0, loc)
	s.tickClock()
	assert.Equal(t, "10:00", s.Snapshot().Clock)

	account = ""
	s.tickCountdown()
	assert.False(t, s.Snapshot().SignedIn)

	now = time.Date(2024, 3, 15, 10, 30, 0, 0, loc)
	s.tickCountdown()
	assert.False(t, s.Snapshot().HasEvent, "an event starting now is no longer upcoming")
	assert.NotNil(t, cell.Load(), "the stale entry stays cached until the next fetch")
}

func TestScreenRunAppliesDeviceUpdates(t *testing.T) {
	devices := &fakeDevices{updates: make(chan device.Status, 1)}
	s := NewScreen(store.NewCell(nil), devices, nil, Options{Location: time.UTC}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	devices.updates <- device.Status{Battery: &device.Battery{Percent: 12}, Bluetooth: true}
	require.Eventually(t, func() bool { return s.Snapshot().Battery == "12%" }, time.Second, time.Millisecond)
	assert.True(t, s.Snapshot().Bluetooth)

	cancel()
	require.NoError(t, <-done)
}

func TestScheduleRegistersJobs(t *testing.T) {
	s := NewScreen(store.NewCell(nil), &fakeDevices{}, nil, Options{}, 15*time.Second)
	c, err := s.schedule(context.Background())
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 3)

	s = NewScreen(store.NewCell(nil), nil, nil, Options{}, 15*time.Second)
	c, err = s.schedule(context.Background())
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 2)
}

func TestFetchStatus(t *testing.T) {
	loc := newYork(t)
	opts := Options{Location: loc}
	ev := model.NewEvent(time.Date(2024, 3, 15, 14, 30, 0, 0, loc), "Dentist")

	assert.Equal(t, "Fetched: Dentist at Friday, March 15, 2024 2:30 PM", FetchStatus(ev, nil, opts))
	assert.Equal(t, "No upcoming events", FetchStatus(nil, nil, opts))
	assert.Equal(t, "Fetch failed: boom", FetchStatus(nil, errors.New("boom"), opts))
	assert.Equal(t, "Fetch failed: not signed in", FetchStatus(nil, refresh.ErrIdle, opts))
}
