package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standby/internal/display"
)

type fakeScreen struct{ frame display.Frame }

func (f *fakeScreen) Snapshot() display.Frame { return f.frame }

func TestViewShowsFrame(t *testing.T) {
	screen := &fakeScreen{frame: display.Frame{
		Clock:      "9:05",
		Date:       "Friday, March 15, 2024",
		HasEvent:   true,
		EventTitle: "Standup",
		Countdown:  "in 25m",
		Battery:    "80%",
		Bluetooth:  true,
	}}
	m := New(context.Background(), screen, nil)

	view := m.View()
	assert.Contains(t, view, "9:05")
	assert.Contains(t, view, "Friday, March 15, 2024")
	assert.Contains(t, view, "Standup in 25m")
	assert.Contains(t, view, "80%")
	assert.Contains(t, view, "BT")
}

func TestTickPicksUpNewFrame(t *testing.T) {
	screen := &fakeScreen{frame: display.Frame{Clock: "9:05"}}
	m := New(context.Background(), screen, nil)

	screen.frame = display.Frame{Clock: "9:06"}
	next, cmd := m.Update(tickMsg{})
	require.NotNil(t, cmd)
	assert.Contains(t, next.View(), "9:06")
}

func TestRefreshKey(t *testing.T) {
	screen := &fakeScreen{}
	calls := 0
	fetch := func(context.Context) string {
		calls++
		return "No upcoming events"
	}
	m := New(context.Background(), screen, fetch)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	require.NotNil(t, cmd)
	assert.True(t, next.(Model).fetching)

	// A second press while fetching is ignored.
	_, again := next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	assert.Nil(t, again)

	msg := cmd()
	assert.Equal(t, 1, calls)
	done, _ := next.Update(msg)
	assert.False(t, done.(Model).fetching)
	assert.Contains(t, done.View(), "No upcoming events")
}

func TestQuitKey(t *testing.T) {
	m := New(context.Background(), &fakeScreen{}, nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
