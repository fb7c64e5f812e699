// Package tui draws the standby screen in a terminal.
package tui

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"standby/internal/display"
)

// Screen supplies frames.
type Screen interface {
	Snapshot() display.Frame
}

// FetchFunc runs a manual fetch and returns its status line.
type FetchFunc func(ctx context.Context) string

var (
	barStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	chargingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	clockStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255")).Padding(0, 2)
	dateStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	nextStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("117")).MarginTop(1)
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("117"))
	bluetoothGlyph = "BT"
)

type tickMsg time.Time

type fetchedMsg string

// Model is the Bubble Tea model of the standby screen.
type Model struct {
	ctx    context.Context
	screen Screen
	fetch  FetchFunc

	frame    display.Frame
	width    int
	height   int
	status   string
	fetching bool
}

// New returns a Model. fetch may be nil to disable the refresh key.
func New(ctx context.Context, screen Screen, fetch FetchFunc) Model {
	return Model{ctx: ctx, screen: screen, fetch: fetch, frame: screen.Snapshot()}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the once-a-second redraw.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update handles keys, resizes, ticks and fetch results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			if m.fetch == nil || m.fetching {
				return m, nil
			}
			m.fetching = true
			m.status = "Fetching…"
			ctx, fetch := m.ctx, m.fetch
			return m, func() tea.Msg { return fetchedMsg(fetch(ctx)) }
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tickMsg:
		m.frame = m.screen.Snapshot()
		return m, tick()
	case fetchedMsg:
		m.fetching = false
		m.status = string(msg)
		m.frame = m.screen.Snapshot()
	}
	return m, nil
}

// View renders the frame.
func (m Model) View() string {
	f := m.frame

	left := ""
	if f.HasEvent {
		left = f.EventTitle
	}
	var right []string
	if f.Bluetooth {
		right = append(right, bluetoothGlyph)
	}
	if f.Battery != "" {
		if f.Charging {
			right = append(right, chargingStyle.Render("⚡"+f.Battery))
		} else {
			right = append(right, f.Battery)
		}
	}
	bar := statusBar(left, strings.Join(right, "  "), m.width)

	body := []string{clockStyle.Render(f.Clock), dateStyle.Render(f.Date)}
	if f.HasEvent {
		body = append(body, nextStyle.Render(f.EventTitle+" "+f.Countdown))
	}
	center := lipgloss.JoinVertical(lipgloss.Center, body...)

	footer := helpStyle.Render("r refresh · q quit")
	if m.status != "" {
		footer = statusStyle.Render(m.status) + "  " + footer
	}

	if m.width == 0 || m.height == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, bar, "", center, "", footer)
	}
	middle := lipgloss.Place(m.width, max(m.height-2, 1), lipgloss.Center, lipgloss.Center, center)
	return lipgloss.JoinVertical(lipgloss.Left, bar, middle, footer)
}

func statusBar(left, right string, width int) string {
	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 2 {
		gap = 2
	}
	return barStyle.Render(left + strings.Repeat(" ", gap) + right)
}

// Run shows the screen until the user quits or ctx is done.
func Run(ctx context.Context, screen Screen, fetch FetchFunc) error {
	p := tea.NewProgram(New(ctx, screen, fetch), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
