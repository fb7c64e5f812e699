// Package store holds the single cached "next event" slot and its on-disk
// copy.
package store

import (
	"sync/atomic"
	"time"

	appLog "standby/internal/log"
	"standby/internal/model"
)

// Persister saves and restores the cached event. A nil event means "none".
type Persister interface {
	Save(ev *model.Event) error
	Load() (*model.Event, error)
}

// Cell is a one-slot cache with a single writer (the refresh loop) and any
// number of readers. Replacement and clearing are single atomic operations.
type Cell struct {
	ev      atomic.Pointer[model.Event]
	persist Persister
}

// NewCell creates an empty Cell. persist may be nil for a memory-only cell.
func NewCell(persist Persister) *Cell {
	return &Cell{persist: persist}
}

// Restore loads the persisted event into the cell. A missing or unreadable
// file leaves the cell empty.
func (c *Cell) Restore() {
	if c.persist == nil {
		return
	}
	ev, err := c.persist.Load()
	if err != nil {
		appLog.Error("event cache restore failed", err)
		return
	}
	c.ev.Store(ev)
	if ev != nil {
		appLog.Info("event cache restored", "title", ev.Title, "start", ev.StartTime.Format(time.RFC3339))
	}
}

// Store replaces the cached event. Passing nil clears it.
func (c *Cell) Store(ev *model.Event) {
	c.ev.Store(ev)
	if c.persist == nil {
		return
	}
	if err := c.persist.Save(ev); err != nil {
		appLog.Error("event cache save failed", err)
	}
}

// Clear drops the cached event.
func (c *Cell) Clear() {
	c.Store(nil)
}

// Load returns the cached event regardless of whether it is still upcoming.
func (c *Cell) Load() *model.Event {
	return c.ev.Load()
}

// Upcoming returns the cached event only if it starts strictly after now.
// Stale entries are reported as absent but left in place.
func (c *Cell) Upcoming(now time.Time) (*model.Event, bool) {
	ev := c.ev.Load()
	if !ev.IsInFuture(now) {
		return nil, false
	}
	return ev, true
}
