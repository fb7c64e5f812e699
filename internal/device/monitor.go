// Package device samples the hardware shown in the status bar: battery,
// Bluetooth audio and network reachability.
package device

import (
	"context"
	"sync"

	appLog "standby/internal/log"
)

// Status is the latest device sample.
type Status struct {
	// Battery is nil when no battery reader is configured or it failed.
	Battery   *Battery `json:"battery,omitempty"`
	Bluetooth bool     `json:"bluetooth"`
	Online    bool     `json:"online"`
}

// Monitor polls the device sources and publishes changes.
type Monitor struct {
	battery   BatteryReader
	bluetooth BluetoothProbe
	online    OnlineFunc

	// OnOnline runs when the network goes from unavailable to available.
	OnOnline func()

	mu      sync.Mutex
	status  Status
	polled  bool
	subs    map[int]chan Status
	nextSub int
}

// NewMonitor returns a Monitor. Any source may be nil.
func NewMonitor(battery BatteryReader, bluetooth BluetoothProbe, online OnlineFunc) *Monitor {
	return &Monitor{
		battery:   battery,
		bluetooth: bluetooth,
		online:    online,
		subs:      make(map[int]chan Status),
	}
}

// Status returns the last sample.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe returns a channel carrying the latest Status after each change.
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Poll samples every source once. Subscribers hear about changes; OnOnline
// fires on an offline to online transition, not on the first sample.
func (m *Monitor) Poll(ctx context.Context) Status {
	var next Status

	if m.battery != nil {
		b, err := m.battery.Read(ctx)
		if err != nil {
			appLog.Debug("battery read failed", "err", err.Error())
		} else {
			next.Battery = &b
		}
	}
	if m.bluetooth != nil {
		connected, err := m.bluetooth.AudioConnected(ctx)
		if err != nil {
			appLog.Debug("bluetooth probe failed", "err", err.Error())
		}
		next.Bluetooth = connected
	}
	if m.online != nil {
		up, err := m.online()
		if err != nil {
			appLog.Debug("network probe failed", "err", err.Error())
		}
		next.Online = up
	}

	m.mu.Lock()
	prev, first := m.status, !m.polled
	m.status, m.polled = next, true
	changed := first || !equalStatus(prev, next)
	if changed {
		for _, ch := range m.subs {
			select {
			case <-ch:
			default:
			}
			ch <- next
		}
	}
	m.mu.Unlock()

	if !first && !prev.Online && next.Online {
		appLog.Info("network available")
		if m.OnOnline != nil {
			m.OnOnline()
		}
	}
	return next
}

func equalStatus(a, b Status) bool {
	if a.Bluetooth != b.Bluetooth || a.Online != b.Online {
		return false
	}
	if (a.Battery == nil) != (b.Battery == nil) {
		return false
	}
	return a.Battery == nil || *a.Battery == *b.Battery
}
