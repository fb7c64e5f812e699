// Package display keeps the standby screen's contents current: the clock
// once a minute, the countdown once a second and the status bar whenever a
// device sample changes. Renderers (web page, terminal) read Snapshot.
package display

import (
	"fmt"
	"time"

	"github.com/goodsign/monday"

	"standby/internal/device"
	"standby/internal/model"
	"standby/internal/timefmt"
)

// Options controls formatting.
type Options struct {
	Location         *time.Location
	Locale           monday.Locale
	CountdownSeconds bool
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Locale == "" {
		o.Locale = monday.LocaleEnUS
	}
	return o
}

// Frame is everything drawn on the standby screen at one instant.
type Frame struct {
	Clock string `json:"clock"`
	Date  string `json:"date"`

	HasEvent   bool   `json:"has_event"`
	EventTitle string `json:"event_title,omitempty"`
	Countdown  string `json:"countdown,omitempty"`

	// Battery is "NN%", empty when unknown.
	Battery   string `json:"battery,omitempty"`
	Charging  bool   `json:"charging"`
	Bluetooth bool   `json:"bluetooth"`
	Online    bool   `json:"online"`

	Account  string `json:"account,omitempty"`
	SignedIn bool   `json:"signed_in"`
}

// Compose builds a whole frame. ev may be nil or already started, in which
// case no event is shown.
func Compose(now time.Time, ev *model.Event, st device.Status, account string, opts Options) Frame {
	opts = opts.withDefaults()
	var f Frame
	f.setClock(now, opts)
	f.setEvent(now, ev, opts)
	f.setDevice(st)
	f.setAccount(account)
	return f
}

func (f *Frame) setClock(now time.Time, opts Options) {
	local := now.In(opts.Location)
	f.Clock = timefmt.Clock(local, opts.Locale)
	f.Date = timefmt.Date(local, opts.Locale)
}

func (f *Frame) setEvent(now time.Time, ev *model.Event, opts Options) {
	if !ev.IsInFuture(now) {
		f.HasEvent, f.EventTitle, f.Countdown = false, "", ""
		return
	}
	f.HasEvent = true
	f.EventTitle = ev.Title
	f.Countdown = timefmt.Countdown(now, ev.StartTime, opts.CountdownSeconds)
}

func (f *Frame) setDevice(st device.Status) {
	f.Battery, f.Charging = "", false
	if st.Battery != nil {
		f.Battery = fmt.Sprintf("%d%%", st.Battery.Percent)
		f.Charging = st.Battery.Charging
	}
	f.Bluetooth = st.Bluetooth
	f.Online = st.Online
}

func (f *Frame) setAccount(account string) {
	f.Account = account
	f.SignedIn = account != ""
}
