package display

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"standby/internal/device"
	appLog "standby/internal/log"
	"standby/internal/store"
)

const (
	clockSpec     = "0 * * * * *"
	countdownSpec = "* * * * * *"
)

// DeviceSource supplies device samples.
type DeviceSource interface {
	Poll(ctx context.Context) device.Status
	Status() device.Status
	Subscribe() (<-chan device.Status, func())
}

// Screen owns the current Frame.
type Screen struct {
	cell    *store.Cell
	devices DeviceSource
	account func() string
	opts    Options
	poll    time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	frame Frame
}

// NewScreen returns a Screen reading the next event from cell and the signed
// in account from account. devices may be nil; poll is the device sampling
// interval.
func NewScreen(cell *store.Cell, devices DeviceSource, account func() string, opts Options, poll time.Duration) *Screen {
	if account == nil {
		account = func() string { return "" }
	}
	s := &Screen{
		cell:    cell,
		devices: devices,
		account: account,
		opts:    opts.withDefaults(),
		poll:    poll,
		now:     time.Now,
	}
	s.Redraw()
	return s
}

// Snapshot returns the current frame.
func (s *Screen) Snapshot() Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame
}

// Redraw recomputes every part of the frame, e.g. after a manual fetch or a
// sign-in.
func (s *Screen) Redraw() {
	var st device.Status
	if s.devices != nil {
		st = s.devices.Status()
	}
	now := s.now()
	ev, _ := s.cell.Upcoming(now)
	f := Compose(now, ev, st, s.account(), s.opts)
	s.mu.Lock()
	s.frame = f
	s.mu.Unlock()
}

func (s *Screen) tickClock() {
	now := s.now()
	s.mu.Lock()
	s.frame.setClock(now, s.opts)
	s.mu.Unlock()
}

func (s *Screen) tickCountdown() {
	now := s.now()
	ev, _ := s.cell.Upcoming(now)
	account := s.account()
	s.mu.Lock()
	s.frame.setEvent(now, ev, s.opts)
	s.frame.setAccount(account)
	s.mu.Unlock()
}

func (s *Screen) applyDevice(st device.Status) {
	s.mu.Lock()
	s.frame.setDevice(st)
	s.mu.Unlock()
}

// Run drives the frame until ctx is done. The clock job fires at second zero
// of every minute in the display zone, the countdown job every second.
func (s *Screen) Run(ctx context.Context) error {
	c, err := s.schedule(ctx)
	if err != nil {
		return err
	}
	s.Redraw()

	var wg sync.WaitGroup
	if s.devices != nil {
		updates, unsubscribe := s.devices.Subscribe()
		defer unsubscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case st := <-updates:
					s.applyDevice(st)
				}
			}
		}()
		go s.devices.Poll(ctx)
	}

	c.Start()
	appLog.Info("display started", "entries", len(c.Entries()))

	<-ctx.Done()
	<-c.Stop().Done()
	wg.Wait()
	appLog.Info("display stopped")
	return nil
}

func (s *Screen) schedule(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(s.opts.Location),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := c.AddFunc(clockSpec, s.tickClock); err != nil {
		return nil, fmt.Errorf("display: clock job: %w", err)
	}
	if _, err := c.AddFunc(countdownSpec, s.tickCountdown); err != nil {
		return nil, fmt.Errorf("display: countdown job: %w", err)
	}
	if s.devices != nil && s.poll > 0 {
		spec := "@every " + s.poll.String()
		if _, err := c.AddFunc(spec, func() { s.devices.Poll(ctx) }); err != nil {
			return nil, fmt.Errorf("display: device job: %w", err)
		}
	}
	return c, nil
}

// cronLogger routes cron's own logging through appLog.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
