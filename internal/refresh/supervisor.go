// Package refresh runs the calendar refresh loop for the signed-in account.
//
// A Supervisor owns at most one loop at a time. Each loop fetches
// immediately, then waits according to Backoff. Identity changes restart the
// loop; signing out halts it and clears the cached event. Results from a loop
// whose identity is no longer current are discarded.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	appLog "standby/internal/log"
	"standby/internal/metrics"
	"standby/internal/model"
	"standby/internal/store"
)

// ErrIdle is returned by FetchNow when no account is signed in.
var ErrIdle = errors.New("refresh: no signed-in account")

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerNetwork   = "network"
)

// Fetcher retrieves the next upcoming event. A nil event with a nil error
// means the calendar has nothing upcoming.
type Fetcher interface {
	NextEvent(ctx context.Context, now time.Time) (*model.Event, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, now time.Time) (*model.Event, error)

func (f FetcherFunc) NextEvent(ctx context.Context, now time.Time) (*model.Event, error) {
	return f(ctx, now)
}

// Timer is the subset of time.Timer the loop needs.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

// Options configures backoff and per-fetch timeout.
type Options struct {
	// Floor is the first retry delay after a failure.
	Floor time.Duration
	// Ceiling is the steady refresh interval and the backoff cap.
	Ceiling time.Duration
	// FetchTimeout bounds a single fetch. Zero means 30s.
	FetchTimeout time.Duration
}

// Supervisor starts, restarts and stops the refresh loop as the signed-in
// identity changes. It is the only writer of the event cell.
type Supervisor struct {
	fetcher  Fetcher
	cell     *store.Cell
	opts     Options
	metrics  *metrics.Metrics
	now      func() time.Time
	newTimer func(time.Duration) Timer
	trigger  chan string

	mu      sync.Mutex
	account string
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an idle Supervisor. m may be nil.
func New(fetcher Fetcher, cell *store.Cell, opts Options, m *metrics.Metrics) *Supervisor {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	return &Supervisor{
		fetcher:  fetcher,
		cell:     cell,
		opts:     opts,
		metrics:  m,
		now:      time.Now,
		newTimer: func(d time.Duration) Timer { return realTimer{time.NewTimer(d)} },
		trigger:  make(chan string, 1),
	}
}

// Account returns the identity the current loop runs for, or "" when idle.
func (s *Supervisor) Account() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// SetAccount switches the loop to account. An empty account halts the loop
// and clears the cached event. Setting the current account again is a no-op.
// The previous loop has fully exited when SetAccount returns.
func (s *Supervisor) SetAccount(ctx context.Context, account string) {
	s.mu.Lock()
	if account == s.account {
		s.mu.Unlock()
		return
	}

	prevAccount := s.account
	prevCancel, prevDone := s.cancel, s.done
	s.account = account
	s.gen++
	s.cancel, s.done = nil, nil

	// Startup (idle -> signed in) keeps the restored cache; any other
	// identity change must not show the previous identity's event.
	if prevAccount != "" {
		s.cell.Clear()
		s.metrics.SetEventCached(false)
	}
	s.metrics.SetSignedIn(account != "")

	if account != "" {
		loopCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		s.cancel, s.done = cancel, done
		gen := s.gen
		go func() {
			defer close(done)
			s.run(loopCtx, account, gen)
		}()
	}
	s.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}
}

// Follow applies identity changes from changes until ctx is done, then stops
// the loop.
func (s *Supervisor) Follow(ctx context.Context, changes <-chan string) {
	defer s.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case account, ok := <-changes:
			if !ok {
				<-ctx.Done()
				return
			}
			s.SetAccount(ctx, account)
		}
	}
}

// Stop halts the running loop, if any, without clearing the cache.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.gen++
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Trigger requests one extra fetch outside the normal wait. It never blocks
// and leaves the backoff state untouched. Requests coalesce while one is
// pending.
func (s *Supervisor) Trigger(reason string) {
	select {
	case s.trigger <- reason:
	default:
	}
}

// FetchNow runs one fetch for the current account immediately and reports
// its outcome. The backoff state of the running loop is not affected.
func (s *Supervisor) FetchNow(ctx context.Context) (*model.Event, error) {
	s.mu.Lock()
	account, gen := s.account, s.gen
	s.mu.Unlock()

	if account == "" {
		return nil, ErrIdle
	}
	return s.fetch(ctx, account, gen, TriggerManual)
}

// FetchOnce runs one manual fetch for account without starting a loop, for
// callers that live only as long as a single command. The result is
// committed unless the identity changes while the fetch is in flight.
func (s *Supervisor) FetchOnce(ctx context.Context, account string) (*model.Event, error) {
	if account == "" {
		return nil, ErrIdle
	}
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	return s.fetch(ctx, account, gen, TriggerManual)
}

func (s *Supervisor) run(ctx context.Context, account string, gen uint64) {
	appLog.Info("refresh loop started", "account", account)
	defer appLog.Info("refresh loop stopped", "account", account)

	// A trigger queued while idle is covered by the immediate first fetch.
	select {
	case <-s.trigger:
	default:
	}

	backoff := NewBackoff(s.opts.Floor, s.opts.Ceiling)
	for {
		var delay time.Duration
		if _, err := s.fetch(ctx, account, gen, TriggerScheduled); err != nil {
			delay = backoff.Failed()
		} else {
			delay = backoff.Succeeded()
		}
		if ctx.Err() != nil {
			return
		}

		s.metrics.SetNextDelay(delay)
		appLog.Debug("refresh waiting", "account", account, "delay", delay)

		if !s.wait(ctx, account, gen, delay) {
			return
		}
	}
}

// wait blocks for delay, serving extra triggers in the meantime. It returns
// false when ctx is done.
func (s *Supervisor) wait(ctx context.Context, account string, gen uint64, delay time.Duration) bool {
	timer := s.newTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C():
			return true
		case reason := <-s.trigger:
			appLog.Info("refresh triggered", "account", account, "reason", reason)
			_, _ = s.fetch(ctx, account, gen, reason)
			if ctx.Err() != nil {
				return false
			}
		}
	}
}

// fetch runs one fetch and commits its result if the identity that started
// it is still current. Errors are logged and returned, never raised further.
func (s *Supervisor) fetch(ctx context.Context, account string, gen uint64, trigger string) (*model.Event, error) {
	fctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	start := time.Now()
	ev, err := s.fetcher.NextEvent(fctx, s.now())
	s.metrics.ObserveFetch(trigger, time.Since(start), err)
	if err != nil {
		appLog.Error("calendar fetch failed", err, "account", account, "trigger", trigger)
		return nil, err
	}

	if !s.commit(ctx, gen, ev) {
		appLog.Info("discarding fetch result for stale session", "account", account, "trigger", trigger)
		return ev, nil
	}

	if ev == nil {
		appLog.Info("calendar fetch: no upcoming events", "account", account, "trigger", trigger)
	} else {
		appLog.Info("calendar fetch: next event",
			"account", account,
			"trigger", trigger,
			"title", ev.Title,
			"start", ev.StartTime.Format(time.RFC3339),
		)
	}
	return ev, nil
}

func (s *Supervisor) commit(ctx context.Context, gen uint64, ev *model.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil || gen != s.gen {
		return false
	}
	s.cell.Store(ev)
	s.metrics.SetEventCached(ev != nil)
	return true
}
