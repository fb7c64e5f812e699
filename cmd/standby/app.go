package main

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"standby/internal/config"
	"standby/internal/device"
	"standby/internal/display"
	"standby/internal/gcal"
	"standby/internal/ics"
	appLog "standby/internal/log"
	"standby/internal/metrics"
	"standby/internal/model"
	"standby/internal/refresh"
	"standby/internal/session"
	"standby/internal/store"
)

// app holds the pieces shared by every subcommand.
type app struct {
	cfg     *config.Config
	cell    *store.Cell
	session *session.Manager // nil in ICS mode
	fetcher refresh.Fetcher
	metrics *metrics.Metrics
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		cell:    store.NewCell(store.NewFileStore(cfg.EventPath())),
		metrics: metrics.Default(),
	}
	a.cell.Restore()
	a.metrics.SetEventCached(a.cell.Load() != nil)

	loc := cfg.Location()
	switch cfg.Calendar.Provider {
	case config.ProviderICS:
		feeds := make([]ics.Feed, 0, len(cfg.Calendar.ICS))
		for _, src := range cfg.Calendar.ICS {
			if src.URL == "" {
				continue
			}
			id := src.ID
			if id == "" {
				id = src.Name
			}
			if id == "" {
				id = fmt.Sprintf("feed%d", len(feeds)+1)
			}
			feeds = append(feeds, ics.Feed{ID: id, URL: src.URL})
		}
		a.fetcher = ics.NewSource(ics.NewFetcher(cfg.ICSCacheDir(), nil), feeds, loc)

	default:
		oauthConf := session.GoogleOAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL)
		identify := func(ctx context.Context, ts oauth2.TokenSource) (string, error) {
			return gcal.PrimaryCalendarID(ctx, ts)
		}
		a.session = session.NewManager(oauthConf, cfg.TokenPath(), identify)
		if err := a.session.Load(); err != nil {
			return nil, err
		}
		a.fetcher = gcal.NewClient(a.session, cfg.Calendar.CalendarID, loc)
	}
	return a, nil
}

// account is the identity the refresh loop should run under right now.
func (a *app) account() string {
	if a.session == nil {
		return ics.Account
	}
	email, _ := a.session.Current()
	return email
}

// displayAccount is what the screen shows as the signed-in account.
func (a *app) displayAccount() string {
	if a.session == nil {
		return ""
	}
	return a.account()
}

func (a *app) displayOptions() display.Options {
	return display.Options{
		Location:         a.cfg.Location(),
		Locale:           a.cfg.MondayLocale(),
		CountdownSeconds: a.cfg.CountdownSeconds,
	}
}

func (a *app) newSupervisor() *refresh.Supervisor {
	return refresh.New(a.fetcher, a.cell, refresh.Options{
		Floor:   a.cfg.Refresh.MinRetry,
		Ceiling: a.cfg.Refresh.Interval,
	}, a.metrics)
}

// fetchOnce runs a single fetch outside any loop and commits the result.
func (a *app) fetchOnce(ctx context.Context) (*model.Event, error) {
	return a.newSupervisor().FetchOnce(ctx, a.account())
}

// newMonitor samples device status. Coming back online triggers an extra
// fetch on sup.
func (a *app) newMonitor(ctx context.Context, sup *refresh.Supervisor, online device.OnlineFunc) *device.Monitor {
	var bluetooth device.BluetoothProbe
	if a.cfg.Device.Bluetooth {
		bluetooth = device.NewBluezProbe()
	}
	monitor := device.NewMonitor(device.NewBatteryReader(ctx, a.cfg.Device.Battery), bluetooth, online)
	monitor.OnOnline = func() { sup.Trigger(refresh.TriggerNetwork) }
	return monitor
}

// liveSession is the web UI's view of the Google session. Signing out halts
// the refresh loop and clears the cache before the handler redraws.
type liveSession struct {
	*session.Manager
	app *app
	sup *refresh.Supervisor
}

func (s liveSession) SignOut() error {
	if err := s.app.signOut(); err != nil {
		return err
	}
	s.sup.SetAccount(context.Background(), "")
	return nil
}

// signOut forgets the Google account and the cached event.
func (a *app) signOut() error {
	if a.session == nil {
		return fmt.Errorf("sign-out is only available with the %q provider", config.ProviderGoogle)
	}
	if err := a.session.SignOut(); err != nil {
		return err
	}
	a.cell.Clear()
	appLog.Info("cached event cleared")
	return nil
}
