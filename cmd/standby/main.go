package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"standby/internal/capture"
	"standby/internal/config"
	"standby/internal/device"
	"standby/internal/display"
	appLog "standby/internal/log"
	"standby/internal/tui"
	"standby/internal/web"
)

var version = "0.1.0-dev"

var (
	configPath string
	logLevel   string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "standby",
	Short:         "Standby clock with the next calendar event",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config %s: %w", configPath, err)
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/standby/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info or error (overrides config)")
	rootCmd.AddCommand(newRunCmd(), newFetchCmd(), newSignOutCmd(), newSnapshotCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		appLog.Error("standby failed", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		listen  string
		withTUI bool
		once    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the standby daemon (web UI, refresh loop, display ticks)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				cfg.Listen = listen
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			if once {
				ev, err := a.fetchOnce(cmd.Context())
				fmt.Fprintln(cmd.OutOrStdout(), display.FetchStatus(ev, err, a.displayOptions()))
				return err
			}
			return runDaemon(cmd.Context(), a, withTUI)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	cmd.Flags().BoolVar(&withTUI, "tui", false, "Also draw the standby screen in this terminal")
	cmd.Flags().BoolVar(&once, "once", false, "Fetch the next event once and exit")
	return cmd
}

func runDaemon(ctx context.Context, a *app, withTUI bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appLog.Info("standby starting",
		"version", version,
		"listen", a.cfg.Listen,
		"provider", a.cfg.Calendar.Provider,
		"timezone", a.cfg.Location().String(),
		"locale", a.cfg.Locale,
		"refresh_interval", a.cfg.Refresh.Interval,
		"min_retry", a.cfg.Refresh.MinRetry,
	)

	sup := a.newSupervisor()

	monitor := a.newMonitor(ctx, sup, device.InterfacesOnline)

	screen := display.NewScreen(a.cell, monitor, a.displayAccount, a.displayOptions(), a.cfg.Device.Poll)

	deps := web.Deps{
		Screen:    screen,
		Refresher: sup,
		Metrics:   promhttp.Handler(),
	}
	if a.session != nil {
		deps.Session = liveSession{Manager: a.session, app: a, sup: sup}
	}
	server := web.NewServer(a.cfg, deps)

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	goRun := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				appLog.Error(name+" stopped with error", err)
				errCh <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	if a.session != nil {
		changes, unsubscribe := a.session.Subscribe()
		defer unsubscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.Follow(ctx, changes)
		}()
	}
	sup.SetAccount(ctx, a.account())
	if sup.Account() == "" {
		appLog.Info("not signed in; open /settings to sign in", "listen", "http://"+a.cfg.Listen+"/settings")
	}

	goRun("display", func() error { return screen.Run(ctx) })
	goRun("http", func() error { return server.Serve(ctx) })

	if withTUI {
		logFile, err := os.OpenFile(filepath.Join(a.cfg.StateDir, "standby.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err == nil {
			appLog.SetOutput(logFile)
			defer logFile.Close()
		}
		fetch := func(ctx context.Context) string {
			ev, err := sup.FetchNow(ctx)
			screen.Redraw()
			return display.FetchStatus(ev, err, a.displayOptions())
		}
		if err := tui.Run(ctx, screen, fetch); err != nil {
			errCh <- fmt.Errorf("tui: %w", err)
		}
		cancel()
	}

	<-ctx.Done()
	sup.Stop()
	wg.Wait()
	appLog.SetOutput(os.Stderr)
	appLog.Info("standby exiting")

	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the next event once and print the outcome",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			ev, err := a.fetchOnce(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), display.FetchStatus(ev, err, a.displayOptions()))
			return err
		},
	}
}

func newSignOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out of Google and clear the cached event",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			if err := a.signOut(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newSnapshotCmd() *cobra.Command {
	var opts capture.Options
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Render the standby page of a running daemon to a PNG",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.URL == "" {
				opts.URL = "http://" + cfg.Listen + "/"
			}
			if opts.OutputPath == "" {
				opts.OutputPath = filepath.Join(cfg.StateDir, "snapshot.png")
			}
			if cfg.BasicAuth != nil {
				opts.Username, opts.Password = cfg.BasicAuth.Username, cfg.BasicAuth.Password
			}
			if err := capture.Snapshot(cmd.Context(), opts); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), opts.OutputPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.URL, "url", "", "Page to capture (default http://<listen>/)")
	cmd.Flags().StringVar(&opts.OutputPath, "out", "", "Output PNG path (default <state_dir>/snapshot.png)")
	cmd.Flags().IntVar(&opts.Width, "width", capture.DefaultWidth, "Viewport width in pixels")
	cmd.Flags().IntVar(&opts.Height, "height", capture.DefaultHeight, "Viewport height in pixels")
	return cmd
}
