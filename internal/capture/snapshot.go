// Package capture renders the standby page to a PNG with headless Chromium.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"standby/internal/fileutil"
	appLog "standby/internal/log"
)

// Defaults match a landscape phone on a charging dock.
const (
	DefaultWidth   = 1280
	DefaultHeight  = 720
	DefaultTimeout = 30 * time.Second
)

// readySelector is set on <body> once the page has rendered.
const readySelector = `[data-ready="true"]`

// Options defines one snapshot.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/".
	URL string
	// OutputPath is where the PNG is written.
	OutputPath string

	Width  int
	Height int

	Timeout time.Duration

	// Username and Password are sent as HTTP basic auth when set.
	Username string
	Password string
}

func (o Options) validate() (Options, error) {
	if o.URL == "" {
		return o, errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return o, errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o, nil
}

// authHeader returns the basic auth header, or nil when no credentials are
// configured.
func (o Options) authHeader() network.Headers {
	if o.Username == "" && o.Password == "" {
		return nil
	}
	token := base64.StdEncoding.EncodeToString([]byte(o.Username + ":" + o.Password))
	return network.Headers{"Authorization": "Basic " + token}
}

// Snapshot launches headless Chromium, loads opts.URL, waits for the page to
// mark itself ready and writes a viewport-sized PNG to opts.OutputPath.
func Snapshot(parent context.Context, opts Options) error {
	opts, err := opts.validate()
	if err != nil {
		return err
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(opts.Width, opts.Height),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height))}
	if h := opts.authHeader(); h != nil {
		tasks = append(tasks, network.Enable(), network.SetExtraHTTPHeaders(h))
	}
	tasks = append(tasks,
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		// Let the first /api/state poll land before the shot.
		chromedp.Sleep(1200*time.Millisecond),
		chromedp.CaptureScreenshot(&png),
	)

	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	if err := fileutil.WriteFileAtomic(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: write PNG: %w", err)
	}
	appLog.Info("snapshot written", "path", opts.OutputPath, "bytes", len(png))
	return nil
}
