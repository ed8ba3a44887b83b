// Package browser drives a headless Chromium through the interactive vendor
// login when a plain redirect chain is not enough.
package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// LaunchOptions configures the Chromium process.
type LaunchOptions struct {
	// ChromePath is the browser binary. Empty lets rod download or locate one.
	ChromePath string
	Headless   bool
	UserAgent  string
}

// Launch starts Chromium and connects to it. The caller must Close the
// returned browser.
func Launch(ctx context.Context, opts LaunchOptions, logger *slog.Logger) (*rod.Browser, error) {
	l := launcher.New().Context(ctx)

	if opts.ChromePath != "" {
		l = l.Bin(opts.ChromePath)
	}

	l = l.
		Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-infobars").
		Set("disable-extensions").
		Set("disable-background-networking").
		Set("window-size", "1920,1080").
		Set("lang", "en-US,en")
	if opts.UserAgent != "" {
		l = l.Set("user-agent", opts.UserAgent)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	b := rod.New().Context(ctx).ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}

	logger.Debug("browser launched", "headless", opts.Headless, "custom_binary", opts.ChromePath != "")
	return b, nil
}

// EnsureBinary makes sure a Chromium binary is available so the first login
// does not stall on a download.
func EnsureBinary(chromePath string, logger *slog.Logger) error {
	if chromePath != "" {
		logger.Info("using custom Chrome path", "path", chromePath)
		return nil
	}
	path, err := launcher.NewBrowser().Get()
	if err != nil {
		return fmt.Errorf("fetching Chromium: %w", err)
	}
	logger.Info("Chromium ready", "path", path)
	return nil
}
