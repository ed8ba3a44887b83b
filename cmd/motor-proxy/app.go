package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/jmylchreest/motor-proxy/internal/auth"
	"github.com/jmylchreest/motor-proxy/internal/browser"
	"github.com/jmylchreest/motor-proxy/internal/config"
	"github.com/jmylchreest/motor-proxy/internal/login"
	"github.com/jmylchreest/motor-proxy/internal/proxy"
	"github.com/jmylchreest/motor-proxy/internal/store"
)

// app holds the long-lived components shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	manager *auth.Manager
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	manager := auth.NewManager(newExecutor(cfg, logger), st, auth.Options{
		SessionID:     cfg.SessionID,
		MaxSessionAge: cfg.MaxSessionAge,
	}, logger)

	return &app{cfg: cfg, logger: logger, store: st, manager: manager}, nil
}

func (a *app) Close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("error closing session store", "error", err)
	}
}

// newExecutor selects the login implementation for LOGIN_MODE.
func newExecutor(cfg *config.Config, logger *slog.Logger) auth.Executor {
	match := login.MatcherFor(cfg.CookieDomainMatch)

	if cfg.LoginMode == config.LoginModeBrowser {
		return browser.NewExecutor(browser.Config{
			PortalURL:        cfg.ResolvedLoginURL(),
			Username:         cfg.VendorUsername,
			Password:         cfg.VendorPassword,
			VendorDomain:     cfg.VendorDomain,
			UsernameSelector: cfg.UsernameSelector,
			PasswordSelector: cfg.PasswordSelector,
			SubmitSelector:   cfg.SubmitSelector,
			ConfirmSelector:  cfg.ConfirmSelector,
			StepTimeout:      cfg.LoginStepTimeout,
			Launch: browser.LaunchOptions{
				ChromePath: cfg.ChromePath,
				Headless:   cfg.BrowserHeadless,
				UserAgent:  cfg.UserAgent,
			},
			DisableStealth: cfg.DisableStealth,
			Match:          match,
		}, logger)
	}

	return login.NewRedirectClient(login.ClientConfig{
		LoginURL:     cfg.ResolvedLoginURL(),
		VendorDomain: cfg.VendorDomain,
		EntryPath:    cfg.VendorEntryPath,
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.LoginHTTPTimeout,
		Match:        match,
	}, logger)
}

func newGateway(cfg *config.Config, manager *auth.Manager, logger *slog.Logger) (*proxy.Gateway, error) {
	rewrites := proxy.DefaultRewriteTable()
	if cfg.RewriteRulesFile != "" {
		t, err := proxy.LoadRewriteTable(afero.NewOsFs(), cfg.RewriteRulesFile)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded rewrite rules", "file", cfg.RewriteRulesFile, "rules", t.Len())
		rewrites = t
	}

	return proxy.New(manager, proxy.Options{
		Upstream:    cfg.UpstreamBaseURL,
		Rewrites:    rewrites,
		UserAgent:   cfg.UserAgent,
		Referer:     cfg.VendorReferer,
		FailureMode: cfg.AuthFailureMode,
	}, logger)
}

// loginBudget is the longest a single login can plausibly take. Proxied
// requests may wait on one, so the server write timeout must exceed it.
func loginBudget(cfg *config.Config) time.Duration {
	if cfg.LoginMode == config.LoginModeBrowser {
		// launch, portal, form, submit, confirm, vendor
		return 6 * cfg.LoginStepTimeout
	}
	return time.Duration(login.MaxRedirects+2) * cfg.LoginHTTPTimeout
}
