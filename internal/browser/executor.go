package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/jmylchreest/motor-proxy/internal/consent"
	"github.com/jmylchreest/motor-proxy/internal/logging"
	"github.com/jmylchreest/motor-proxy/internal/login"
	"github.com/jmylchreest/motor-proxy/internal/models"
)

// ErrNavigationTimeout is wrapped by step errors caused by a step deadline.
var ErrNavigationTimeout = errors.New("navigation timeout")

// StepError describes which interactive step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error { return e.Err }

// Config configures an Executor.
type Config struct {
	PortalURL    string
	Username     string
	Password     string
	VendorDomain string

	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
	// ConfirmSelector is clicked when present, e.g. an institutional-access
	// confirmation page. Empty skips the step.
	ConfirmSelector string

	StepTimeout    time.Duration
	Launch         LaunchOptions
	DisableStealth bool
	Match          login.DomainMatcher
}

// Executor logs in by driving a real browser.
type Executor struct {
	cfg       Config
	dismisser *consent.Dismisser
	logger    *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg Config, logger *slog.Logger) *Executor {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 45 * time.Second
	}
	if cfg.Match == nil {
		cfg.Match = login.LooseMatch
	}
	return &Executor{
		cfg:       cfg,
		dismisser: consent.NewDismisser(logger),
		logger:    logger,
	}
}

// Login runs the portal form flow and returns the vendor cookies. Every
// step is bounded by StepTimeout; there is no overall deadline.
func (e *Executor) Login(ctx context.Context, report login.ReportFunc) ([]models.Cookie, error) {
	if report == nil {
		report = func(string, string, int) {}
	}
	logger := logging.FromContext(ctx, e.logger)

	report("browser", "starting browser", 5)
	b, err := Launch(ctx, e.cfg.Launch, logger)
	if err != nil {
		return nil, &StepError{Step: "browser", Err: err}
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("error closing browser", "error", err)
		}
	}()

	page, err := newPage(b, e.cfg.DisableStealth)
	if err != nil {
		return nil, &StepError{Step: "browser", Err: err}
	}
	page = page.Context(ctx)

	report("portal", "opening login portal", 15)
	if err := page.Timeout(e.cfg.StepTimeout).Navigate(e.cfg.PortalURL); err != nil {
		return nil, stepErr("portal", err)
	}
	if err := page.Timeout(e.cfg.StepTimeout).WaitLoad(); err != nil {
		return nil, stepErr("portal", err)
	}
	if err := e.waitPastInterstitial(ctx, page); err != nil {
		return nil, err
	}

	if e.dismisser.Dismiss(ctx, page) {
		report("portal", "dismissed cookie banner", 20)
	}

	report("form", "filling credentials", 30)
	if err := e.fill(page, e.cfg.UsernameSelector, e.cfg.Username); err != nil {
		return nil, err
	}
	if err := e.fill(page, e.cfg.PasswordSelector, e.cfg.Password); err != nil {
		return nil, err
	}

	report("submit", "submitting login form", 45)
	if err := e.click(page, e.cfg.SubmitSelector); err != nil {
		return nil, err
	}

	if e.cfg.ConfirmSelector != "" {
		if el := e.findConfirm(ctx, page); el != nil {
			report("confirm", "confirming institutional access", 60)
			if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
				return nil, &StepError{Step: "confirm", Err: err}
			}
		} else {
			logger.Debug("no confirmation step", "selector", e.cfg.ConfirmSelector)
		}
	}

	report("vendor", "waiting for vendor site", 75)
	if err := e.waitForVendor(ctx, page); err != nil {
		return nil, err
	}

	all, err := b.GetCookies()
	if err != nil {
		return nil, &StepError{Step: "cookies", Err: err}
	}
	cookies := filterCookies(all, e.cfg.VendorDomain, e.cfg.Match)
	logger.Info("browser login finished", "cookies", len(cookies), "seen", len(all))
	report("cookies", "captured vendor cookies", 95)
	return cookies, nil
}

func (e *Executor) fill(page *rod.Page, selector, value string) error {
	el, err := page.Timeout(e.cfg.StepTimeout).Element(selector)
	if err != nil {
		return &StepError{Step: "form", Err: fmt.Errorf("expected form control not found: %s", selector)}
	}
	if err := el.Input(value); err != nil {
		return &StepError{Step: "form", Err: fmt.Errorf("typing into %s: %w", selector, err)}
	}
	return nil
}

func (e *Executor) click(page *rod.Page, selector string) error {
	el, err := page.Timeout(e.cfg.StepTimeout).Element(selector)
	if err != nil {
		return &StepError{Step: "submit", Err: fmt.Errorf("expected form control not found: %s", selector)}
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return &StepError{Step: "submit", Err: err}
	}
	return nil
}

// confirmProbe bounds the wait for the optional confirmation page.
const confirmProbe = 5 * time.Second

func confirmWindow(step time.Duration) time.Duration {
	return min(step, confirmProbe)
}

// findConfirm looks for the confirmation control for a short while after
// submit. It gives up early once the page is already on the vendor site.
func (e *Executor) findConfirm(ctx context.Context, page *rod.Page) *rod.Element {
	deadline := time.Now().Add(confirmWindow(e.cfg.StepTimeout))
	for {
		if has, el, err := page.Has(e.cfg.ConfirmSelector); err == nil && has {
			return el
		}
		if info, err := page.Info(); err == nil && e.onVendor(info.URL) {
			return nil
		}
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// waitForVendor polls the page URL until it lands on the vendor domain.
func (e *Executor) waitForVendor(ctx context.Context, page *rod.Page) error {
	deadline := time.NewTimer(e.cfg.StepTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()

	for {
		if info, err := page.Info(); err == nil && e.onVendor(info.URL) {
			return page.Timeout(e.cfg.StepTimeout).WaitLoad()
		}
		select {
		case <-ctx.Done():
			return &StepError{Step: "vendor", Err: ctx.Err()}
		case <-deadline.C:
			return &StepError{Step: "vendor", Err: fmt.Errorf("%w: vendor site not reached within %s", ErrNavigationTimeout, e.cfg.StepTimeout)}
		case <-tick.C:
		}
	}
}

func (e *Executor) onVendor(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	return e.cfg.Match(e.cfg.VendorDomain, u.Hostname())
}

// stepErr maps deadline errors onto ErrNavigationTimeout.
func stepErr(step string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &StepError{Step: step, Err: ErrNavigationTimeout}
	}
	return &StepError{Step: step, Err: err}
}

// filterCookies converts browser cookies, keeping those scoped to
// vendorDomain. It falls back to every cookie when none match.
func filterCookies(cookies []*proto.NetworkCookie, vendorDomain string, match login.DomainMatcher) []models.Cookie {
	jar := login.NewJar(match)
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		jar.Record(c.Domain, []*http.Cookie{{Name: c.Name, Value: c.Value, Domain: c.Domain}})
	}
	out, _ := jar.Extract(vendorDomain)
	return out
}
