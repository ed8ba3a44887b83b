// Package consent clicks away cookie consent banners that cover the vendor
// login portal.
package consent

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// acceptSelectors covers the consent platforms seen in front of the
// identity providers, most specific first.
var acceptSelectors = []string{
	`#onetrust-accept-btn-handler`,
	`button[id*="onetrust-accept"]`,
	`#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll`,
	`#CybotCookiebotDialogBodyButtonAccept`,
	`#truste-consent-button`,
	`#didomi-notice-agree-button`,
	`button.qc-cmp2-summary-buttons button[mode="primary"]`,
	`button[data-testid="accept-cookies"]`,
	`button[aria-label*="Accept"]`,
	`button#accept-cookies`,
	`button.cookie-accept`,
	`div[class*="cookie"] button[class*="accept"]`,
	`div[class*="consent"] button[class*="accept"]`,
}

// acceptTexts are matched against visible button and link text when no
// selector hits.
var acceptTexts = []string{
	"Accept All Cookies",
	"Accept All",
	"Accept Cookies",
	"Accept all",
	"I Accept",
	"I Agree",
	"Allow All",
	"Got it",
}

const clickByTextJS = `(texts) => {
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	};
	for (const text of texts) {
		for (const el of document.querySelectorAll('button, a, [role="button"]')) {
			if (el.textContent.trim().includes(text) && visible(el)) {
				el.click();
				return text;
			}
		}
	}
	return "";
}`

// Dismisser clicks the first matching consent control on a page.
type Dismisser struct {
	logger  *slog.Logger
	timeout time.Duration
	settle  time.Duration
}

// NewDismisser creates a Dismisser with short per-selector timeouts.
func NewDismisser(logger *slog.Logger) *Dismisser {
	return &Dismisser{
		logger:  logger,
		timeout: 300 * time.Millisecond,
		settle:  500 * time.Millisecond,
	}
}

// Dismiss reports whether a banner was clicked away.
func (d *Dismisser) Dismiss(ctx context.Context, page *rod.Page) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d.settle):
	}

	present := func(selector string) bool {
		has, _, err := page.Has(selector)
		return err == nil && has
	}
	for _, selector := range candidates(acceptSelectors, present) {
		if ctx.Err() != nil {
			return false
		}
		if d.tryClick(page, selector) {
			return true
		}
	}

	res, err := page.Timeout(d.timeout*3).Eval(clickByTextJS, acceptTexts)
	if err != nil {
		return false
	}
	if text := res.Value.Str(); text != "" {
		d.logger.Info("dismissed cookie consent banner", "method", "text", "text", text)
		return true
	}
	return false
}

// candidates returns the selectors that present reports on the page, in
// priority order.
func candidates(selectors []string, present func(string) bool) []string {
	var out []string
	for _, sel := range selectors {
		if present(sel) {
			out = append(out, sel)
		}
	}
	return out
}

func (d *Dismisser) tryClick(page *rod.Page, selector string) bool {
	el, err := page.Timeout(d.timeout).Element(selector)
	if err != nil {
		return false
	}
	if visible, err := el.Visible(); err != nil || !visible {
		return false
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		d.logger.Debug("failed to click consent button", "selector", selector, "error", err)
		return false
	}
	d.logger.Info("dismissed cookie consent banner", "selector", selector)
	return true
}
