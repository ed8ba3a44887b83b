package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
)

// ErrCaptchaRequired is returned when the portal shows a CAPTCHA widget.
// Solving one is out of scope; the operator has to log in by other means.
var ErrCaptchaRequired = errors.New("login portal requires a CAPTCHA")

// interstitialTitles are bot-check pages that clear themselves after a few
// seconds in a real browser.
var interstitialTitles = []string{
	"just a moment",
	"checking your browser",
	"please wait",
	"one more step",
	"ddos-guard",
}

var interstitialSelectors = []string{
	"#cf-browser-verification",
	"#cf-challenge-running",
	".challenge-running",
}

var captchaSelectors = []string{
	`iframe[src*="challenges.cloudflare.com"]`,
	`.cf-turnstile`,
	`iframe[src*="hcaptcha.com"]`,
	`.h-captcha`,
	`.g-recaptcha`,
}

type pageCheck int

const (
	pageClear pageCheck = iota
	pageInterstitial
	pageCaptcha
)

func isInterstitialTitle(title string) bool {
	t := strings.ToLower(title)
	for _, p := range interstitialTitles {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

func classify(page *rod.Page) (pageCheck, error) {
	info, err := page.Info()
	if err != nil {
		return pageClear, err
	}
	return classifySignals(info.Title, func(sel string) bool {
		has, _, _ := page.Has(sel)
		return has
	}), nil
}

// classifySignals decides from the page title and the selectors present.
// A CAPTCHA wins over an interstitial.
func classifySignals(title string, present func(string) bool) pageCheck {
	for _, sel := range captchaSelectors {
		if present(sel) {
			return pageCaptcha
		}
	}
	if isInterstitialTitle(title) {
		return pageInterstitial
	}
	for _, sel := range interstitialSelectors {
		if present(sel) {
			return pageInterstitial
		}
	}
	return pageClear
}

// interstitialOutcome reports whether the wait is over and with what error.
func interstitialOutcome(check pageCheck, timedOut bool) (bool, error) {
	switch check {
	case pageClear:
		return true, nil
	case pageCaptcha:
		return true, &StepError{Step: "portal", Err: ErrCaptchaRequired}
	}
	if timedOut {
		return true, &StepError{Step: "portal", Err: fmt.Errorf("%w: bot check did not clear", ErrNavigationTimeout)}
	}
	return false, nil
}

// waitPastInterstitial waits for a self-clearing bot check in front of the
// portal to go away. It fails fast when the page asks for a CAPTCHA.
func (e *Executor) waitPastInterstitial(ctx context.Context, page *rod.Page) error {
	deadline := time.Now().Add(e.cfg.StepTimeout)
	for {
		check, err := classify(page.Timeout(2 * time.Second))
		if err != nil {
			return stepErr("portal", err)
		}
		if done, err := interstitialOutcome(check, time.Now().After(deadline)); done {
			return err
		}
		select {
		case <-ctx.Done():
			return &StepError{Step: "portal", Err: ctx.Err()}
		case <-time.After(500 * time.Millisecond):
		}
	}
}
