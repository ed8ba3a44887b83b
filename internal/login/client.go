// Package login performs the HTTP handshake that turns vendor account
// credentials into vendor session cookies.
package login

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jmylchreest/motor-proxy/internal/logging"
	"github.com/jmylchreest/motor-proxy/internal/models"
)

// MaxRedirects is the number of redirects followed before giving up.
const MaxRedirects = 10

var (
	// ErrRedirectLimit is returned when the chain exceeds MaxRedirects.
	ErrRedirectLimit = errors.New("redirect limit exceeded")
	// ErrVendorNotReached is returned by Login when the chain stopped before
	// the vendor host and no vendor cookies were collected.
	ErrVendorNotReached = errors.New("login chain ended before reaching the vendor")
)

// ReportFunc receives progress updates from a login executor.
type ReportFunc func(step, message string, percent int)

// ClientConfig configures a RedirectClient.
type ClientConfig struct {
	// LoginURL is the first URL requested, credentials already substituted.
	LoginURL string
	// VendorDomain identifies the target host and its cookies.
	VendorDomain string
	// EntryPath is requested once on arrival at the vendor host.
	EntryPath string
	UserAgent string
	// Timeout bounds each individual request.
	Timeout   time.Duration
	Transport http.RoundTripper
	Match     DomainMatcher
}

// Result describes one completed run of the redirect chain.
type Result struct {
	// Cookies are the extracted session cookies (vendor-scoped unless FellBack).
	Cookies       []models.Cookie
	FellBack      bool
	VendorReached bool
	Requests      int
	Redirects     int
	FinalURL      string
}

// RedirectClient walks the identity-provider redirect chain by hand so every
// hop's Set-Cookie headers are visible.
type RedirectClient struct {
	cfg    ClientConfig
	client *http.Client
	logger *slog.Logger
}

// NewRedirectClient creates a client. Redirects are never followed
// automatically.
func NewRedirectClient(cfg ClientConfig, logger *slog.Logger) *RedirectClient {
	if cfg.Match == nil {
		cfg.Match = LooseMatch
	}
	if cfg.EntryPath == "" {
		cfg.EntryPath = "/"
	}
	return &RedirectClient{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Login runs the chain and returns the extracted cookies.
func (c *RedirectClient) Login(ctx context.Context, report ReportFunc) ([]models.Cookie, error) {
	res, err := c.Run(ctx, report)
	if err != nil {
		return nil, err
	}
	if !res.VendorReached && res.FellBack {
		return nil, fmt.Errorf("%w (stopped at %s after %d requests)", ErrVendorNotReached, res.FinalURL, res.Requests)
	}
	return res.Cookies, nil
}

// Run follows the chain from the login URL. Reaching a non-redirect response
// away from the vendor host ends the run without error.
func (c *RedirectClient) Run(ctx context.Context, report ReportFunc) (*Result, error) {
	if report == nil {
		report = func(string, string, int) {}
	}
	logger := logging.FromContext(ctx, c.logger)

	current, err := url.Parse(c.cfg.LoginURL)
	if err != nil {
		return nil, fmt.Errorf("invalid login URL: %w", err)
	}

	jar := NewJar(c.cfg.Match)
	res := &Result{}

	report("login", "requesting login page", 5)

	for {
		// The login URL itself is always requested, even on a vendor host.
		if res.Requests > 0 && c.isVendorHost(current.Hostname()) {
			entry := c.entryURL(current)
			report("vendor", "establishing vendor session", 90)
			if _, err := c.do(ctx, jar, entry); err != nil {
				return nil, err
			}
			res.Requests++
			res.VendorReached = true
			current = entry
			break
		}

		resp, err := c.do(ctx, jar, current)
		if err != nil {
			return nil, err
		}
		res.Requests++

		loc := resp.Header.Get("Location")
		if !isRedirect(resp.StatusCode) || loc == "" {
			break
		}

		res.Redirects++
		if res.Redirects > MaxRedirects {
			return nil, fmt.Errorf("%w: more than %d redirects", ErrRedirectLimit, MaxRedirects)
		}

		next, err := current.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect location from %s: %w", current.Host, err)
		}
		logger.Debug("following redirect",
			"from", current.Host,
			"to", next.Host,
			"status", resp.StatusCode,
			"hop", res.Redirects,
		)
		current = next
		report("redirect", "following redirect to "+next.Host, min(10+res.Redirects*8, 85))
	}

	res.FinalURL = safeURL(current)
	res.Cookies, res.FellBack = jar.Extract(c.cfg.VendorDomain)

	if res.FellBack && jar.Len() > 0 {
		logger.Warn("no cookies matched the vendor domain, using all collected cookies",
			"vendor_domain", c.cfg.VendorDomain,
			"cookies", jar.Len(),
		)
	}
	logger.Info("login chain finished",
		"vendor_reached", res.VendorReached,
		"requests", res.Requests,
		"redirects", res.Redirects,
		"cookies", len(res.Cookies),
	)
	return res, nil
}

// do issues one GET and records the response cookies. The body is drained
// and closed before returning.
func (c *RedirectClient) do(ctx context.Context, jar *Jar, u *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", safeURL(u), err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if h := jar.HeaderFor(u.Hostname()); h != "" {
		req.Header.Set("Cookie", h)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// url.Error embeds the full URL, which may carry credentials.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, fmt.Errorf("request to %s failed: %w", safeURL(u), err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	jar.Record(u.Hostname(), resp.Cookies())
	return resp, nil
}

func (c *RedirectClient) isVendorHost(host string) bool {
	return c.cfg.Match(c.cfg.VendorDomain, host)
}

// entryURL is the vendor's canonical entry path on the arrival host, keeping
// the arrival query.
func (c *RedirectClient) entryURL(arrival *url.URL) *url.URL {
	return &url.URL{
		Scheme:   arrival.Scheme,
		Host:     arrival.Host,
		Path:     c.cfg.EntryPath,
		RawQuery: arrival.RawQuery,
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// safeURL drops the query and userinfo for logs and errors.
func safeURL(u *url.URL) string {
	return u.Scheme + "://" + u.Host + u.Path
}
