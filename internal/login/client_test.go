package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// routingTransport dispatches requests to per-host handlers in process so
// multi-domain redirect chains can be scripted.
type routingTransport struct {
	mu       sync.Mutex
	hosts    map[string]http.Handler
	requests []*http.Request
}

func (rt *routingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.mu.Lock()
	rt.requests = append(rt.requests, req)
	h, ok := rt.hosts[req.URL.Hostname()]
	rt.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dial tcp: lookup %s: no such host", req.URL.Hostname())
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

func (rt *routingTransport) urls() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]string, len(rt.requests))
	for i, r := range rt.requests {
		out[i] = r.URL.String()
	}
	return out
}

func redirectTo(loc string, cookies ...*http.Cookie) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, c := range cookies {
			http.SetCookie(w, c)
		}
		http.Redirect(w, r, loc, http.StatusFound)
	}
}

func newTestClient(rt http.RoundTripper, match DomainMatcher) *RedirectClient {
	return NewRedirectClient(ClientConfig{
		LoginURL:     "https://idp.example.org/login?user=jdoe&pass=hunter2",
		VendorDomain: "motor.com",
		EntryPath:    "/m1/",
		UserAgent:    "test-agent",
		Transport:    rt,
		Match:        match,
	}, testLogger())
}

func TestRun_ThreeRedirectsToVendor(t *testing.T) {
	var shibCookieOnContinue string
	var entryHit bool

	idp := http.NewServeMux()
	idp.Handle("/login", redirectTo("https://sso.shib.edu/auth", &http.Cookie{Name: "idp_sess", Value: "1"}))

	shib := http.NewServeMux()
	shib.Handle("/auth", redirectTo("/continue?x=1", &http.Cookie{Name: "shib", Value: "2"}))
	shib.HandleFunc("/continue", func(w http.ResponseWriter, r *http.Request) {
		shibCookieOnContinue = r.Header.Get("Cookie")
		redirectTo("https://sites.motor.com/connect?token=abc", &http.Cookie{Name: "shib", Value: "3"})(w, r)
	})

	vendor := http.NewServeMux()
	vendor.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		t.Error("vendor arrival URL should not be requested; the entry path is")
	})
	vendor.HandleFunc("/m1/", func(w http.ResponseWriter, r *http.Request) {
		entryHit = true
		if got := r.URL.Query().Get("token"); got != "abc" {
			t.Errorf("entry request token = %q, want arrival query carried over", got)
		}
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("User-Agent = %q", ua)
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Domain: "motor.com"})
		http.SetCookie(w, &http.Cookie{Name: "AWSALB", Value: "lb"})
		w.WriteHeader(http.StatusOK)
	})

	rt := &routingTransport{hosts: map[string]http.Handler{
		"idp.example.org": idp,
		"sso.shib.edu":    shib,
		"sites.motor.com": vendor,
	}}

	var steps []string
	res, err := newTestClient(rt, LooseMatch).Run(context.Background(), func(step, _ string, _ int) {
		steps = append(steps, step)
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Requests != 4 {
		t.Errorf("Requests = %d, want 4 (urls: %v)", res.Requests, rt.urls())
	}
	if got := len(rt.urls()); got != 4 {
		t.Errorf("transport saw %d requests, want 4", got)
	}
	if res.Redirects != 3 {
		t.Errorf("Redirects = %d, want 3", res.Redirects)
	}
	if !res.VendorReached || !entryHit {
		t.Errorf("VendorReached = %v, entryHit = %v", res.VendorReached, entryHit)
	}
	if shibCookieOnContinue != "shib=2" {
		t.Errorf("Cookie on /continue = %q, want %q", shibCookieOnContinue, "shib=2")
	}
	if res.FellBack {
		t.Error("FellBack = true, want false")
	}
	if len(res.Cookies) != 2 || res.Cookies[0].Name != "sid" || res.Cookies[1].Name != "AWSALB" {
		t.Fatalf("Cookies = %+v, want sid and AWSALB only", res.Cookies)
	}
	if res.Cookies[1].Domain != "sites.motor.com" {
		t.Errorf("AWSALB domain = %q, want responding host", res.Cookies[1].Domain)
	}
	if len(steps) == 0 || steps[0] != "login" || steps[len(steps)-1] != "vendor" {
		t.Errorf("reported steps = %v", steps)
	}
}

func TestRun_RedirectLimit(t *testing.T) {
	loop := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n int
		fmt.Sscanf(r.URL.Path, "/hop/%d", &n)
		http.Redirect(w, r, fmt.Sprintf("/hop/%d", n+1), http.StatusFound)
	})
	rt := &routingTransport{hosts: map[string]http.Handler{"idp.example.org": loop}}

	c := newTestClient(rt, LooseMatch)
	c.cfg.LoginURL = "https://idp.example.org/hop/0"

	_, err := c.Run(context.Background(), nil)
	if !errors.Is(err, ErrRedirectLimit) {
		t.Fatalf("Run() error = %v, want ErrRedirectLimit", err)
	}
	if got := len(rt.urls()); got != MaxRedirects+1 {
		t.Errorf("requests = %d, want %d", got, MaxRedirects+1)
	}
}

func TestRun_ExactlyMaxRedirects(t *testing.T) {
	idp := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n int
		fmt.Sscanf(r.URL.Path, "/hop/%d", &n)
		if n == MaxRedirects-1 {
			http.Redirect(w, r, "https://sites.motor.com/landing", http.StatusFound)
			return
		}
		http.Redirect(w, r, fmt.Sprintf("/hop/%d", n+1), http.StatusSeeOther)
	})
	vendor := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "v", Domain: ".motor.com"})
	})
	rt := &routingTransport{hosts: map[string]http.Handler{
		"idp.example.org": idp,
		"sites.motor.com": vendor,
	}}

	c := newTestClient(rt, StrictMatch)
	c.cfg.LoginURL = "https://idp.example.org/hop/0"

	res, err := c.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Redirects != MaxRedirects || !res.VendorReached {
		t.Errorf("Redirects = %d, VendorReached = %v", res.Redirects, res.VendorReached)
	}
	if len(res.Cookies) != 1 || res.Cookies[0].Value != "v" {
		t.Errorf("Cookies = %+v", res.Cookies)
	}
}

func TestRun_NetworkErrorAborts(t *testing.T) {
	idp := redirectTo("https://unreachable.example.net/next")
	rt := &routingTransport{hosts: map[string]http.Handler{"idp.example.org": idp}}

	_, err := newTestClient(rt, LooseMatch).Run(context.Background(), nil)
	if err == nil {
		t.Fatal("Run() should fail when a hop is unreachable")
	}
	if !strings.Contains(err.Error(), "unreachable.example.net") {
		t.Errorf("error = %q, want failing host named", err)
	}
	if strings.Contains(err.Error(), "hunter2") {
		t.Errorf("error leaks credentials: %q", err)
	}
}

func TestLogin_VendorNotReached(t *testing.T) {
	idp := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "idp_sess", Value: "1"})
		w.Write([]byte("<form>bad password</form>"))
	})
	rt := &routingTransport{hosts: map[string]http.Handler{"idp.example.org": idp}}
	c := newTestClient(rt, LooseMatch)

	res, err := c.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.VendorReached || !res.FellBack || len(res.Cookies) != 1 {
		t.Errorf("Run() = %+v, want fallback to the idp cookie without vendor", res)
	}

	if _, err := c.Login(context.Background(), nil); !errors.Is(err, ErrVendorNotReached) {
		t.Errorf("Login() error = %v, want ErrVendorNotReached", err)
	}
}

func TestLogin_FallbackAfterVendorReached(t *testing.T) {
	idp := redirectTo("https://sites.motor.com/start")
	vendor := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "j", Domain: "cdn.vendor-edge.net"})
	})
	rt := &routingTransport{hosts: map[string]http.Handler{
		"idp.example.org": idp,
		"sites.motor.com": vendor,
	}}

	cookies, err := newTestClient(rt, StrictMatch).Login(context.Background(), nil)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if len(cookies) != 1 || cookies[0].Name != "JSESSIONID" {
		t.Errorf("Login() cookies = %+v, want fallback to all cookies", cookies)
	}
}
