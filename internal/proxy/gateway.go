// Package proxy forwards client requests to the vendor API with the cached
// session attached, and starts recovery when the vendor rejects it.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/motor-proxy/internal/config"
	"github.com/jmylchreest/motor-proxy/internal/logging"
	"github.com/jmylchreest/motor-proxy/internal/models"
)

// Advisory headers added to responses that triggered re-authentication.
const (
	HeaderAuthStatus    = "x-auth-status"
	HeaderAuthStatusURL = "x-auth-status-url"
	HeaderRetryAfter    = "x-retry-after"

	AuthStatusPath    = "/auth/status"
	RetryAfterSeconds = 2
)

// Decision is what the status hook asks the gateway to do with a response.
type Decision int

const (
	// DecisionPass forwards the response unchanged.
	DecisionPass Decision = iota
	// DecisionRecover drops the session and starts a background login.
	DecisionRecover
)

// StatusHook inspects an upstream response after the response pipeline.
type StatusHook func(*http.Response) Decision

// RecoverOnAuthFailure asks for recovery on 401 and 403.
func RecoverOnAuthFailure(resp *http.Response) Decision {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return DecisionRecover
	}
	return DecisionPass
}

// Sessions is the part of the auth manager the gateway depends on.
type Sessions interface {
	EnsureSession(ctx context.Context) error
	CookieHeader(ctx context.Context) (string, error)
	InvalidateSession(ctx context.Context)
	Reauthenticate(reason string)
}

// Options configures a Gateway. Nil pipelines and hook take the defaults.
type Options struct {
	Upstream    string
	Rewrites    *RewriteTable
	UserAgent   string
	Referer     string
	FailureMode string // config.AuthFailurePassthrough (default) or config.AuthFailureSubstitute
	Cache       *CacheConfig

	Requests   []RequestTransform
	Responses  []ResponseTransform
	StatusHook StatusHook
	Transport  http.RoundTripper
	Now        func() time.Time
}

// Gateway is the vendor API reverse proxy.
type Gateway struct {
	sessions  Sessions
	requests  []RequestTransform
	responses []ResponseTransform
	hook      StatusHook
	mode      string
	now       func() time.Time
	proxy     *httputil.ReverseProxy
	logger    *slog.Logger
}

// New creates a Gateway.
func New(sessions Sessions, opts Options, logger *slog.Logger) (*Gateway, error) {
	base, err := url.Parse(opts.Upstream)
	if err != nil {
		return nil, err
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.New("proxy: upstream must be an absolute URL")
	}

	if opts.Rewrites == nil {
		opts.Rewrites = DefaultRewriteTable()
	}
	if opts.Referer == "" {
		opts.Referer = base.Scheme + "://" + base.Host + "/"
	}
	if opts.Cache == nil {
		c := DefaultCacheConfig()
		opts.Cache = &c
	}
	if opts.Requests == nil {
		opts.Requests = DefaultRequestPipeline(base, opts.Rewrites, opts.UserAgent, opts.Referer)
	}
	if opts.Responses == nil {
		opts.Responses = DefaultResponsePipeline(*opts.Cache)
	}
	if opts.StatusHook == nil {
		opts.StatusHook = RecoverOnAuthFailure
	}
	if opts.FailureMode == "" {
		opts.FailureMode = config.AuthFailurePassthrough
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	g := &Gateway{
		sessions:  sessions,
		requests:  opts.Requests,
		responses: opts.Responses,
		hook:      opts.StatusHook,
		mode:      opts.FailureMode,
		now:       opts.Now,
		logger:    logger,
	}
	g.proxy = &httputil.ReverseProxy{
		Rewrite:        g.rewrite,
		ModifyResponse: g.modifyResponse,
		ErrorHandler:   g.errorHandler,
		Transport:      opts.Transport,
	}
	return g, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isPreflight(r) {
		writePreflight(w, r)
		return
	}

	if strings.HasSuffix(strings.TrimRight(r.URL.Path, "/"), "/dtcs") {
		writeJSON(w, http.StatusOK, models.EmptyDTCList(g.now()))
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx, g.logger)

	if err := g.sessions.EnsureSession(ctx); err != nil {
		logger.Error("no upstream session", "path", r.URL.Path, "error", err)
		writeProblem(w, http.StatusInternalServerError, "authentication_failed", err.Error())
		return
	}
	header, err := g.sessions.CookieHeader(ctx)
	if err != nil {
		logger.Error("no upstream session", "path", r.URL.Path, "error", err)
		writeProblem(w, http.StatusInternalServerError, "authentication_failed", err.Error())
		return
	}
	if header == "" {
		writeProblem(w, http.StatusInternalServerError, "authentication_failed", "no session cookies available")
		return
	}

	ctx = withCookieHeader(ctx, header)
	ctx = withClientOrigin(ctx, r.Header.Get("Origin"))
	g.proxy.ServeHTTP(w, r.WithContext(ctx))
}

func (g *Gateway) rewrite(pr *httputil.ProxyRequest) {
	out := pr.Out
	for _, t := range g.requests {
		out = t(out)
	}
	pr.Out = out
}

func (g *Gateway) modifyResponse(resp *http.Response) error {
	for _, t := range g.responses {
		resp = t(resp)
	}

	if g.hook(resp) != DecisionRecover {
		return nil
	}

	ctx := context.WithoutCancel(resp.Request.Context())
	logging.FromContext(ctx, g.logger).Warn("upstream rejected session, re-authenticating",
		"status", resp.StatusCode,
		"path", resp.Request.URL.Path,
	)
	g.sessions.InvalidateSession(ctx)
	g.sessions.Reauthenticate("upstream " + strconv.Itoa(resp.StatusCode))

	resp.Header.Set(HeaderAuthStatus, "authenticating")
	resp.Header.Set(HeaderAuthStatusURL, AuthStatusPath)
	resp.Header.Set(HeaderRetryAfter, strconv.Itoa(RetryAfterSeconds))

	if g.mode == config.AuthFailureSubstitute {
		substituteBody(resp)
	}
	return nil
}

// substituteBody swaps the vendor's error body for the pending notice.
func substituteBody(resp *http.Response) {
	body, _ := json.Marshal(models.AuthPendingResponse{
		Status:     "authenticating",
		Message:    "upstream session expired; re-authentication in progress",
		StatusURL:  AuthStatusPath,
		RetryAfter: RetryAfterSeconds,
	})
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
	resp.StatusCode = http.StatusUnauthorized
	resp.Status = strconv.Itoa(http.StatusUnauthorized) + " " + http.StatusText(http.StatusUnauthorized)
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Type", "application/json")
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	resp.Header.Del("Content-Encoding")
}

func (g *Gateway) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromContext(r.Context(), g.logger).Error("upstream request failed",
		"path", r.URL.Path,
		"error", err,
	)
	writeProblem(w, http.StatusInternalServerError, "proxy_error", err.Error())
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

func writePreflight(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	if origin := r.Header.Get("Origin"); origin != "" {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
	} else {
		h.Set("Access-Control-Allow-Origin", "*")
	}
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
		h.Set("Access-Control-Allow-Headers", req)
	} else {
		h.Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
	}
	h.Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, models.NewProblem(status, code, message))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
