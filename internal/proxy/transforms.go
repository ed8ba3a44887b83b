package proxy

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// RequestTransform edits the outbound request. Transforms run in order and
// may modify the request in place.
type RequestTransform func(*http.Request) *http.Request

// ResponseTransform edits the upstream response before it is copied to the
// client.
type ResponseTransform func(*http.Response) *http.Response

type ctxKey int

const (
	cookieHeaderKey ctxKey = iota
	clientOriginKey
)

func withCookieHeader(ctx context.Context, header string) context.Context {
	return context.WithValue(ctx, cookieHeaderKey, header)
}

func withClientOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, clientOriginKey, origin)
}

func cookieHeaderFrom(ctx context.Context) string {
	v, _ := ctx.Value(cookieHeaderKey).(string)
	return v
}

func clientOriginFrom(ctx context.Context) string {
	v, _ := ctx.Value(clientOriginKey).(string)
	return v
}

// hopHeaders are dropped on the way upstream alongside Origin.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RewriteTo rewrites the path with table and points the request at base.
// The base path is kept as a prefix.
func RewriteTo(base *url.URL, table *RewriteTable) RequestTransform {
	return func(r *http.Request) *http.Request {
		path := r.URL.Path
		if table != nil {
			path = table.Rewrite(path)
		}
		r.URL.Scheme = base.Scheme
		r.URL.Host = base.Host
		r.URL.Path = joinPath(base.Path, path)
		r.URL.RawPath = ""
		r.Host = base.Host
		return r
	}
}

func joinPath(base, path string) string {
	base = strings.TrimRight(base, "/")
	if path == "" {
		return base + "/"
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// SetSessionCookie replaces the Cookie header with the session cookies
// attached to the request context by the gateway.
func SetSessionCookie() RequestTransform {
	return func(r *http.Request) *http.Request {
		r.Header.Del("Cookie")
		if v := cookieHeaderFrom(r.Context()); v != "" {
			r.Header.Set("Cookie", v)
		}
		return r
	}
}

// SetHeader overwrites one request header.
func SetHeader(name, value string) RequestTransform {
	return func(r *http.Request) *http.Request {
		r.Header.Set(name, value)
		return r
	}
}

// DropHeaders removes request headers.
func DropHeaders(names ...string) RequestTransform {
	return func(r *http.Request) *http.Request {
		for _, n := range names {
			r.Header.Del(n)
		}
		return r
	}
}

// StripResponseHeaders removes upstream response headers.
func StripResponseHeaders(names ...string) ResponseTransform {
	return func(resp *http.Response) *http.Response {
		for _, n := range names {
			resp.Header.Del(n)
		}
		return resp
	}
}

// EchoCORS replaces the upstream CORS headers with ones naming the
// client's origin. Without an Origin the upstream values are removed.
func EchoCORS() ResponseTransform {
	return func(resp *http.Response) *http.Response {
		resp.Header.Del("Access-Control-Allow-Origin")
		resp.Header.Del("Access-Control-Allow-Credentials")
		if resp.Request == nil {
			return resp
		}
		if origin := clientOriginFrom(resp.Request.Context()); origin != "" {
			resp.Header.Set("Access-Control-Allow-Origin", origin)
			resp.Header.Set("Access-Control-Allow-Credentials", "true")
			resp.Header.Add("Vary", "Origin")
		}
		return resp
	}
}

// ApplyCachePolicy sets Cache-Control from cfg on successful responses.
func ApplyCachePolicy(cfg CacheConfig) ResponseTransform {
	return func(resp *http.Response) *http.Response {
		if resp.Request == nil || resp.StatusCode != http.StatusOK {
			return resp
		}
		if cc := cfg.match(resp.Request.Method, resp.Request.URL.Path); cc != "" {
			resp.Header.Set("Cache-Control", cc)
		}
		return resp
	}
}

// DefaultRequestPipeline is the outbound pipeline for the vendor API.
func DefaultRequestPipeline(base *url.URL, table *RewriteTable, userAgent, referer string) []RequestTransform {
	return []RequestTransform{
		RewriteTo(base, table),
		SetSessionCookie(),
		SetHeader("User-Agent", userAgent),
		SetHeader("Referer", referer),
		SetHeader("X-Requested-With", "XMLHttpRequest"),
		DropHeaders(append([]string{"Origin"}, hopHeaders...)...),
	}
}

// DefaultResponsePipeline is the inbound pipeline for vendor responses.
func DefaultResponsePipeline(cache CacheConfig) []ResponseTransform {
	return []ResponseTransform{
		StripResponseHeaders("Set-Cookie", "Server", "X-Powered-By"),
		EchoCORS(),
		ApplyCachePolicy(cache),
	}
}
