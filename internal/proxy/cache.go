package proxy

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ReferenceMaxAge is how long clients may cache static reference listings.
const ReferenceMaxAge = 24 * time.Hour

// CachePolicy sets Cache-Control on GET responses whose path contains one of
// Segments as a whole path segment.
type CachePolicy struct {
	Segments     []string
	CacheControl string
}

// CacheConfig holds the policies, matched in order.
type CacheConfig struct {
	Policies []CachePolicy
}

// DefaultCacheConfig caches the vehicle reference listings (years, makes,
// models), which only change with vendor data releases.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Policies: []CachePolicy{
			{
				Segments:     []string{"years", "makes", "models"},
				CacheControl: fmt.Sprintf("public, max-age=%d", int(ReferenceMaxAge.Seconds())),
			},
		},
	}
}

// match returns the Cache-Control value for a GET of path, or "".
func (c CacheConfig) match(method, path string) string {
	if method != http.MethodGet {
		return ""
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for _, p := range c.Policies {
		if matchesSegment(segments, p.Segments) {
			return p.CacheControl
		}
	}
	return ""
}

func matchesSegment(segments, want []string) bool {
	for _, s := range segments {
		for _, w := range want {
			if strings.EqualFold(s, w) {
				return true
			}
		}
	}
	return false
}
