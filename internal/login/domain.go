package login

import "strings"

// DomainMatcher reports whether a cookie set for cookieDomain applies to host.
type DomainMatcher func(cookieDomain, host string) bool

// LooseMatch accepts either string containing the other. Leading-dot
// domains and parent/child hosts both match, and so do unrelated hosts
// that happen to share a substring ("notmotor.com" vs "motor.com").
func LooseMatch(cookieDomain, host string) bool {
	d := strings.ToLower(strings.TrimSpace(cookieDomain))
	h := strings.ToLower(strings.TrimSpace(host))
	if d == "" || h == "" {
		return false
	}
	return strings.Contains(h, d) || strings.Contains(d, h)
}

// StrictMatch is RFC 6265 domain matching: the host equals the domain or
// ends with "." + domain. A leading dot on the domain is ignored.
func StrictMatch(cookieDomain, host string) bool {
	d := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cookieDomain), "."))
	h := strings.ToLower(strings.TrimSpace(host))
	if d == "" || h == "" {
		return false
	}
	return h == d || strings.HasSuffix(h, "."+d)
}

// MatcherFor maps a COOKIE_DOMAIN_MATCH value to a matcher. Anything other
// than "strict" is loose.
func MatcherFor(mode string) DomainMatcher {
	if strings.EqualFold(mode, "strict") {
		return StrictMatch
	}
	return LooseMatch
}
