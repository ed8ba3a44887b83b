package login

import (
	"net/http"
	"strings"
	"time"

	"github.com/jmylchreest/motor-proxy/internal/models"
)

// Jar collects cookies across the hosts of one login handshake. Entries are
// keyed by cookie name and kept in first-seen order. A Jar belongs to a
// single attempt and is not safe for concurrent use.
type Jar struct {
	entries map[string]*models.Cookie
	order   []string
	match   DomainMatcher
	now     func() time.Time
}

// NewJar returns an empty jar using match for host lookups. A nil matcher
// means LooseMatch.
func NewJar(match DomainMatcher) *Jar {
	if match == nil {
		match = LooseMatch
	}
	return &Jar{
		entries: make(map[string]*models.Cookie),
		match:   match,
		now:     time.Now,
	}
}

// Record stores the cookies a response from host set. Cookies without a
// Domain attribute are scoped to host. An expiring cookie (Max-Age=0 or
// negative, or an Expires date in the past) deletes the entry.
func (j *Jar) Record(host string, cookies []*http.Cookie) {
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(j.now())) {
			j.remove(c.Name)
			continue
		}

		domain := c.Domain
		if domain == "" {
			domain = host
		}

		if e, ok := j.entries[c.Name]; ok {
			e.Value = c.Value
			e.Domain = domain
			continue
		}
		j.entries[c.Name] = &models.Cookie{Name: c.Name, Value: c.Value, Domain: domain}
		j.order = append(j.order, c.Name)
	}
}

func (j *Jar) remove(name string) {
	if _, ok := j.entries[name]; !ok {
		return
	}
	delete(j.entries, name)
	for i, n := range j.order {
		if n == name {
			j.order = append(j.order[:i], j.order[i+1:]...)
			break
		}
	}
}

// HeaderFor returns the Cookie header value for a request to host, or ""
// when nothing applies.
func (j *Jar) HeaderFor(host string) string {
	var parts []string
	for _, name := range j.order {
		e := j.entries[name]
		if j.match(e.Domain, host) {
			parts = append(parts, e.Name+"="+e.Value)
		}
	}
	return strings.Join(parts, "; ")
}

// Cookies returns every collected cookie in first-seen order.
func (j *Jar) Cookies() []models.Cookie {
	out := make([]models.Cookie, 0, len(j.order))
	for _, name := range j.order {
		out = append(out, *j.entries[name])
	}
	return out
}

// Len returns the number of cookies held.
func (j *Jar) Len() int { return len(j.order) }

// Extract returns the cookies scoped to vendorDomain or one of its
// subdomains. When none are, it returns every cookie and fellBack is true.
func (j *Jar) Extract(vendorDomain string) (cookies []models.Cookie, fellBack bool) {
	for _, name := range j.order {
		e := j.entries[name]
		if j.match(vendorDomain, strings.TrimPrefix(e.Domain, ".")) {
			cookies = append(cookies, *e)
		}
	}
	if len(cookies) > 0 {
		return cookies, false
	}
	return j.Cookies(), true
}
