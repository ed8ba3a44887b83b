package models

import (
	"strings"
	"time"
)

// Cookie is one upstream cookie as captured during login.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
}

// Session is the cached upstream identity: cookies plus the time they were obtained.
type Session struct {
	Cookies   []Cookie  `json:"cookies"`
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the session can be used at now. It depends only on
// its arguments and the session value.
func (s Session) Valid(now time.Time, maxAge time.Duration) bool {
	if len(s.Cookies) == 0 || s.Timestamp.IsZero() {
		return false
	}
	return now.Sub(s.Timestamp) < maxAge
}

// CookieHeader serializes the cookies as a Cookie request header value.
func (s Session) CookieHeader() string {
	parts := make([]string, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := Session{Timestamp: s.Timestamp}
	if s.Cookies != nil {
		out.Cookies = append([]Cookie(nil), s.Cookies...)
	}
	return out
}

// PersistedSession is the durable record written to the session store.
type PersistedSession struct {
	Cookies   []Cookie  `json:"cookies"`
	Timestamp time.Time `json:"timestamp"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Session converts the record back into an in-memory session.
func (p *PersistedSession) Session() Session {
	return Session{
		Cookies:   append([]Cookie(nil), p.Cookies...),
		Timestamp: p.Timestamp,
	}
}
