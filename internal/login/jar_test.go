package login

import (
	"net/http"
	"testing"
	"time"
)

func TestJar_RecordAndHeader(t *testing.T) {
	j := NewJar(StrictMatch)
	j.Record("login.idp.example.org", []*http.Cookie{
		{Name: "a", Value: "1"},
		{Name: "b", Value: "2", Domain: ".idp.example.org"},
	})
	j.Record("sites.motor.com", []*http.Cookie{
		{Name: "sid", Value: "x", Domain: "motor.com"},
	})

	tests := []struct {
		host string
		want string
	}{
		{"login.idp.example.org", "a=1; b=2"},
		{"other.idp.example.org", "b=2"},
		{"sites.motor.com", "sid=x"},
		{"motor.com", "sid=x"},
		{"example.com", ""},
	}
	for _, tt := range tests {
		if got := j.HeaderFor(tt.host); got != tt.want {
			t.Errorf("HeaderFor(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestJar_OverwriteKeepsOrder(t *testing.T) {
	j := NewJar(nil)
	j.Record("a.com", []*http.Cookie{{Name: "first", Value: "1"}, {Name: "second", Value: "2"}})
	j.Record("b.com", []*http.Cookie{{Name: "first", Value: "3"}})

	got := j.Cookies()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Name != "first" || got[0].Value != "3" || got[0].Domain != "b.com" {
		t.Errorf("first = %+v, want value and domain replaced in place", got[0])
	}
}

func TestJar_ExpiredCookieDeletes(t *testing.T) {
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		clear   *http.Cookie
		wantLen int
	}{
		{"max-age", &http.Cookie{Name: "x", MaxAge: -1}, 1},
		{"expires in the past", &http.Cookie{Name: "x", Value: "deleted", Expires: time.Unix(0, 0).UTC()}, 1},
		{"expires in the future", &http.Cookie{Name: "x", Value: "3", Expires: now.Add(time.Hour)}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewJar(nil)
			j.now = func() time.Time { return now }
			j.Record("a.com", []*http.Cookie{{Name: "x", Value: "1"}, {Name: "y", Value: "2"}})
			j.Record("a.com", []*http.Cookie{tt.clear})

			if j.Len() != tt.wantLen {
				t.Fatalf("Len() = %d, want %d; cookies %+v", j.Len(), tt.wantLen, j.Cookies())
			}
			if tt.wantLen == 1 && j.Cookies()[0].Name != "y" {
				t.Errorf("Cookies() = %+v, want only y", j.Cookies())
			}
		})
	}
}

func TestJar_Extract(t *testing.T) {
	t.Run("vendor cookies only", func(t *testing.T) {
		j := NewJar(LooseMatch)
		j.Record("idp.example.org", []*http.Cookie{{Name: "idp", Value: "1"}})
		j.Record("sites.motor.com", []*http.Cookie{{Name: "sid", Value: "2", Domain: ".motor.com"}})

		got, fellBack := j.Extract("motor.com")
		if fellBack || len(got) != 1 || got[0].Name != "sid" {
			t.Errorf("Extract() = %+v, %v", got, fellBack)
		}
	})

	t.Run("fallback to everything", func(t *testing.T) {
		j := NewJar(LooseMatch)
		j.Record("idp.example.org", []*http.Cookie{{Name: "idp", Value: "1"}})

		got, fellBack := j.Extract("motor.com")
		if !fellBack || len(got) != 1 || got[0].Name != "idp" {
			t.Errorf("Extract() = %+v, %v", got, fellBack)
		}
	})

	t.Run("empty jar", func(t *testing.T) {
		got, fellBack := NewJar(nil).Extract("motor.com")
		if !fellBack || len(got) != 0 {
			t.Errorf("Extract() = %+v, %v", got, fellBack)
		}
	})
}
