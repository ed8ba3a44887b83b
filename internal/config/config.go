// Package config provides configuration management for motor-proxy.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
	"golang.org/x/net/publicsuffix"
)

// Login modes.
const (
	LoginModeRedirect = "redirect"
	LoginModeBrowser  = "browser"
)

// Session store backends.
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
	StoreS3     = "s3"
	StoreNone   = "none"
)

// Cookie domain matching modes.
const (
	DomainMatchLoose  = "loose"
	DomainMatchStrict = "strict"
)

// Auth failure response modes.
const (
	AuthFailurePassthrough = "passthrough"
	AuthFailureSubstitute  = "substitute"
)

// DefaultUserAgent is presented to the identity providers and the vendor API.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// keyringGet is swapped in tests.
var keyringGet = keyring.Get

// Config holds all configuration for motor-proxy.
type Config struct {
	// Server settings
	Port        int
	LogLevel    string
	CORSOrigins []string
	IdleTimeout time.Duration // 0 disables idle shutdown

	// Vendor account
	VendorUsername string
	VendorPassword string
	KeyringService string

	// Login handshake
	LoginURL         string // may contain {username} and {password} placeholders
	LoginMode        string
	LoginHTTPTimeout time.Duration
	LoginStepTimeout time.Duration
	UserAgent        string

	// Upstream vendor
	UpstreamBaseURL   string
	VendorDomain      string
	VendorEntryPath   string
	VendorReferer     string
	CookieDomainMatch string
	MaxSessionAge     time.Duration

	// Session persistence
	SessionID       string
	SessionStore    string
	SessionDBPath   string
	SessionFilePath string

	// S3-compatible storage (SESSION_STORE=s3)
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Bucket          string
	S3Region          string
	S3SessionKey      string

	// Interactive browser login (LOGIN_MODE=browser)
	ChromePath       string
	BrowserHeadless  bool
	DisableStealth   bool
	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
	ConfirmSelector  string

	// Proxy and control plane
	AuthFailureMode    string
	RewriteRulesFile   string
	ControlJWTSecret   string
	AuthStartRateLimit int
}

// ConfigError reports a missing or invalid setting. It is fatal at startup.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Key, e.Reason)
}

// Load creates a Config from environment variables and validates everything
// needed to serve traffic.
func Load() (*Config, error) {
	return load(true)
}

// LoadStoreOnly loads the configuration without requiring vendor credentials.
// Used by maintenance commands that only touch the session store.
func LoadStoreOnly() (*Config, error) {
	return load(false)
}

func load(requireCredentials bool) (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 3001),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"*"}),
		IdleTimeout: getEnvDuration("IDLE_TIMEOUT", 0),

		VendorUsername: getEnv("VENDOR_USERNAME", ""),
		VendorPassword: getEnv("VENDOR_PASSWORD", ""),
		KeyringService: getEnv("CREDENTIALS_KEYRING_SERVICE", ""),

		LoginURL:         getEnv("LOGIN_URL", ""),
		LoginMode:        strings.ToLower(getEnv("LOGIN_MODE", LoginModeRedirect)),
		LoginHTTPTimeout: getEnvDuration("LOGIN_HTTP_TIMEOUT", 30*time.Second),
		LoginStepTimeout: getEnvDuration("LOGIN_STEP_TIMEOUT", 45*time.Second),
		UserAgent:        getEnv("USER_AGENT", DefaultUserAgent),

		UpstreamBaseURL:   strings.TrimRight(getEnv("UPSTREAM_BASE_URL", "https://sites.motor.com/m1"), "/"),
		VendorDomain:      getEnv("VENDOR_DOMAIN", ""),
		VendorEntryPath:   getEnv("VENDOR_ENTRY_PATH", "/m1/"),
		VendorReferer:     getEnv("VENDOR_REFERER", ""),
		CookieDomainMatch: strings.ToLower(getEnv("COOKIE_DOMAIN_MATCH", DomainMatchLoose)),
		MaxSessionAge:     getEnvDuration("MAX_SESSION_AGE", 24*time.Hour),

		SessionID:       getEnv("SESSION_ID", "motor-session"),
		SessionStore:    strings.ToLower(getEnv("SESSION_STORE", StoreSQLite)),
		SessionDBPath:   getEnv("SESSION_DB_PATH", "data/session.db"),
		SessionFilePath: getEnv("SESSION_FILE_PATH", "data/session.json"),

		S3Endpoint:        getEnv("AWS_ENDPOINT_URL_S3", ""),
		S3AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		S3Bucket:          getEnvWithFallback("BUCKET_NAME", "STORAGE_BUCKET", ""),
		S3Region:          getEnv("AWS_REGION", "auto"),
		S3SessionKey:      getEnv("S3_SESSION_KEY", "sessions/motor-session.json"),

		ChromePath:       getEnv("CHROME_PATH", ""),
		BrowserHeadless:  getEnvBool("BROWSER_HEADLESS", true),
		DisableStealth:   getEnvBool("BROWSER_DISABLE_STEALTH", false),
		UsernameSelector: getEnv("LOGIN_USERNAME_SELECTOR", "#username"),
		PasswordSelector: getEnv("LOGIN_PASSWORD_SELECTOR", "#password"),
		SubmitSelector:   getEnv("LOGIN_SUBMIT_SELECTOR", "button[type=submit]"),
		ConfirmSelector:  getEnv("LOGIN_CONFIRM_SELECTOR", ""),

		AuthFailureMode:    strings.ToLower(getEnv("AUTH_FAILURE_MODE", AuthFailurePassthrough)),
		RewriteRulesFile:   getEnv("REWRITE_RULES_FILE", ""),
		ControlJWTSecret:   getEnv("CONTROL_JWT_SECRET", ""),
		AuthStartRateLimit: getEnvInt("AUTH_START_RATE_LIMIT", 6),
	}

	upstream, err := url.Parse(cfg.UpstreamBaseURL)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, &ConfigError{Key: "UPSTREAM_BASE_URL", Reason: "must be an absolute URL"}
	}
	if cfg.VendorDomain == "" {
		cfg.VendorDomain = registrableDomain(upstream.Hostname())
	}
	if cfg.VendorReferer == "" {
		cfg.VendorReferer = upstream.Scheme + "://" + upstream.Host + "/"
	}

	if err := cfg.validateModes(); err != nil {
		return nil, err
	}

	if cfg.MaxSessionAge <= 0 {
		return nil, &ConfigError{Key: "MAX_SESSION_AGE", Reason: "must be positive"}
	}

	if cfg.SessionStore == StoreS3 && cfg.S3Bucket == "" {
		return nil, &ConfigError{Key: "BUCKET_NAME", Reason: "is required when SESSION_STORE=s3"}
	}

	if !requireCredentials {
		return cfg, nil
	}

	if cfg.VendorUsername == "" {
		return nil, &ConfigError{Key: "VENDOR_USERNAME", Reason: "is required"}
	}
	if cfg.VendorPassword == "" && cfg.KeyringService != "" {
		secret, err := keyringGet(cfg.KeyringService, cfg.VendorUsername)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return nil, &ConfigError{Key: "CREDENTIALS_KEYRING_SERVICE", Reason: "has no entry for VENDOR_USERNAME"}
			}
			return nil, &ConfigError{Key: "CREDENTIALS_KEYRING_SERVICE", Reason: "lookup failed: " + err.Error()}
		}
		cfg.VendorPassword = secret
	}
	if cfg.VendorPassword == "" {
		return nil, &ConfigError{Key: "VENDOR_PASSWORD", Reason: "is required"}
	}

	if cfg.LoginURL == "" {
		return nil, &ConfigError{Key: "LOGIN_URL", Reason: "is required"}
	}
	if u, err := url.Parse(cfg.LoginURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &ConfigError{Key: "LOGIN_URL", Reason: "must be an absolute URL"}
	}

	return cfg, nil
}

func (c *Config) validateModes() error {
	checks := []struct {
		key     string
		value   string
		allowed []string
	}{
		{"LOGIN_MODE", c.LoginMode, []string{LoginModeRedirect, LoginModeBrowser}},
		{"COOKIE_DOMAIN_MATCH", c.CookieDomainMatch, []string{DomainMatchLoose, DomainMatchStrict}},
		{"SESSION_STORE", c.SessionStore, []string{StoreSQLite, StoreFile, StoreS3, StoreNone}},
		{"AUTH_FAILURE_MODE", c.AuthFailureMode, []string{AuthFailurePassthrough, AuthFailureSubstitute}},
	}
	for _, chk := range checks {
		if !contains(chk.allowed, chk.value) {
			return &ConfigError{
				Key:    chk.key,
				Reason: fmt.Sprintf("must be one of %s, got %q", strings.Join(chk.allowed, "|"), chk.value),
			}
		}
	}
	return nil
}

// ResolvedLoginURL returns LoginURL with the credential placeholders
// substituted, query-escaped.
func (c *Config) ResolvedLoginURL() string {
	r := strings.NewReplacer(
		"{username}", url.QueryEscape(c.VendorUsername),
		"{password}", url.QueryEscape(c.VendorPassword),
	)
	return r.Replace(c.LoginURL)
}

// registrableDomain returns the eTLD+1 for host, or host itself when it has
// no public suffix (localhost, bare IPs).
func registrableDomain(host string) string {
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultVal
}

func getEnvWithFallback(primary, fallback, defaultVal string) string {
	if val := os.Getenv(primary); val != "" {
		return val
	}
	if val := os.Getenv(fallback); val != "" {
		return val
	}
	return defaultVal
}
