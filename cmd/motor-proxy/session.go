package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/motor-proxy/internal/config"
	"github.com/jmylchreest/motor-proxy/internal/http/mw"
	"github.com/jmylchreest/motor-proxy/internal/logging"
	"github.com/jmylchreest/motor-proxy/internal/models"
	"github.com/jmylchreest/motor-proxy/internal/store"
)

var errNoStore = errors.New("session persistence is disabled (SESSION_STORE=none)")

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Run one login and persist the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.SetDefault(cfg.LogLevel)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.manager.Authenticate(cmd.Context()); err != nil {
				return err
			}
			s := a.manager.Session()
			fmt.Fprintf(cmd.OutOrStdout(), "logged in: %d cookies (%s)\n", len(s.Cookies), cookieNames(s.Cookies))
			return nil
		},
	}
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or clear the persisted session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the persisted session with cookie values masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cfg, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			rec, err := st.Get(cmd.Context(), cfg.SessionID)
			if err != nil {
				return err
			}
			if rec == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "no session stored for %q\n", cfg.SessionID)
				return nil
			}
			return printSession(cmd.OutOrStdout(), rec, time.Now(), cfg.MaxSessionAge)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cfg, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Delete(cmd.Context(), cfg.SessionID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %q cleared\n", cfg.SessionID)
			return nil
		},
	})

	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a control token for POST /auth/start",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadStoreOnly()
			if err != nil {
				return err
			}
			if cfg.ControlJWTSecret == "" {
				return &config.ConfigError{Key: "CONTROL_JWT_SECRET", Reason: "is required to mint tokens"}
			}
			token, err := mw.IssueControlToken(cfg.ControlJWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func openStore(cmd *cobra.Command) (store.Store, *config.Config, error) {
	cfg, err := config.LoadStoreOnly()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cmd.Context(), cfg, logging.Discard())
	if err != nil {
		return nil, nil, err
	}
	if st == nil {
		return nil, nil, errNoStore
	}
	return st, cfg, nil
}

type sessionView struct {
	Cookies   []models.Cookie `json:"cookies"`
	Timestamp time.Time       `json:"timestamp"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Age       string          `json:"age"`
	Valid     bool            `json:"valid"`
}

func printSession(w io.Writer, rec *models.PersistedSession, now time.Time, maxAge time.Duration) error {
	view := sessionView{
		Cookies:   make([]models.Cookie, len(rec.Cookies)),
		Timestamp: rec.Timestamp,
		UpdatedAt: rec.UpdatedAt,
		Age:       now.Sub(rec.Timestamp).Round(time.Second).String(),
		Valid:     rec.Session().Valid(now, maxAge),
	}
	for i, c := range rec.Cookies {
		view.Cookies[i] = models.Cookie{Name: c.Name, Value: mask(c.Value), Domain: c.Domain}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

// mask keeps the first four characters of a cookie value.
func mask(v string) string {
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + strings.Repeat("*", len(v)-4)
}

func cookieNames(cookies []models.Cookie) string {
	names := make([]string, len(cookies))
	for i, c := range cookies {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}
