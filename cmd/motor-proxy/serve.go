package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/motor-proxy/internal/api/handlers"
	"github.com/jmylchreest/motor-proxy/internal/browser"
	"github.com/jmylchreest/motor-proxy/internal/config"
	"github.com/jmylchreest/motor-proxy/internal/http/mw"
	"github.com/jmylchreest/motor-proxy/internal/logging"
	"github.com/jmylchreest/motor-proxy/internal/proxy"
	"github.com/jmylchreest/motor-proxy/internal/shutdown"
	"github.com/jmylchreest/motor-proxy/internal/version"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy and control endpoints",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.SetDefault(cfg.LogLevel)
	logger.Info("starting motor-proxy",
		"version", version.Get().Version,
		"port", cfg.Port,
		"upstream", cfg.UpstreamBaseURL,
		"vendor_domain", cfg.VendorDomain,
		"login_mode", cfg.LoginMode,
		"session_store", cfg.SessionStore,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.LoginMode == config.LoginModeBrowser {
		if err := browser.EnsureBinary(cfg.ChromePath, logger); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer a.Close()

	gateway, err := newGateway(cfg, a.manager, logger)
	if err != nil {
		return err
	}

	if a.manager.LoadSession(ctx) {
		logger.Info("restored persisted session", "last_auth", a.manager.LastAuth())
	} else {
		a.manager.Reauthenticate("startup")
	}

	idle := shutdown.NewIdleMonitor(shutdown.IdleConfig{
		Timeout: cfg.IdleTimeout,
		Logger:  logger,
		Busy:    a.manager.InFlight,
	})
	idle.Start()
	defer idle.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      idle.Middleware(newRouter(cfg, a, gateway)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: loginBudget(cfg) + 60*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	case <-idle.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	done := make(chan struct{})
	go func() {
		a.manager.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("login still running at shutdown")
	}

	logger.Info("server stopped")
	return nil
}

func newRouter(cfg *config.Config, a *app, gateway *proxy.Gateway) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	health := handlers.NewHealthHandler(a.manager)
	authHandler := handlers.NewAuthHandler(a.manager, a.logger)

	r.Group(func(cr chi.Router) {
		cr.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))

		handlers.RegisterPublic(humachi.New(cr, handlers.NewConfig(version.Get().Version, true)), health, authHandler)

		cr.Group(func(pr chi.Router) {
			pr.Use(mw.RateLimitByIP(cfg.AuthStartRateLimit))
			pr.Use(mw.RequireControlToken(mw.AuthConfig{Secret: cfg.ControlJWTSecret, Logger: a.logger}))
			handlers.RegisterControl(humachi.New(pr, handlers.NewConfig(version.Get().Version, false)), authHandler)
		})
	})

	if cfg.ControlJWTSecret == "" {
		a.logger.Warn("CONTROL_JWT_SECRET not set - /auth/start is unauthenticated")
	}

	r.Handle("/api/*", gateway)
	r.Handle("/v1/*", gateway)

	return r
}
