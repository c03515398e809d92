// Package app wires the portal server runtime: config, logging, persistence,
// HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"portal/cmd/internal/auth/authctx"
	"portal/cmd/internal/auth/session"
	"portal/cmd/internal/dashboard"
	"portal/cmd/internal/httpapi"
	"portal/cmd/internal/invite"
	"portal/cmd/internal/mail"
	"portal/cmd/internal/message"
	"portal/cmd/internal/profile"
	"portal/cmd/internal/realtime"
	"portal/cmd/security/password"
)

// App is the portal server runtime: it owns the store lifecycle and HTTP wiring.
type App struct {
	cfg Config
	log Logger

	store backends
	reg   *prometheus.Registry

	hub *realtime.Hub
	ws  *realtime.WSGateway
	api *httpapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	apiCfg, err := httpapi.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	smtpCfg, err := mail.LoadSMTPConfigFromEnv()
	if err != nil {
		return nil, err
	}

	st, err := newBackends(ctx, cfg, pwCfg, log)
	if err != nil {
		return nil, err
	}
	if err := seedAdmin(ctx, cfg, st, pwCfg, log); err != nil {
		_ = st.Close(ctx)
		return nil, err
	}

	if sessCfg.PasetoV4SecretKeyHex == "" {
		if st.dbEnabled() {
			_ = st.Close(ctx)
			return nil, errors.New("config: PORTAL_PASETO_V4_SECRET_KEY_HEX is required with a database")
		}
		sessCfg.PasetoV4SecretKeyHex = session.GenerateSecretKeyHex()
		log.Warn("auth.paseto.ephemeral_key", "hint", "sessions do not survive a restart")
	}
	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}

	reg, err := newRegistry()
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}

	hub := realtime.NewHub(log)
	sessions := session.NewService(sessCfg, st.sessions, st.users, tokens, session.WithLogger(log))
	auth := authctx.Deps{
		Sessions: sessions,
		Profiles: profile.NewResolver(st.profiles, log),
		Log:      log,
	}

	var mailer mail.Sender = mail.Noop{}
	if smtpCfg.Enabled() {
		mailer = mail.NewSMTP(smtpCfg)
	} else {
		log.Info("mail.disabled", "hint", "share invitation links manually")
	}

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = runtimeBaseURL(cfg.HTTPAddr)
	}
	invites, err := invite.NewService(st.invites,
		invite.WithBaseURL(baseURL),
		invite.WithMailer(mailer),
		invite.WithLogger(log),
	)
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}
	messages := message.NewService(st.messages, hub, message.WithLogger(log))

	wsCfg := realtime.LoadGatewayConfigFromEnv()
	ws := realtime.NewWSGateway(log, auth, func(sess *authctx.Context) realtime.FeedView {
		return dashboard.NewGuest(dashboard.GuestDeps{
			Session:   sess,
			Feed:      messages,
			Hub:       hub,
			Log:       log,
			QueueSize: wsCfg.SendQueueSize,
		})
	}, wsCfg)

	api, err := httpapi.NewHandler(apiCfg, httpapi.Deps{
		Log:         log,
		Auth:        auth,
		Profiles:    st.profiles,
		Invitations: invites,
		Messages:    messages,
		Realtime:    ws,
	})
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}

	log.Info("app.ready",
		"db_enabled", st.dbEnabled(),
		"public_base_url", baseURL,
		"ws_url", wsBaseURL(baseURL)+"/ws",
	)

	return &App{
		cfg:   cfg,
		log:   log,
		store: st,
		reg:   reg,
		hub:   hub,
		ws:    ws,
		api:   api,
	}, nil
}

// Handler returns the fully wrapped root handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.store, a.reg, a.api)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.store.dbEnabled())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		_ = a.store.Close(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can reach.
// Wildcard hosts become 127.0.0.1.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
