// Package httpapi exposes the portal over HTTP: sign-in, the two dashboards,
// invitation acceptance and the realtime feed upgrade.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"portal/cmd/internal/auth/authctx"
	"portal/cmd/internal/auth/session"
	"portal/cmd/internal/dashboard"
	"portal/cmd/internal/invite"
	"portal/cmd/internal/message"
	"portal/cmd/internal/notice"
)

// Invitations is what the handler needs from invite.Service.
type Invitations interface {
	dashboard.Invitations
	Open(ctx context.Context, plain string, now time.Time) invite.Acceptance
	Submit(ctx context.Context, plain, fullName, password string, now time.Time) invite.Acceptance
}

type Deps struct {
	Log         *slog.Logger
	Auth        authctx.Deps
	Profiles    dashboard.ProfileLister
	Invitations Invitations
	Messages    dashboard.Messages
	// Realtime serves GET /ws. Nil leaves the route unmounted.
	Realtime http.Handler
	Now      func() time.Time
}

type Handler struct {
	log      *slog.Logger
	cfg      Config
	d        Deps
	validate *validator.Validate
	signIn   *IPRateLimiter
}

func NewHandler(cfg Config, d Deps) (*Handler, error) {
	if d.Auth.Sessions == nil || d.Auth.Profiles == nil {
		return nil, errors.New("httpapi: auth dependencies are required")
	}
	if d.Profiles == nil || d.Invitations == nil || d.Messages == nil {
		return nil, errors.New("httpapi: dashboard dependencies are required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	if d.Auth.Log == nil {
		d.Auth.Log = log
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{
		log:      log,
		cfg:      cfg,
		d:        d,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		signIn:   NewIPRateLimiter(cfg.SignInRPS, cfg.SignInBurst),
	}, nil
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleEntry)
	mux.HandleFunc("GET /signin", h.handleSignInView)
	mux.HandleFunc("POST /signin", h.handleSignIn)
	mux.HandleFunc("POST /signout", h.handleSignOut)

	mux.HandleFunc("GET /accept-invitation/{token}", h.handleAcceptOpen)
	mux.HandleFunc("POST /accept-invitation/{token}", h.handleAcceptSubmit)

	mux.HandleFunc("GET /admin/dashboard", h.handleAdminDashboard)
	mux.HandleFunc("POST /admin/invitations", h.handleAdminInvite)
	mux.HandleFunc("POST /admin/messages", h.handleAdminMessage)

	mux.HandleFunc("GET /messages", h.handleMessages)
	if h.d.Realtime != nil {
		mux.Handle("GET /ws", h.d.Realtime)
	}
}

// ---- entry ----

func (h *Handler) handleEntry(w http.ResponseWriter, r *http.Request) {
	h.renderEntry(w, r, false)
}

func (h *Handler) handleSignInView(w http.ResponseWriter, r *http.Request) {
	h.renderEntry(w, r, true)
}

func (h *Handler) renderEntry(w http.ResponseWriter, r *http.Request, showSignIn bool) {
	actx, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	defer actx.Close()

	st := actx.Snapshot()
	resp := entryResponse{
		View:    dashboard.Route(st, showSignIn),
		Profile: toProfileResponse(st.Profile),
		Notice:  warningsNotice(actx),
	}

	switch resp.View {
	case dashboard.ViewAdmin:
		snap, err := h.admin(actx).Load(r.Context())
		if err != nil {
			h.writeDashboardError(w, "entry.admin", err)
			return
		}
		resp.Dashboard = &snap
	case dashboard.ViewGuest:
		msgs, err := h.guestMessages(r.Context(), actx)
		if err != nil {
			h.writeDashboardError(w, "entry.guest", err)
			return
		}
		resp.Messages = msgs
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- sign-in / sign-out ----

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	now := h.d.Now()
	ip := clientIP(r, h.cfg.TrustProxy)
	if !h.signIn.Allow(ipKey(ip), now) {
		h.log.Warn("http.signin.rate_limited", "ip", ipKey(ip))
		writeRateLimited(w, retryAfter(h.cfg))
		return
	}

	var req signInRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Please enter your email and password.")
		return
	}

	actx, err := authctx.New(h.d.Auth, authctx.Options{})
	if err != nil {
		h.log.Error("http.signin.context.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	defer actx.Close()

	dev := session.DeviceContext{
		Platform:  session.ParsePlatform(strings.ToLower(req.Platform)),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		IP:        ip,
	}
	iss, err := actx.SignIn(r.Context(), req.Email, req.Password, dev)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) || session.IsUnauthenticated(err) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password.")
			return
		}
		h.log.Error("http.signin.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	n := warningsNotice(actx)
	if n == nil {
		n = notice.Success("Signed in.")
	}
	writeJSON(w, http.StatusOK, signInResponse{
		Session: sessionResponse{
			SessionID:   iss.SessionID,
			AccessToken: iss.AccessToken,
			ExpiresAt:   iss.ExpiresAt,
		},
		Profile:  toProfileResponse(actx.Snapshot().Profile),
		Redirect: "/",
		Notice:   n,
	})
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	actx, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	defer actx.Close()

	if err := actx.SignOut(r.Context()); err != nil {
		// Local state is already cleared; the client is signed out either way.
		h.log.Warn("http.signout.fail", "err", err)
	}
	writeJSON(w, http.StatusOK, redirectResponse{
		Redirect: dashboard.RedirectSignIn,
		Notice:   notice.Info("Signed out."),
	})
}

// ---- invitation acceptance ----

func (h *Handler) handleAcceptOpen(w http.ResponseWriter, r *http.Request) {
	a := h.d.Invitations.Open(r.Context(), r.PathValue("token"), h.d.Now())
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleAcceptSubmit(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	a := h.d.Invitations.Submit(r.Context(), r.PathValue("token"), req.FullName, req.Password, h.d.Now())
	writeJSON(w, acceptStatus(a), a)
}

// acceptStatus maps the acceptance outcome to a status code. Invalid and
// expired links are not request errors: the body carries the redirect home.
func acceptStatus(a invite.Acceptance) int {
	switch a.State {
	case invite.StateFailed:
		return http.StatusUnprocessableEntity
	case invite.StateValid:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}

// ---- admin ----

func (h *Handler) handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	actx, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	defer actx.Close()

	snap, err := h.admin(actx).Load(r.Context())
	if err != nil {
		h.writeDashboardError(w, "admin.dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleAdminInvite(w http.ResponseWriter, r *http.Request) {
	actx, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	defer actx.Close()

	var req inviteRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	// Authorization runs before input validation so a guest learns nothing about the form.
	admin := h.admin(actx)
	if err := authorizeAdmin(actx); err != nil {
		h.writeDashboardError(w, "admin.invite", err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_email", "Please enter a valid email address.")
		return
	}

	res, err := admin.CreateInvitation(r.Context(), req.Email)
	if err != nil {
		h.writeDashboardError(w, "admin.invite", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleAdminMessage(w http.ResponseWriter, r *http.Request) {
	actx, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	defer actx.Close()

	var req messageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	admin := h.admin(actx)
	if err := authorizeAdmin(actx); err != nil {
		h.writeDashboardError(w, "admin.message", err)
		return
	}
	// Only "required" is checked here; blank and over-long content is the
	// message service's call.
	if err := h.validate.Struct(req); err != nil {
		h.writeDashboardError(w, "admin.message", message.ErrEmptyContent)
		return
	}

	res, err := admin.CreateMessage(r.Context(), req.Content)
	if err != nil {
		h.writeDashboardError(w, "admin.message", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ---- guest ----

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	actx, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	defer actx.Close()

	msgs, err := h.guestMessages(r.Context(), actx)
	if err != nil {
		h.writeDashboardError(w, "messages", err)
		return
	}
	writeJSON(w, http.StatusOK, feedResponse{Messages: msgs})
}

// guestMessages reads the guest feed once. Live updates are delivered over
// /ws, where the gateway keeps a mounted guest view per connection.
func (h *Handler) guestMessages(ctx context.Context, actx *authctx.Context) ([]dashboard.MessageView, error) {
	g := dashboard.NewGuest(dashboard.GuestDeps{
		Session: actx,
		Feed:    h.d.Messages,
		Log:     h.log,
	})
	return g.Load(ctx)
}

// ---- helpers ----

func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request) (*authctx.Context, bool) {
	actx, err := authctx.New(h.d.Auth, authctx.Options{})
	if err != nil {
		h.log.Error("http.session.context.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return nil, false
	}
	if err := actx.Init(r.Context(), bearerToken(r)); err != nil {
		actx.Close()
		h.log.Error("http.session.load.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return nil, false
	}
	return actx, true
}

func (h *Handler) admin(actx *authctx.Context) *dashboard.Admin {
	return dashboard.NewAdmin(dashboard.AdminDeps{
		Session:     actx,
		Profiles:    h.d.Profiles,
		Invitations: h.d.Invitations,
		Messages:    h.d.Messages,
		Log:         h.log,
		Now:         h.d.Now,
	})
}

func authorizeAdmin(actx *authctx.Context) error {
	st := actx.Snapshot()
	switch {
	case !st.Authenticated():
		return dashboard.ErrUnauthenticated
	case !st.IsAdmin():
		return dashboard.ErrForbidden
	}
	return nil
}

func (h *Handler) writeDashboardError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, dashboard.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "Please sign in.")
	case errors.Is(err, dashboard.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "You do not have access to this page.")
	case errors.Is(err, dashboard.ErrEmailRequired), errors.Is(err, invite.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_email", "Please enter a valid email address.")
	case errors.Is(err, message.ErrEmptyContent):
		writeError(w, http.StatusUnprocessableEntity, "empty_content", "Message cannot be empty.")
	case errors.Is(err, message.ErrContentTooLong):
		writeError(w, http.StatusUnprocessableEntity, "content_too_long", "Message is too long.")
	default:
		h.log.Error("http."+op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Something went wrong. Please try again.")
	}
}

func warningsNotice(actx *authctx.Context) *notice.Notice {
	if len(actx.Warnings()) == 0 {
		return nil
	}
	return notice.Warning("Some of your profile could not be loaded.")
}

func retryAfter(cfg Config) time.Duration {
	if cfg.SignInRPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(cfg.SignInRPS))
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func ipKey(ip net.IP) string {
	if ip == nil {
		return "unknown"
	}
	return ip.String()
}
