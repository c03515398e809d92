package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"portal/cmd/internal/auth/authctx"
	v1 "portal/shared/contracts/realtime/v1"
)

const (
	wsDefaultSendQueueSize = 64
	wsMinSendQueueSize     = 16

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"

	// Application close code sent after session.ended.
	wsStatusSessionEnded websocket.StatusCode = 4001
)

// FeedView is one connection's live copy of the feed. It owns a hub
// subscription from Mount to Unmount; Run drains it and Changes fires after
// an insert lands. FeedMessages is newest first and, once mounted, only grows
// at the front.
type FeedView interface {
	Mount(ctx context.Context) error
	Run(ctx context.Context) error
	Changes() <-chan struct{}
	FeedMessages() []v1.FeedMessage
	Unmount()
}

// FeedViews opens a view bound to a connection's session context.
type FeedViews func(sess *authctx.Context) FeedView

// GatewayConfig holds the websocket policy knobs.
type GatewayConfig struct {
	// DevInsecure skips websocket.Accept's own origin verification. Never enable in production.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout  time.Duration
	SendQueueSize int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig returns the secure defaults (origin required, localhost only).
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:   wsDefaultOriginRequired,
		AllowedOrigins:   splitCSV(wsDefaultAllowedOrigins),
		WriteTimeout:     wsDefaultWriteTimeout,
		SendQueueSize:    wsDefaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// LoadGatewayConfigFromEnv reads PORTAL_WS_* on top of DefaultGatewayConfig.
// Invalid values fall back to the defaults.
func LoadGatewayConfigFromEnv() GatewayConfig {
	cfg := DefaultGatewayConfig()
	cfg.DevInsecure = envBoolWS("PORTAL_WS_DEV_INSECURE", false)
	cfg.OriginRequired = envBoolWS("PORTAL_WS_ORIGIN_REQUIRED", cfg.OriginRequired)
	cfg.AllowedOrigins = envCSVWS("PORTAL_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	cfg.WriteTimeout = envDurationWS("PORTAL_WS_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.SendQueueSize = envIntWS("PORTAL_WS_SEND_QUEUE", cfg.SendQueueSize)
	cfg.HeartbeatEvery = envDurationWS("PORTAL_WS_HEARTBEAT_INTERVAL", cfg.HeartbeatEvery)
	cfg.HeartbeatTimeout = envDurationWS("PORTAL_WS_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	cfg.RateEvents = envIntWS("PORTAL_WS_RATE_EVENTS", cfg.RateEvents)
	cfg.RateWindow = envDurationWS("PORTAL_WS_RATE_WINDOW", cfg.RateWindow)
	return cfg
}

// WSGateway streams the message feed to signed-in clients.
//
// Each connection gets its own session context and feed view: the feed stops
// with session.ended as soon as that session is signed out anywhere or
// reaches its expiry.
type WSGateway struct {
	log   *slog.Logger
	auth  authctx.Deps
	views FeedViews
	cfg   GatewayConfig

	// Derived for websocket.Accept origin checks.
	originPatterns []string
}

// NewWSGateway constructs a gateway. Zero-valued cfg fields take the defaults.
func NewWSGateway(log *slog.Logger, auth authctx.Deps, views FeedViews, cfg GatewayConfig) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if views == nil {
		views = func(*authctx.Context) FeedView { return emptyView{} }
	}
	if auth.Log == nil {
		auth.Log = log
	}

	def := DefaultGatewayConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendQueueSize < wsMinSendQueueSize {
		cfg.SendQueueSize = wsMinSendQueueSize
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = def.HeartbeatEvery
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}

	return &WSGateway{
		log:   log,
		auth:  auth,
		views: views,
		cfg:   cfg,

		// websocket.Accept enforces its own origin policy (same host, or OriginPatterns
		// for cross-origin). Derive the patterns from the allow-list so both layers agree.
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a feed connection.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	token := bearerToken(r.Header.Get("Authorization"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if token == "" {
		token, err = g.awaitHello(ctx, conn)
		if err != nil {
			g.log.Info("ws.reject.hello", "err", err, "remote", r.RemoteAddr)
			g.writeError(ctx, conn, "hello_required", "send hello with a token first")
			_ = conn.Close(websocket.StatusPolicyViolation, "hello required")
			return
		}
	}

	actx, err := authctx.New(g.auth, authctx.Options{Watch: true})
	if err != nil {
		g.log.Error("ws.authctx.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "unavailable")
		return
	}
	defer actx.Close()

	if err := actx.Init(ctx, token); err != nil || !actx.Snapshot().Authenticated() {
		if err != nil {
			g.log.Warn("ws.auth.fail", "err", err)
		}
		g.writeError(ctx, conn, "unauthenticated", "sign in required")
		_ = conn.Close(websocket.StatusPolicyViolation, "unauthenticated")
		return
	}
	st := actx.Snapshot()
	sessionID := st.Session.ID

	// The view subscribes before it reads the feed, so no insert falls between
	// the snapshot and the first push.
	view := g.views(actx)
	if err := view.Mount(ctx); err != nil {
		g.log.Error("ws.snapshot.fail", "session_id", sessionID, "err", err)
		g.writeError(ctx, conn, "unavailable", "feed unavailable")
		_ = conn.Close(websocket.StatusInternalError, "feed unavailable")
		return
	}
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = view.Run(ctx)
	}()
	defer func() {
		cancel()
		view.Unmount()
		<-runDone
	}()

	snapshot := view.FeedMessages()
	if snapshot == nil {
		snapshot = []v1.FeedMessage{}
	}
	delivered := len(snapshot)

	role := ""
	if st.Profile != nil {
		role = string(st.Profile.Role)
	}
	now := time.Now().UTC()
	for _, env := range []v1.Envelope{
		newEnvelope(v1.TypeHelloAck, v1.HelloAckPayload{SessionID: sessionID, UserID: st.User.ID, Role: role}, now),
		newEnvelope(v1.TypeFeedSnapshot, v1.FeedSnapshotPayload{Messages: snapshot}, now),
	} {
		if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
			g.log.Info("ws.write.fail", "session_id", sessionID, "err", err)
			return
		}
	}

	connections.Inc()
	defer connections.Dec()
	g.log.Info("ws.open", "session_id", sessionID, "user_id", st.User.ID)

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	expiry := time.NewTimer(time.Until(st.Session.ExpiresAt))
	defer expiry.Stop()

	// Replies produced by the read loop. Only the writer goroutine writes to conn.
	out := make(chan v1.Envelope, 8)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		write := func(env v1.Envelope) bool {
			if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
				g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "write failed")
				return false
			}
			return true
		}
		endSession := func(reason string) {
			_ = write(newEnvelope(v1.TypeSessionEnded, v1.SessionEndedPayload{Reason: reason, Redirect: "/signin"}, time.Now().UTC()))
			g.log.Info("ws.session.ended", "session_id", sessionID, "reason", reason)
			shutdown(wsStatusSessionEnded, "session ended")
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-runDone:
				if ctx.Err() == nil {
					shutdown(websocket.StatusInternalError, "feed closed")
				}
				return
			case env := <-out:
				if !write(env) {
					return
				}
			case <-view.Changes():
				msgs := view.FeedMessages()
				if len(msgs) <= delivered {
					continue
				}
				// New entries sit at the front; send them oldest first.
				for i := len(msgs) - delivered - 1; i >= 0; i-- {
					if !write(newEnvelope(v1.TypeMessageNew, v1.MessageNewPayload{Message: msgs[i]}, msgs[i].CreatedAt)) {
						return
					}
				}
				delivered = len(msgs)
			case <-actx.Changes():
				if actx.Snapshot().Authenticated() {
					continue
				}
				endSession("signed_out")
				return
			case <-expiry.C:
				endSession("expired")
				return
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)
	ack := newEnvelope(v1.TypeHelloAck, v1.HelloAckPayload{SessionID: sessionID, UserID: st.User.ID, Role: role}, now)

readLoop:
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				enqueue(out, errorEnvelope("bad_json", "invalid JSON"))
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(time.Now()) {
			enqueue(out, errorEnvelope("rate_limited", "too many events"))
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			enqueue(out, errorEnvelope("bad_envelope", err.Error()))
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			// Already authenticated; repeat the ack so clients can resync.
			enqueue(out, ack)
		default:
			enqueue(out, errorEnvelope("unsupported", fmt.Sprintf("unsupported type: %s", env.Type)))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	g.log.Info("ws.close", "session_id", sessionID)
}

// awaitHello reads the first envelope, which must be a hello carrying a token.
func (g *WSGateway) awaitHello(ctx context.Context, conn *websocket.Conn) (string, error) {
	readCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	env, err := readEnvelope(readCtx, conn)
	if err != nil {
		return "", err
	}
	if err := env.Validate(); err != nil {
		return "", err
	}
	if env.Type != v1.TypeHello {
		return "", fmt.Errorf("expected %s, got %s", v1.TypeHello, env.Type)
	}

	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return "", fmt.Errorf("invalid payload: %w", err)
	}
	tok := strings.TrimSpace(p.Token)
	if tok == "" {
		return "", errors.New("missing token")
	}
	return tok, nil
}

// emptyView serves a gateway built without a feed.
type emptyView struct{}

func (emptyView) Mount(context.Context) error { return nil }

func (emptyView) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (emptyView) Changes() <-chan struct{}       { return nil }
func (emptyView) FeedMessages() []v1.FeedMessage { return nil }
func (emptyView) Unmount()                       {}

func (g *WSGateway) writeError(ctx context.Context, conn *websocket.Conn, code, msg string) {
	_ = writeEnvelope(ctx, conn, errorEnvelope(code, msg), g.cfg.WriteTimeout)
}

func enqueue(out chan<- v1.Envelope, env v1.Envelope) bool {
	select {
	case out <- env:
		return true
	default:
		return false
	}
}

func bearerToken(h string) string {
	h = strings.TrimSpace(h)
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// ---- envelope IO ----

func newEnvelope(typ string, payload any, ts time.Time) v1.Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	id, err := NewEnvelopeID(ts)
	if err != nil {
		id = ""
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: raw,
	}
}

func errorEnvelope(code, msg string) v1.Envelope {
	return newEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}, time.Now().UTC())
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host with filepath.Match.
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	return splitCSV(raw)
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
