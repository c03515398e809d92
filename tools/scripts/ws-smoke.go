// Package main is a CI-friendly smoke test for the portal realtime feed.
//
// It signs in over HTTP, opens /ws, authenticates with a hello envelope and
// expects hello.ack followed by feed.snapshot. With -admin-email set it also
// publishes a message as that admin and waits for message.new.
//
// Passwords come from PORTAL_SMOKE_PASSWORD and PORTAL_SMOKE_ADMIN_PASSWORD.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "portal/shared/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

func main() {
	var (
		baseURL    = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL")
		origin     = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		email      = flag.String("email", "", "Guest email")
		adminEmail = flag.String("admin-email", "", "Admin email; enables the publish check")
		text       = flag.String("text", "smoke test message", "Message text to publish")
		timeout    = flag.Duration("timeout", 10*time.Second, "Overall timeout")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, *baseURL, *origin, *email, *adminEmail, *text); err != nil {
		fmt.Fprintln(os.Stderr, "FAIL:", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func run(ctx context.Context, base, origin, email, adminEmail, text string) error {
	if email == "" {
		return errors.New("-email is required")
	}
	base = strings.TrimRight(base, "/")

	token, err := signIn(ctx, base, email, os.Getenv("PORTAL_SMOKE_PASSWORD"))
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws"
	h := http.Header{}
	h.Set("Origin", origin)
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "smoke done") }()
	conn.SetReadLimit(maxReadBytes)

	if got := conn.Subprotocol(); got != v1.Subprotocol {
		return fmt.Errorf("subprotocol: got %q", got)
	}

	if err := writeEnvelope(ctx, conn, v1.TypeHello, v1.HelloPayload{Token: token}); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	if _, err := expect(ctx, conn, v1.TypeHelloAck); err != nil {
		return err
	}
	snap, err := expect(ctx, conn, v1.TypeFeedSnapshot)
	if err != nil {
		return err
	}
	var sp v1.FeedSnapshotPayload
	if err := json.Unmarshal(snap.Payload, &sp); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	fmt.Printf("snapshot: %d message(s)\n", len(sp.Messages))

	if adminEmail == "" {
		return nil
	}

	adminToken, err := signIn(ctx, base, adminEmail, os.Getenv("PORTAL_SMOKE_ADMIN_PASSWORD"))
	if err != nil {
		return fmt.Errorf("admin sign in: %w", err)
	}
	if err := postJSON(ctx, base+"/admin/messages", adminToken, map[string]string{"content": text}, http.StatusCreated, nil); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	env, err := expect(ctx, conn, v1.TypeMessageNew)
	if err != nil {
		return err
	}
	var mp v1.MessageNewPayload
	if err := json.Unmarshal(env.Payload, &mp); err != nil {
		return fmt.Errorf("decode message.new: %w", err)
	}
	if mp.Message.Content != text {
		return fmt.Errorf("message.new content: got %q want %q", mp.Message.Content, text)
	}
	return nil
}

func signIn(ctx context.Context, base, email, password string) (string, error) {
	var out struct {
		Session struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := postJSON(ctx, base+"/signin", "", body, http.StatusOK, &out); err != nil {
		return "", err
	}
	if out.Session.AccessToken == "" {
		return "", errors.New("empty access token")
	}
	return out.Session.AccessToken, nil
}

func postJSON(ctx context.Context, url, token string, body any, want int, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, typ string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("smoke-%d", time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: raw,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// expect reads envelopes until one of type typ arrives. An error envelope fails fast.
func expect(ctx context.Context, conn *websocket.Conn, typ string) (v1.Envelope, error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return v1.Envelope{}, fmt.Errorf("waiting for %s: %w", typ, err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return v1.Envelope{}, fmt.Errorf("decode envelope: %w", err)
		}
		switch env.Type {
		case typ:
			return env, nil
		case v1.TypeError:
			return v1.Envelope{}, fmt.Errorf("server error while waiting for %s: %s", typ, string(env.Payload))
		}
	}
}
