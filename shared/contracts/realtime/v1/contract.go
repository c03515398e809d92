// Package v1 defines the Portal feed protocol v1 contract.
//
// It is shared between the server and clients and keeps the wire format authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol clients must request.
const Subprotocol = "portal.feed.v1"

// Type constants (wire-stable).
const (
	// TypeHello carries the access token when no Authorization header was sent (client -> server).
	TypeHello = "hello"
	// TypeHelloAck confirms the authenticated feed session (server -> client).
	TypeHelloAck = "hello.ack"

	// TypeFeedSnapshot is the current feed, newest first (server -> client).
	TypeFeedSnapshot = "feed.snapshot"
	// TypeMessageNew carries one newly inserted message (server -> client).
	TypeMessageNew = "message.new"

	// TypeSessionEnded is sent right before the server closes a signed-out connection.
	TypeSessionEnded = "session.ended"

	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeFeedSnapshot,
		TypeMessageNew,
		TypeSessionEnded,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload authenticates a connection opened without an Authorization header.
type HelloPayload struct {
	Token string `json:"token"`
}

// HelloAckPayload identifies the session the connection is bound to.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role,omitempty"`
}

// FeedMessage is one broadcast message as clients see it.
type FeedMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedSnapshotPayload is the feed at connect time.
type FeedSnapshotPayload struct {
	Messages []FeedMessage `json:"messages"`
}

// MessageNewPayload is pushed once per inserted message.
type MessageNewPayload struct {
	Message FeedMessage `json:"message"`
}

// SessionEndedPayload explains why the server is closing the connection.
type SessionEndedPayload struct {
	Reason   string `json:"reason"`
	Redirect string `json:"redirect,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
