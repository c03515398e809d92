package session

import (
	"context"
	"net"
	"time"
)

// Platform represents the client platform associated with a session.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformDesktop Platform = "desktop"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform maps free text to a Platform, defaulting to PlatformUnknown.
func ParsePlatform(s string) Platform {
	switch p := Platform(s); p {
	case PlatformWeb, PlatformIOS, PlatformAndroid, PlatformDesktop:
		return p
	default:
		return PlatformUnknown
	}
}

// DeviceContext describes the client device that owns a session.
type DeviceContext struct {
	Platform  Platform
	UserAgent string
	IP        net.IP
}

// Row mirrors the sessions row.
type Row struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	Platform  Platform
}

// Active reports whether the session can still authenticate requests at now.
func (r Row) Active(now time.Time) error {
	if r.RevokedAt != nil {
		return ErrSessionRevoked
	}
	if !r.ExpiresAt.After(now) {
		return ErrSessionExpired
	}
	return nil
}

// Store abstracts persistence for session state.
type Store interface {
	// Create creates a new session row and returns its id.
	Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, expiresAt time.Time) (string, error)

	// GetByID loads a session row by ID. Missing rows are ErrSessionNotFound.
	GetByID(ctx context.Context, sessionID string) (Row, error)

	// Revoke revokes a single session. It reports whether this call changed the row.
	Revoke(ctx context.Context, now time.Time, sessionID string) (bool, error)
}
