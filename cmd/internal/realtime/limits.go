package realtime

import "time"

const (
	// Max bytes per websocket frame read. Clients only send hello envelopes.
	maxFrameBytes = 16 << 10

	// How long a connection without an Authorization header may take to send hello.
	helloTimeout = 10 * time.Second
)

const (
	// Heartbeat defaults (PORTAL_WS_HEARTBEAT_*).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound limits (events per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
