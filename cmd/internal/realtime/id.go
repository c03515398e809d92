package realtime

import (
	"time"

	"portal/cmd/identity/ids"
)

// NewEnvelopeID returns a ULID used as envelope id.
// ULIDs sort by time, which keeps envelopes ordered in logs.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.New(now)
}
