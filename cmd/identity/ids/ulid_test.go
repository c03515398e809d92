package ids

import (
	"testing"
	"time"
)

func TestNew_MonotonicWithinMillisecond(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	prev := ""
	for i := 0; i < 100; i++ {
		id, err := New(now)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if len(id) != 26 || !Valid(id) {
			t.Fatalf("invalid ulid %q", id)
		}
		if prev != "" && id <= prev {
			t.Fatalf("not increasing: %q after %q", id, prev)
		}
		prev = id
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	if Valid("not-a-ulid") {
		t.Fatalf("expected invalid")
	}
}
