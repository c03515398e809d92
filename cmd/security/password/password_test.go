package password

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestHashAndVerify_OK(t *testing.T) {
	cfg := Cheap()

	h, err := cfg.Hash("secret1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "secret1")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	cfg := Cheap()

	h, err := cfg.Hash("secret1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "secret2")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestValidate_DefaultPolicy(t *testing.T) {
	cfg := DefaultConfig()

	cases := []struct {
		name string
		in   string
		want error
	}{
		{name: "empty", in: "", want: ErrPasswordTooShort},
		{name: "five chars", in: "abcde", want: ErrPasswordTooShort},
		{name: "six chars", in: "abcdef", want: nil},
		{name: "invitee password", in: "secret1", want: nil},
		{name: "multibyte counted as runes", in: "ñandú!", want: nil},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if err := cfg.Validate(tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("Validate(%q)=%v want=%v", tc.in, err, tc.want)
			}
		})
	}
}

func TestValidate_MinMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := cfg.Validate("this password is definitely too long"); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if err := cfg.Validate("goodpassw0rd!"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	t.Parallel()

	cfg := Cheap()
	good, err := cfg.Hash("secret1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	parts := strings.Split(good, "$")

	cases := []struct {
		name    string
		encoded string
	}{
		{name: "garbage", encoded: "not-a-hash"},
		{name: "bcrypt", encoded: "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"},
		{name: "old_version", encoded: strings.Replace(good, "$v=19$", "$v=16$", 1)},
		{name: "zero_memory", encoded: strings.Join([]string{"", parts[1], parts[2], "m=0,t=1,p=1", parts[4], parts[5]}, "$")},
		{name: "missing_parallelism", encoded: strings.Join([]string{"", parts[1], parts[2], "m=8192,t=1", parts[4], parts[5]}, "$")},
		{name: "bad_salt", encoded: strings.Join([]string{"", parts[1], parts[2], parts[3], "!!", parts[5]}, "$")},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ok, err := cfg.Verify(tc.encoded, "secret1")
			if err != ErrInvalidHash {
				t.Fatalf("expected ErrInvalidHash, got %v", err)
			}
			if ok {
				t.Fatalf("expected false")
			}
		})
	}
}

func TestVerify_RejectsExcessiveCost(t *testing.T) {
	strong := DefaultConfig()
	h, err := strong.Hash("secret1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	// A verifier configured far below the hash cost refuses to run it.
	ok, err := Cheap().Verify(h, "secret1")
	if err != ErrInvalidHash || ok {
		t.Fatalf("expected ErrInvalidHash, got ok=%v err=%v", ok, err)
	}
}

func TestNeedsRehash(t *testing.T) {
	cheap := Cheap()
	h, err := cheap.Hash("secret1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if cheap.NeedsRehash(h) {
		t.Fatalf("hash made with the same params must not need rehash")
	}
	if !DefaultConfig().NeedsRehash(h) {
		t.Fatalf("cheap hash must need rehash under the default params")
	}
	if !cheap.NeedsRehash("garbage") {
		t.Fatalf("malformed hash must need rehash")
	}
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.RejectVeryWeak = true

	for _, pw := range []string{"password", "aaaaaaa", "1234567", "letmein", "Portal123", "ññññññ"} {
		if err := cfg.Validate(pw); !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("Validate(%q): expected ErrWeakPassword, got %v", pw, err)
		}
	}
	if err := cfg.Validate("secret1"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestPolicyError_UserMessage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MaxLength = 10
	cfg.Policy.RejectVeryWeak = true

	cases := []struct {
		in   string
		want string
	}{
		{in: "abc", want: "Password must be at least 6 characters."},
		{in: "abcdefghijk", want: "Password must be at most 10 characters."},
		{in: "qwerty", want: "That password is too easy to guess. Please choose another."},
	}
	for _, tc := range cases {
		err := cfg.Validate(tc.in)
		if got := UserMessage(fmt.Errorf("create user: %w", err)); got != tc.want {
			t.Fatalf("UserMessage(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
	if got := UserMessage(ErrInvalidHash); got != "" {
		t.Fatalf("non-policy error produced a message: %q", got)
	}
}
