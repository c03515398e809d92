package invite

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"portal/cmd/identity"
	"portal/cmd/internal/mail"
	"portal/cmd/internal/notice"
	"portal/cmd/internal/profile"
	"portal/cmd/security/password"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	store    *MemoryStore
	accounts *identity.MemoryStore
	profiles *profile.MemoryStore
	mailer   *mail.Recorder
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()

	profiles := profile.NewMemoryStore()
	accounts := identity.NewMemoryStore(profiles, password.Cheap())
	store := NewMemoryStore(accounts)
	rec := &mail.Recorder{}

	opts = append([]Option{WithMailer(rec), WithBaseURL("https://portal.example.com")}, opts...)
	svc, err := NewService(store, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return fixture{svc: svc, store: store, accounts: accounts, profiles: profiles, mailer: rec}
}

func fixedToken(tok string) TokenSource {
	return func() (string, error) { return tok, nil }
}

func TestSubmit_AcceptsAndCreatesGuestAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithTokenSource(fixedToken("abc123")))
	ctx := context.Background()

	iss, err := f.svc.Issue(ctx, "admin-1", "a@x.com", t0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if iss.Token != "abc123" {
		t.Fatalf("token: got %q", iss.Token)
	}
	if iss.AcceptURL != "https://portal.example.com/accept-invitation/abc123" {
		t.Fatalf("accept url: got %q", iss.AcceptURL)
	}

	opened := f.svc.Open(ctx, "abc123", t0.Add(time.Hour))
	if opened.State != StateValid || opened.Email != "a@x.com" {
		t.Fatalf("open: got state=%q email=%q", opened.State, opened.Email)
	}

	res := f.svc.Submit(ctx, "abc123", "Ann", "secret1", t0.Add(2*time.Hour))
	if res.State != StateAccepted {
		t.Fatalf("submit: got %q (trace %v)", res.State, res.Trace)
	}
	if res.Redirect != RedirectSignIn {
		t.Fatalf("redirect: got %q", res.Redirect)
	}
	if res.Notice == nil || res.Notice.Level != notice.LevelSuccess {
		t.Fatalf("notice: got %+v", res.Notice)
	}
	want := []AcceptState{StateLoading, StateValid, StateSubmitting, StateAccepted}
	if !equalTrace(res.Trace, want) {
		t.Fatalf("trace: got %v want %v", res.Trace, want)
	}

	if n := f.accounts.Len(); n != 1 {
		t.Fatalf("accounts: got %d want 1", n)
	}
	ua, err := f.accounts.GetUserAuthByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("lookup account: %v", err)
	}
	if ua.FullName == nil || *ua.FullName != "Ann" {
		t.Fatalf("full name: got %v", ua.FullName)
	}
	p, err := f.profiles.Get(ctx, ua.ID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Role != profile.RoleGuest {
		t.Fatalf("role: got %q", p.Role)
	}

	list, err := f.svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || !list[0].Accepted || list[0].AcceptedAt == nil {
		t.Fatalf("invitation not closed: %+v", list)
	}
	if !list[0].AcceptedAt.Equal(t0.Add(2 * time.Hour)) {
		t.Fatalf("accepted_at: got %v", list[0].AcceptedAt)
	}
	if got := list[0].Status(t0.Add(30 * 24 * time.Hour)); got != "accepted" {
		t.Fatalf("status: got %q", got)
	}
}

func TestOpen_ExpiredAfterTTL(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithTokenSource(fixedToken("abc123")))
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "admin-1", "a@x.com", t0); err != nil {
		t.Fatalf("issue: %v", err)
	}

	res := f.svc.Open(ctx, "abc123", t0.Add(8*24*time.Hour))
	if res.State != StateExpired {
		t.Fatalf("state: got %q", res.State)
	}
	if res.Redirect != RedirectHome {
		t.Fatalf("redirect: got %q", res.Redirect)
	}
	if res.Notice == nil || res.Notice.Level != notice.LevelError {
		t.Fatalf("notice: got %+v", res.Notice)
	}
	if res.Email != "" {
		t.Fatalf("email leaked on expired invitation: %q", res.Email)
	}

	sub := f.svc.Submit(ctx, "abc123", "Ann", "secret1", t0.Add(8*24*time.Hour))
	if sub.State != StateExpired {
		t.Fatalf("submit on expired: got %q", sub.State)
	}
	if f.accounts.Len() != 0 {
		t.Fatalf("expired invitation created an account")
	}
}

func TestOpen_ExpiryBoundaryIsInclusive(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithTokenSource(fixedToken("edge1")))
	ctx := context.Background()

	iss, err := f.svc.Issue(ctx, "", "edge@x.com", t0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if got := f.svc.Open(ctx, "edge1", iss.Invitation.ExpiresAt).State; got != StateValid {
		t.Fatalf("at expires_at: got %q want valid", got)
	}
	if got := f.svc.Open(ctx, "edge1", iss.Invitation.ExpiresAt.Add(time.Nanosecond)).State; got != StateExpired {
		t.Fatalf("after expires_at: got %q want expired", got)
	}
}

func TestOpen_InvalidTokens(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithTokenSource(fixedToken("used1")))
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "admin-1", "u@x.com", t0); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if res := f.svc.Submit(ctx, "used1", "User", "secret1", t0); res.State != StateAccepted {
		t.Fatalf("first submit: got %q", res.State)
	}

	cases := []struct {
		name  string
		token string
	}{
		{name: "unknown", token: "nosuchtoken"},
		{name: "empty", token: ""},
		{name: "bad_shape", token: "abc/../123"},
		{name: "too_long", token: strings.Repeat("a", 129)},
		{name: "already_accepted", token: "used1"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := f.svc.Open(ctx, tc.token, t0.Add(time.Minute))
			if res.State != StateInvalid {
				t.Fatalf("state: got %q", res.State)
			}
			if res.Redirect != RedirectHome {
				t.Fatalf("redirect: got %q", res.Redirect)
			}
		})
	}

	again := f.svc.Submit(ctx, "used1", "User", "secret1", t0.Add(time.Minute))
	if again.State != StateInvalid {
		t.Fatalf("second submit: got %q", again.State)
	}
	if f.accounts.Len() != 1 {
		t.Fatalf("accounts: got %d want 1", f.accounts.Len())
	}
}

func TestSubmit_MissingFieldsStayValid(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithTokenSource(fixedToken("form1")))
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "admin-1", "f@x.com", t0); err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := []struct {
		name     string
		fullName string
		password string
	}{
		{name: "no_name", fullName: "   ", password: "secret1"},
		{name: "no_password", fullName: "Fay", password: ""},
		{name: "name_too_long", fullName: strings.Repeat("n", 201), password: "secret1"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			res := f.svc.Submit(ctx, "form1", tc.fullName, tc.password, t0)
			if res.State != StateValid {
				t.Fatalf("state: got %q", res.State)
			}
			if res.Notice == nil || res.Notice.Level != notice.LevelError {
				t.Fatalf("notice: got %+v", res.Notice)
			}
		})
	}

	if f.accounts.Len() != 0 {
		t.Fatalf("accounts created for incomplete form")
	}
	if got := f.svc.Open(ctx, "form1", t0).State; got != StateValid {
		t.Fatalf("invitation no longer open: %q", got)
	}
}

func TestSubmit_AccountFailureLeavesInvitationOpen(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		prepare func(t *testing.T, f fixture)
		pw      string
		notice  string
	}{
		{
			name:   "password_policy",
			pw:     "123",
			notice: "Password must be at least 6 characters.",
		},
		{
			name:   "email_taken",
			pw:     "secret1",
			notice: msgFailed,
			prepare: func(t *testing.T, f fixture) {
				_, err := f.accounts.CreateUser(context.Background(), identity.CreateUserInput{
					Email:    "taken@x.com",
					Password: "secret1",
					Now:      t0,
				})
				if err != nil {
					t.Fatalf("seed account: %v", err)
				}
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, WithTokenSource(fixedToken("fail1")))
			ctx := context.Background()
			if tc.prepare != nil {
				tc.prepare(t, f)
			}
			before := f.accounts.Len()

			if _, err := f.svc.Issue(ctx, "admin-1", "taken@x.com", t0); err != nil {
				t.Fatalf("issue: %v", err)
			}

			res := f.svc.Submit(ctx, "fail1", "Tom", tc.pw, t0.Add(time.Minute))
			if res.State != StateFailed {
				t.Fatalf("state: got %q (trace %v)", res.State, res.Trace)
			}
			if res.Notice == nil || res.Notice.Message != tc.notice {
				t.Fatalf("notice: got %+v", res.Notice)
			}
			if f.accounts.Len() != before {
				t.Fatalf("accounts: got %d want %d", f.accounts.Len(), before)
			}

			list, err := f.svc.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 1 || list[0].Accepted || list[0].AcceptedAt != nil {
				t.Fatalf("invitation should stay open: %+v", list)
			}
			if got := f.svc.Open(ctx, "fail1", t0.Add(time.Minute)).State; got != StateValid {
				t.Fatalf("reopen: got %q", got)
			}
		})
	}
}

func TestSubmit_ConcurrentCreatesOneAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithTokenSource(fixedToken("race1")))
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "admin-1", "race@x.com", t0); err != nil {
		t.Fatalf("issue: %v", err)
	}

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := f.svc.Submit(ctx, "race1", "Rae", "secret1", t0)
			if res.State == StateAccepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("accepted submissions: got %d want 1", accepted)
	}
	if f.accounts.Len() != 1 {
		t.Fatalf("accounts: got %d want 1", f.accounts.Len())
	}
}

func TestIssue_RetriesOnTokenConflict(t *testing.T) {
	t.Parallel()

	seq := []string{"dup1", "dup1", "fresh1"}
	var (
		mu sync.Mutex
		i  int
	)
	src := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		tok := seq[i]
		i++
		return tok, nil
	}

	f := newFixture(t, WithTokenSource(src))
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, "admin-1", "one@x.com", t0)
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	second, err := f.svc.Issue(ctx, "admin-1", "two@x.com", t0.Add(time.Second))
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if first.Token != "dup1" || second.Token != "fresh1" {
		t.Fatalf("tokens: got %q, %q", first.Token, second.Token)
	}

	list, err := f.svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Email != "two@x.com" {
		t.Fatalf("list order: %+v", list)
	}
}

func TestIssue_GivesUpAfterRepeatedConflicts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithTokenSource(fixedToken("same1")))
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "admin-1", "one@x.com", t0); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	_, err := f.svc.Issue(ctx, "admin-1", "two@x.com", t0)
	if !errors.Is(err, ErrTokenConflict) {
		t.Fatalf("expected ErrTokenConflict, got %v", err)
	}
}

func TestIssue_RejectsBadEmail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for _, email := range []string{"", "   ", strings.Repeat("a", 250) + "@x.com"} {
		if _, err := f.svc.Issue(context.Background(), "admin-1", email, t0); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("email %q: expected ErrInvalidInput, got %v", email, err)
		}
	}
}

func TestIssue_SendsInvitationMail(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithTokenSource(fixedToken("mail1")))
	iss, err := f.svc.Issue(context.Background(), "admin-1", "m@x.com", t0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	sent := f.mailer.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent: got %d want 1", len(sent))
	}
	if sent[0].To != "m@x.com" {
		t.Fatalf("to: got %q", sent[0].To)
	}
	if !strings.Contains(sent[0].Body, iss.AcceptURL) {
		t.Fatalf("body does not carry the link: %q", sent[0].Body)
	}
}

type failingMailer struct{}

func (failingMailer) Send(context.Context, string, string, string) error {
	return errors.New("smtp down")
}

func TestIssue_MailFailureDoesNotFailIssue(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithMailer(failingMailer{}))
	if _, err := f.svc.Issue(context.Background(), "admin-1", "m@x.com", t0); err != nil {
		t.Fatalf("issue: %v", err)
	}
}

func TestRandomToken_Shape(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		tok, err := RandomToken()
		if err != nil {
			t.Fatalf("random token: %v", err)
		}
		if len(tok) != tokenLength {
			t.Fatalf("length: got %d", len(tok))
		}
		if !validTokenShape(tok) {
			t.Fatalf("invalid shape: %q", tok)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = struct{}{}
	}
}

func TestRandomToken_ShortReader(t *testing.T) {
	t.Parallel()

	if _, err := randomToken(bytes.NewReader([]byte{1, 2}), tokenLength); err == nil {
		t.Fatalf("expected error from exhausted reader")
	}
}

func TestAcceptance_IllegalTransitionPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	a := Acceptance{State: StateLoading}
	_ = a.to(StateAccepted)
}

func equalTrace(got, want []AcceptState) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
