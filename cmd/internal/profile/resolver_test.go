package profile

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

// scriptedStore fails or misses Get a fixed number of times before delegating.
type scriptedStore struct {
	mu        sync.Mutex
	inner     *MemoryStore
	getErrs   []error
	insertErr error
	inserts   int
}

func (s *scriptedStore) Get(ctx context.Context, id string) (Profile, error) {
	s.mu.Lock()
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		s.mu.Unlock()
		return Profile{}, err
	}
	s.mu.Unlock()
	return s.inner.Get(ctx, id)
}

func (s *scriptedStore) Insert(ctx context.Context, p Profile) (Profile, error) {
	s.mu.Lock()
	s.inserts++
	err := s.insertErr
	s.mu.Unlock()
	if err != nil {
		return Profile{}, err
	}
	return s.inner.Insert(ctx, p)
}

func (s *scriptedStore) List(ctx context.Context) ([]Profile, error) { return s.inner.List(ctx) }

func strPtr(s string) *string { return &s }

func fixedClock() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestResolver_PrimaryHit(t *testing.T) {
	t.Parallel()

	mem := NewMemoryStore()
	if _, err := mem.Insert(context.Background(), Profile{ID: "u1", FullName: strPtr("Root"), Role: RoleAdmin}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res := NewResolver(mem, nil).Resolve(context.Background(), Subject{UserID: "u1", Email: "root@x.com"})
	if res.State != StateReady || res.Profile == nil {
		t.Fatalf("expected ready profile, got %+v", res)
	}
	if !res.Profile.IsAdmin() {
		t.Fatalf("expected admin role")
	}
	if want := []State{StateUnresolved, StateReady}; !reflect.DeepEqual(res.Trace, want) {
		t.Fatalf("trace: got %v want %v", res.Trace, want)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}
}

func TestResolver_FallbackHitAfterPrimaryError(t *testing.T) {
	t.Parallel()

	st := &scriptedStore{inner: NewMemoryStore(), getErrs: []error{errors.New("network down")}}
	if _, err := st.inner.Insert(context.Background(), Profile{ID: "u1", Role: RoleGuest}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res := NewResolver(st, nil).Resolve(context.Background(), Subject{UserID: "u1"})
	if res.State != StateReady || res.Profile == nil {
		t.Fatalf("expected ready, got %+v", res)
	}
	if want := []State{StateUnresolved, StateMissing, StateReady}; !reflect.DeepEqual(res.Trace, want) {
		t.Fatalf("trace: got %v want %v", res.Trace, want)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Step != "lookup" {
		t.Fatalf("expected one lookup warning, got %v", res.Warnings)
	}
	if st.inserts != 0 {
		t.Fatalf("fallback hit must not provision")
	}
}

func TestResolver_ProvisionsDefaultGuest(t *testing.T) {
	t.Parallel()

	mem := NewMemoryStore()
	r := NewResolver(mem, nil, WithClock(fixedClock))

	res := r.Resolve(context.Background(), Subject{UserID: "u2", Email: "ana@x.com"})
	if res.State != StateReady || res.Profile == nil {
		t.Fatalf("expected ready, got %+v", res)
	}
	if want := []State{StateUnresolved, StateMissing, StateProvisioning, StateReady}; !reflect.DeepEqual(res.Trace, want) {
		t.Fatalf("trace: got %v want %v", res.Trace, want)
	}
	if res.Profile.Role != RoleGuest {
		t.Fatalf("role: got %q want guest", res.Profile.Role)
	}
	if res.Profile.FullName == nil || *res.Profile.FullName != "ana" {
		t.Fatalf("full name: got %v want ana", res.Profile.FullName)
	}
	if !res.Profile.CreatedAt.Equal(fixedClock()) {
		t.Fatalf("created_at: got %v", res.Profile.CreatedAt)
	}
	if res.Profile.IsAdmin() {
		t.Fatalf("provisioned profile must never be admin")
	}
}

func TestResolver_ProvisionFailureIsWarning(t *testing.T) {
	t.Parallel()

	st := &scriptedStore{inner: NewMemoryStore(), insertErr: errors.New("permission denied")}

	res := NewResolver(st, nil).Resolve(context.Background(), Subject{UserID: "u3", Email: "x@y.z"})
	if res.Profile != nil {
		t.Fatalf("expected no profile, got %+v", res.Profile)
	}
	if res.State != StateMissing {
		t.Fatalf("state: got %s want %s", res.State, StateMissing)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Step != "provision" {
		t.Fatalf("expected provision warning, got %v", res.Warnings)
	}
}

func TestResolver_ConcurrentProvisionConflictIsReread(t *testing.T) {
	t.Parallel()

	st := &scriptedStore{inner: NewMemoryStore(), insertErr: ErrConflict}
	// Another writer created the row between our fallback lookup and insert.
	st.getErrs = []error{ErrNotFound, ErrNotFound}
	if _, err := st.inner.Insert(context.Background(), Profile{ID: "u4", Role: RoleGuest}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res := NewResolver(st, nil).Resolve(context.Background(), Subject{UserID: "u4"})
	if res.State != StateReady || res.Profile == nil {
		t.Fatalf("expected ready after conflict, got %+v", res)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("conflict must not warn: %v", res.Warnings)
	}
}

func TestResolver_NoUser(t *testing.T) {
	t.Parallel()

	res := NewResolver(NewMemoryStore(), nil).Resolve(context.Background(), Subject{})
	if res.Profile != nil || res.State != StateUnresolved {
		t.Fatalf("expected unresolved without profile, got %+v", res)
	}
}

func TestDefaultName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sub  Subject
		want string
	}{
		{"metadata", Subject{FullName: strPtr("  Ana  "), Email: "a@x.com"}, "Ana"},
		{"blank_metadata_uses_email", Subject{FullName: strPtr("  "), Email: "bob@x.com"}, "bob"},
		{"email_local_part", Subject{Email: "carol.d@x.com"}, "carol.d"},
		{"no_local_part", Subject{Email: "@x.com"}, DefaultDisplayName},
		{"nothing", Subject{}, DefaultDisplayName},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := DefaultName(tc.sub); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestIsAdmin_FailClosed(t *testing.T) {
	t.Parallel()

	var none *Profile
	guest := &Profile{Role: RoleGuest}
	admin := &Profile{Role: RoleAdmin}

	if none.IsAdmin() {
		t.Fatalf("nil profile must not be admin")
	}
	if guest.IsAdmin() {
		t.Fatalf("guest must not be admin")
	}
	if !admin.IsAdmin() {
		t.Fatalf("admin must be admin")
	}
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := NewMemoryStore()
	base := fixedClock()
	for i, id := range []string{"a", "b", "c"} {
		if _, err := mem.Insert(ctx, Profile{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if _, err := mem.Insert(ctx, Profile{ID: "a"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate insert: got %v want ErrConflict", err)
	}

	list, err := mem.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	if want := []string{"c", "b", "a"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("order: got %v want %v", ids, want)
	}
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	if r, err := ParseRole(" Admin "); err != nil || r != RoleAdmin {
		t.Fatalf("ParseRole(Admin): %v %v", r, err)
	}
	if _, err := ParseRole("owner"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ParseRole(owner): expected ErrInvalidInput, got %v", err)
	}
}
