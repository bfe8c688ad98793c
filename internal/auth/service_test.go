package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/zenith-chat/zenith/internal/db"
)

func newTestService(t *testing.T, name string) *Service {
	t.Helper()
	d, err := db.New("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return New(d)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	s := newTestService(t, "authflow")
	ctx := context.Background()

	userID, err := s.Register(ctx, "alice", "pw123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if userID == 0 {
		t.Fatal("expected nonzero user id")
	}

	got, err := s.Authenticate(ctx, "alice", "pw123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got != userID {
		t.Fatalf("authenticated as %d, registered as %d", got, userID)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	s := newTestService(t, "authdup")
	ctx := context.Background()

	if _, err := s.Register(ctx, "alice", "pw123"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.Register(ctx, "alice", "other"); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}

	// Original credentials still authenticate.
	if _, err := s.Authenticate(ctx, "alice", "pw123"); err != nil {
		t.Fatalf("authenticate after duplicate: %v", err)
	}
}

func TestAuthenticate_Invalid(t *testing.T) {
	s := newTestService(t, "authbad")
	ctx := context.Background()

	if _, err := s.Register(ctx, "alice", "pw123"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := s.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.Authenticate(ctx, "nobody", "pw123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
}
