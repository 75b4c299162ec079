package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/KrishKoria/HarmonAI/pkg/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)"
	store, err := storage.New("sqlite", dsn, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestSignUpAndSignIn(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := New(store)

	session, err := svc.SignUp(ctx, "ada@example.com", "Ada", "hunter2!")
	if err != nil {
		t.Fatal(err)
	}
	if session.Token == "" || session.UserID == "" {
		t.Fatalf("session = %+v", session)
	}

	if _, err := svc.SignUp(ctx, "ada@example.com", "Ada", "hunter2!"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate sign up err = %v, want %v", err, ErrEmailTaken)
	}

	got, err := svc.SignIn(ctx, "ada@example.com", "hunter2!")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != session.UserID {
		t.Errorf("user id = %q, want %q", got.UserID, session.UserID)
	}

	if _, err := svc.SignIn(ctx, "ada@example.com", "wrong"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("wrong password err = %v, want %v", err, ErrUnauthenticated)
	}
	if _, err := svc.SignIn(ctx, "nobody@example.com", "hunter2!"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("unknown email err = %v, want %v", err, ErrUnauthenticated)
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := New(store)

	session, err := svc.SignUp(ctx, "ada@example.com", "Ada", "hunter2!")
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.Resolve(ctx, session.Token)
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != session.UserID {
		t.Errorf("user id = %q, want %q", got.UserID, session.UserID)
	}

	if _, err := svc.Resolve(ctx, ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("empty token err = %v, want %v", err, ErrUnauthenticated)
	}
	if _, err := svc.Resolve(ctx, "bogus"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("bogus token err = %v, want %v", err, ErrUnauthenticated)
	}

	if err := svc.SignOut(ctx, session.Token); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Resolve(ctx, session.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("signed out token err = %v, want %v", err, ErrUnauthenticated)
	}
}

func TestResolveExpired(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := New(store)

	session, err := svc.SignUp(ctx, "ada@example.com", "Ada", "hunter2!")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetSession(ctx, &storage.Session{
		ID:        session.Token,
		UserID:    session.UserID,
		ExpiresAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Resolve(ctx, session.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expired token err = %v, want %v", err, ErrUnauthenticated)
	}
}
