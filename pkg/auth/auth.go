package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KrishKoria/HarmonAI/pkg/storage"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrEmailTaken      = errors.New("email already registered")
)

const sessionTTL = 7 * 24 * time.Hour

// Session identifies an authenticated caller.
type Session struct {
	Token  string
	UserID string
}

// Service resolves and manages sessions backed by the storage engine.
type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

// SignUp registers a user and opens a session.
func (s *Service) SignUp(ctx context.Context, email, name, password string) (*Session, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("auth: email and password are required")
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: couldn't hash password: %w", err)
	}
	user := &storage.User{
		ID:           ulid.Make().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
	}
	if err := s.store.SetUser(ctx, user); err != nil {
		return nil, err
	}
	return s.openSession(ctx, user.ID)
}

// SignIn verifies the password and opens a session. Wrong email and wrong
// password are reported identically.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrUnauthenticated
	}
	return s.openSession(ctx, user.ID)
}

func (s *Service) SignOut(ctx context.Context, token string) error {
	return s.store.DeleteSession(ctx, token)
}

// Resolve maps a session token to its session. Expired sessions are deleted
// and reported as ErrUnauthenticated.
func (s *Service) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	session, err := s.store.GetSession(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(session.ExpiresAt) {
		if err := s.store.DeleteSession(ctx, token); err != nil {
			return nil, err
		}
		return nil, ErrUnauthenticated
	}
	return &Session{Token: session.ID, UserID: session.UserID}, nil
}

func (s *Service) openSession(ctx context.Context, userID string) (*Session, error) {
	session := &storage.Session{
		ID:        ulid.Make().String(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(sessionTTL),
	}
	if err := s.store.SetSession(ctx, session); err != nil {
		return nil, err
	}
	return &Session{Token: session.ID, UserID: session.UserID}, nil
}
