/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/notincredibox/internal/models"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewProvider(db, []byte("test-secret"), time.Hour, zerolog.Nop())
}

func TestRegisterAuthenticateAndTokens(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	user, err := p.Register(ctx, "  Mixer@Example.com ", "correct horse")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "mixer@example.com" {
		t.Fatalf("expected normalised email, got %q", user.Email)
	}
	if user.Password == "correct horse" {
		t.Fatal("password stored in plaintext")
	}

	if _, err := p.Register(ctx, "mixer@example.com", "another pass"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	got, err := p.Authenticate(ctx, "MIXER@example.com", "correct horse")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("authenticated wrong user %q", got.ID)
	}

	if _, err := p.Authenticate(ctx, "mixer@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, err := p.Authenticate(ctx, "nobody@example.com", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}

	token, err := p.IssueToken(got)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := p.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != user.ID {
		t.Fatalf("unexpected subject %q", claims.UserID)
	}

	p.Revoke(claims)
	if _, err := p.Verify(token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked after sign-out, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	if _, err := p.Register(ctx, "not-an-email", "longenough"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := p.Register(ctx, "Name <a@example.com>", "longenough"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected display-name form rejected, got %v", err)
	}
	if _, err := p.Register(ctx, "a@example.com", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

type stubAuthenticator struct {
	user  *models.User
	err   error
	block chan struct{}
}

func (s *stubAuthenticator) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
		}
	}
	return s.user, s.err
}

func TestSessionSignInOutNotifies(t *testing.T) {
	alice := &models.User{ID: "u1", Email: "alice@example.com"}
	s := NewSession(&stubAuthenticator{user: alice})

	var mu sync.Mutex
	var seen []string
	unsubscribe := s.OnChange(func(u *models.User) {
		mu.Lock()
		defer mu.Unlock()
		if u == nil {
			seen = append(seen, "out")
			return
		}
		seen = append(seen, u.ID)
	})

	if _, err := s.SignIn(context.Background(), "alice@example.com", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if s.Current() != alice {
		t.Fatal("expected alice to be current")
	}
	s.SignOut()
	s.SignOut()

	unsubscribe()
	unsubscribe()
	_, _ = s.SignIn(context.Background(), "alice@example.com", "pw")

	mu.Lock()
	defer mu.Unlock()
	want := []string{"out", "u1", "out"}
	if len(seen) != len(want) {
		t.Fatalf("expected notifications %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected notifications %v, got %v", want, seen)
		}
	}
}

func TestSessionSignInCancelled(t *testing.T) {
	s := NewSession(&stubAuthenticator{user: &models.User{ID: "u1"}, block: make(chan struct{})})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := s.SignIn(ctx, "a@example.com", "pw"); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if s.Current() != nil {
		t.Fatal("cancelled sign-in must not change the session")
	}
}

func TestSessionSignInFailure(t *testing.T) {
	s := NewSession(&stubAuthenticator{err: ErrInvalidCredentials})
	if _, err := s.SignIn(context.Background(), "a@example.com", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if s.Current() != nil {
		t.Fatal("failed sign-in must not change the session")
	}
}
