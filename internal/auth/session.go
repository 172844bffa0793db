/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/friendsincode/notincredibox/internal/models"
)

// ErrCancelled is returned by SignIn when the caller gave up before it completed.
var ErrCancelled = errors.New("sign-in cancelled")

// Authenticator checks credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
}

// Session tracks who is signed in on this client and notifies listeners on change.
type Session struct {
	auth Authenticator

	mu        sync.Mutex
	user      *models.User
	listeners map[int]func(*models.User)
	nextID    int
}

// NewSession creates a signed-out session.
func NewSession(auth Authenticator) *Session {
	return &Session{auth: auth, listeners: make(map[int]func(*models.User))}
}

// SignIn authenticates and makes the user current. A cancelled or expired ctx yields
// ErrCancelled and leaves the session unchanged.
func (s *Session) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	if ctx.Err() != nil {
		return nil, ErrCancelled
	}
	user, err := s.auth.Authenticate(ctx, email, password)
	if ctx.Err() != nil {
		return nil, ErrCancelled
	}
	if err != nil {
		return nil, err
	}

	s.set(user)
	return user, nil
}

// SignOut clears the current user. Signing out twice notifies once.
func (s *Session) SignOut() {
	s.set(nil)
}

// Current returns the signed-in user, or nil.
func (s *Session) Current() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// OnChange registers fn and calls it at once with the current user. The returned func
// unsubscribes.
func (s *Session) OnChange(fn func(*models.User)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	current := s.user
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) set(user *models.User) {
	s.mu.Lock()
	if s.user == nil && user == nil {
		s.mu.Unlock()
		return
	}
	s.user = user
	fns := make([]func(*models.User), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(user)
	}
}
