/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/friendsincode/notincredibox/internal/models"
)

// MinPasswordLength is enforced at registration.
const MinPasswordLength = 8

var (
	// ErrInvalidCredentials is returned for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailTaken is returned when registering an email that already has an account.
	ErrEmailTaken = errors.New("email already registered")

	// ErrWeakPassword is returned for passwords shorter than MinPasswordLength.
	ErrWeakPassword = errors.New("password too short")

	// ErrInvalidEmail is returned for malformed addresses.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrTokenRevoked is returned by Verify for a signed-out token.
	ErrTokenRevoked = errors.New("token revoked")
)

// Provider owns accounts and the tokens that identify them.
type Provider struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	revoked map[string]time.Time // token id -> expiry
}

// NewProvider creates an identity provider backed by db.
func NewProvider(db *gorm.DB, secret []byte, ttl time.Duration, logger zerolog.Logger) *Provider {
	return &Provider{
		db:      db,
		secret:  secret,
		ttl:     ttl,
		logger:  logger.With().Str("component", "auth").Logger(),
		revoked: make(map[string]time.Time),
	}
}

// Register creates an account.
func (p *Provider) Register(ctx context.Context, email, password string) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: at least %d characters", ErrWeakPassword, MinPasswordLength)
	}

	var count int64
	if err := p.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		ID:       uuid.NewString(),
		Email:    email,
		Password: string(hash),
	}
	if err := p.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	p.logger.Info().Str("user_id", user.ID).Msg("user registered")
	return user, nil
}

// Authenticate checks email and password.
func (p *Provider) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	var user models.User
	err = p.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		p.logger.Debug().Str("user_id", user.ID).Msg("password mismatch")
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// IssueToken signs a bearer token for user.
func (p *Provider) IssueToken(user *models.User) (string, error) {
	return Issue(p.secret, Claims{UserID: user.ID, Email: user.Email}, p.ttl)
}

// Verify parses token and rejects revoked ones.
func (p *Provider) Verify(token string) (*Claims, error) {
	claims, err := Parse(p.secret, token)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.revoked[claims.ID]; ok {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Revoke signs out the token described by claims until it would have expired anyway.
func (p *Provider) Revoke(claims *Claims) {
	if claims == nil || claims.ID == "" {
		return
	}
	expiry := time.Now().Add(p.ttl)
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for id, exp := range p.revoked {
		if now.After(exp) {
			delete(p.revoked, id)
		}
	}
	p.revoked[claims.ID] = expiry
	p.logger.Debug().Str("user_id", claims.UserID).Msg("token revoked")
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return email, nil
}
