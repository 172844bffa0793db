/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package combinations stores each user's saved sound combinations.
package combinations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/friendsincode/notincredibox/internal/cache"
	"github.com/friendsincode/notincredibox/internal/events"
	"github.com/friendsincode/notincredibox/internal/models"
	"github.com/friendsincode/notincredibox/internal/sounds"
	"github.com/friendsincode/notincredibox/internal/telemetry"
)

// MaxNameLength bounds combination names.
const MaxNameLength = 120

var (
	// ErrUnauthenticated is returned when no user is signed in.
	ErrUnauthenticated = errors.New("not signed in")

	// ErrNotFound is returned when the combination does not exist for the user.
	ErrNotFound = errors.New("combination not found")

	// ErrUnavailable wraps storage failures.
	ErrUnavailable = errors.New("combination store unavailable")

	// ErrInvalid is returned for a combination that fails validation.
	ErrInvalid = errors.New("invalid combination")
)

// Combination is a saved set of sound ids in slot order.
type Combination = models.Combination

// Config wires the service.
type Config struct {
	DB      *gorm.DB
	Cache   *cache.Cache // optional
	Catalog *sounds.Catalog
	Bus     *events.Bus // optional
	// MaxSounds is the number of slots a combination may fill.
	MaxSounds int
}

// Service is the persistence collaborator for saved combinations.
type Service struct {
	db        *gorm.DB
	cache     *cache.Cache
	catalog   *sounds.Catalog
	bus       *events.Bus
	maxSounds int
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates a combination service.
func NewService(cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		db:        cfg.DB,
		cache:     cfg.Cache,
		catalog:   cfg.Catalog,
		bus:       cfg.Bus,
		maxSounds: cfg.MaxSounds,
		logger:    logger.With().Str("component", "combinations").Logger(),
		now:       time.Now,
	}
}

// Save stores c for userID under a fresh id and returns it.
func (s *Service) Save(ctx context.Context, userID string, c Combination) (id string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "combinations.save", "user_id", userID)
	defer func() { s.finish("save", span, err) }()

	if userID == "" {
		return "", ErrUnauthenticated
	}
	name, err := s.validate(c)
	if err != nil {
		return "", err
	}

	record := models.Combination{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Sounds:    append([]string(nil), c.Sounds...),
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("%w: save: %v", ErrUnavailable, err)
	}
	s.invalidate(ctx, userID)

	s.logger.Info().Str("user_id", userID).Str("combination_id", record.ID).Int("sounds", len(record.Sounds)).Msg("combination saved")
	s.bus.Publish(events.EventCombinationSaved, events.Payload{
		"user_id":        userID,
		"combination_id": record.ID,
		"name":           record.Name,
	})
	return record.ID, nil
}

// List returns userID's combinations, newest first.
func (s *Service) List(ctx context.Context, userID string) (list []Combination, err error) {
	ctx, span := telemetry.StartSpan(ctx, "combinations.list", "user_id", userID)
	defer func() { s.finish("list", span, err) }()

	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if cached, ok := s.cache.GetCombinations(ctx, userID); ok {
		return cached, nil
	}

	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrUnavailable, err)
	}
	if list == nil {
		list = []Combination{}
	}

	if err := s.cache.SetCombinations(ctx, userID, list); err != nil {
		s.logger.Debug().Err(err).Msg("cache combination list failed")
	}
	return list, nil
}

// Get returns one of userID's combinations.
func (s *Service) Get(ctx context.Context, userID, id string) (c Combination, err error) {
	ctx, span := telemetry.StartSpan(ctx, "combinations.get", "user_id", userID, "combination_id", id)
	defer func() { s.finish("get", span, err) }()

	if userID == "" {
		return Combination{}, ErrUnauthenticated
	}
	err = s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Combination{}, ErrNotFound
	}
	if err != nil {
		return Combination{}, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}
	return c, nil
}

// Delete removes one of userID's combinations. Another user's id is reported as not found.
func (s *Service) Delete(ctx context.Context, userID, id string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "combinations.delete", "user_id", userID, "combination_id", id)
	defer func() { s.finish("delete", span, err) }()

	if userID == "" {
		return ErrUnauthenticated
	}
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Combination{})
	if res.Error != nil {
		return fmt.Errorf("%w: delete: %v", ErrUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.invalidate(ctx, userID)

	s.logger.Info().Str("user_id", userID).Str("combination_id", id).Msg("combination deleted")
	s.bus.Publish(events.EventCombinationDelete, events.Payload{
		"user_id":        userID,
		"combination_id": id,
	})
	return nil
}

func (s *Service) validate(c Combination) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if len([]rune(name)) > MaxNameLength {
		return "", fmt.Errorf("%w: name longer than %d characters", ErrInvalid, MaxNameLength)
	}
	if len(c.Sounds) == 0 {
		return "", fmt.Errorf("%w: at least one sound is required", ErrInvalid)
	}
	if s.maxSounds > 0 && len(c.Sounds) > s.maxSounds {
		return "", fmt.Errorf("%w: %d sounds exceed %d slots", ErrInvalid, len(c.Sounds), s.maxSounds)
	}
	if s.catalog != nil {
		for _, id := range c.Sounds {
			if _, err := s.catalog.Get(id); err != nil {
				return "", fmt.Errorf("%w: %v", ErrInvalid, err)
			}
		}
	}
	return name, nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if err := s.cache.InvalidateCombinations(ctx, userID); err != nil {
		s.logger.Debug().Err(err).Str("user_id", userID).Msg("invalidate combination cache failed")
	}
}

// finish records the outcome of op on its span and in the operation counter.
func (s *Service) finish(op string, span trace.Span, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrInvalid):
		result = "invalid"
	case errors.Is(err, ErrUnauthenticated):
		result = "unauthenticated"
	default:
		result = "error"
		s.logger.Error().Err(err).Str("op", op).Msg("combination store failure")
	}
	telemetry.CombinationOpsTotal.WithLabelValues(op, result).Inc()

	// expected outcomes are not span errors
	if result == "error" {
		telemetry.EndSpan(span, err)
		return
	}
	telemetry.EndSpan(span, nil)
}
