/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/notincredibox/internal/auth"
	"github.com/friendsincode/notincredibox/internal/beat"
	"github.com/friendsincode/notincredibox/internal/combinations"
	"github.com/friendsincode/notincredibox/internal/events"
	"github.com/friendsincode/notincredibox/internal/mixer"
	"github.com/friendsincode/notincredibox/internal/sounds"
	"github.com/friendsincode/notincredibox/internal/storage"
	"github.com/friendsincode/notincredibox/internal/version"
)

// BeatStatus is the read-only view of the scheduler the API reports.
type BeatStatus interface {
	Phase() beat.Phase
	Ticks() uint64
	LoopDuration() time.Duration
}

// Config wires the API to its services.
type Config struct {
	DB           *gorm.DB
	Catalog      *sounds.Catalog
	Mixer        *mixer.Mixer
	Beat         BeatStatus
	Combinations *combinations.Service
	Identity     *auth.Provider
	Loops        storage.LoopStore
	Bus          *events.Bus
}

// API exposes HTTP handlers.
type API struct {
	db           *gorm.DB
	catalog      *sounds.Catalog
	mixer        *mixer.Mixer
	beat         BeatStatus
	combinations *combinations.Service
	identity     *auth.Provider
	loops        storage.LoopStore
	bus          *events.Bus
	logger       zerolog.Logger
}

// New creates the API router wrapper.
func New(cfg Config, logger zerolog.Logger) *API {
	return &API{
		db:           cfg.DB,
		catalog:      cfg.Catalog,
		mixer:        cfg.Mixer,
		beat:         cfg.Beat,
		combinations: cfg.Combinations,
		identity:     cfg.Identity,
		loops:        cfg.Loops,
		bus:          cfg.Bus,
		logger:       logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers every endpoint on r.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/sounds", a.handleSoundsList)

		r.Route("/mixer", func(r chi.Router) {
			r.Get("/", a.handleMixerGet)
			r.Put("/slots/{slotID}", a.handleSlotAssign)
			r.Delete("/slots/{slotID}", a.handleSlotClear)
			r.Post("/reset", a.handleMixerReset)
		})

		r.With(auth.Optional(a.identity)).Get("/events", a.handleEvents)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", a.handleRegister)
			r.Post("/signin", a.handleSignIn)
			r.With(auth.Middleware(a.identity)).Post("/signout", a.handleSignOut)
			r.With(auth.Middleware(a.identity)).Get("/me", a.handleMe)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.identity))

			pr.Route("/combinations", func(r chi.Router) {
				r.Get("/", a.handleCombinationsList)
				r.Post("/", a.handleCombinationsSave)
				r.Delete("/{combinationID}", a.handleCombinationsDelete)
				r.Post("/{combinationID}/load", a.handleCombinationsLoad)
			})
		})
	})

	r.Get("/loops/*", a.handleLoop)
}

// ComponentStatus represents the status of a single system component.
type ComponentStatus struct {
	Status  string `json:"status"` // "ok", "error", "disabled"
	Message string `json:"message,omitempty"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := http.StatusOK
	components := map[string]ComponentStatus{}

	if a.db != nil {
		sqlDB, err := a.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			status = http.StatusServiceUnavailable
			components["database"] = ComponentStatus{Status: "error", Message: err.Error()}
		} else {
			components["database"] = ComponentStatus{Status: "ok"}
		}
	}

	if a.loops != nil {
		if err := a.loops.CheckAccess(ctx); err != nil {
			status = http.StatusServiceUnavailable
			components["storage"] = ComponentStatus{Status: "error", Message: err.Error()}
		} else {
			components["storage"] = ComponentStatus{Status: "ok"}
		}
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":     overall,
		"version":    version.Current(),
		"components": components,
		"timestamp":  time.Now().UTC(),
	})
}

func (a *API) handleSoundsList(w http.ResponseWriter, r *http.Request) {
	list := a.catalog.List()
	if cat := r.URL.Query().Get("category"); cat != "" {
		list = a.catalog.ByCategory(sounds.Category(cat))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": a.catalog.Categories(),
		"sounds":     list,
	})
}

// errorResponse maps service errors onto HTTP statuses and stable error codes.
func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, combinations.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, combinations.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, combinations.ErrUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, combinations.ErrInvalid):
		return http.StatusBadRequest, "invalid_combination"
	case errors.Is(err, mixer.ErrUnknownSlot):
		return http.StatusNotFound, "slot_not_found"
	case errors.Is(err, mixer.ErrTooManySounds):
		return http.StatusBadRequest, "too_many_sounds"
	case errors.Is(err, sounds.ErrUnknownSound):
		return http.StatusBadRequest, "unknown_sound"
	case errors.Is(err, beat.ErrInvalidAssignment):
		return http.StatusBadRequest, "invalid_assignment"
	case errors.Is(err, beat.ErrTimerUnavailable):
		return http.StatusServiceUnavailable, "timer_unavailable"
	case errors.Is(err, beat.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusServiceUnavailable, "asset_unavailable"
	case errors.Is(err, errUnknownAction):
		return http.StatusBadRequest, "unknown_action"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorResponse(err)
	ev := a.logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = a.logger.Error()
	}
	ev.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	writeError(w, status, code)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
