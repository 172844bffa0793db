/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mixer maps catalog sounds onto character slots and drives the beat scheduler.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/notincredibox/internal/beat"
	"github.com/friendsincode/notincredibox/internal/events"
	"github.com/friendsincode/notincredibox/internal/models"
	"github.com/friendsincode/notincredibox/internal/sounds"
)

// Character image variants. A character with a sound shows its second pose.
const (
	ImageIdle     = 1
	ImageAssigned = 2
)

var (
	// ErrUnknownSlot is returned for a slot id the mixer does not have.
	ErrUnknownSlot = errors.New("unknown slot")

	// ErrTooManySounds is returned when a combination does not fit the slots.
	ErrTooManySounds = errors.New("combination has more sounds than slots")
)

// Scheduler is the part of the beat scheduler the mixer drives.
type Scheduler interface {
	Activate(slotID, soundRef string) error
	Deactivate(slotID string) error
	Reset()
	Status() []beat.SlotStatus
}

// Warmer prepares a loop asset ahead of its first boundary.
type Warmer interface {
	Warm(ctx context.Context, ref string) error
}

// Config wires the mixer.
type Config struct {
	SlotIDs   []string
	Catalog   *sounds.Catalog
	Scheduler Scheduler
	Warmer    Warmer      // optional
	Bus       *events.Bus // optional
}

// SlotState is one character as the UI renders it.
type SlotState struct {
	SlotID   string        `json:"slot_id"`
	Position int           `json:"position"`
	Sound    *sounds.Sound `json:"sound,omitempty"`
	Active   bool          `json:"is_active"`
	Playing  bool          `json:"is_playing"`
	Image    int           `json:"image"`
}

// Mixer owns the slot assignments.
type Mixer struct {
	slotIDs   []string
	positions map[string]int
	catalog   *sounds.Catalog
	scheduler Scheduler
	warmer    Warmer
	bus       *events.Bus
	logger    zerolog.Logger

	mu       sync.Mutex
	assigned map[string]string // slot id -> sound id
}

// New creates a mixer with every slot empty.
func New(cfg Config, logger zerolog.Logger) (*Mixer, error) {
	if len(cfg.SlotIDs) == 0 {
		return nil, errors.New("mixer needs at least one slot")
	}
	if cfg.Catalog == nil || cfg.Scheduler == nil {
		return nil, errors.New("mixer needs a catalog and a scheduler")
	}

	positions := make(map[string]int, len(cfg.SlotIDs))
	for i, id := range cfg.SlotIDs {
		if _, dup := positions[id]; dup {
			return nil, fmt.Errorf("duplicate slot id %q", id)
		}
		positions[id] = i + 1
	}

	return &Mixer{
		slotIDs:   append([]string(nil), cfg.SlotIDs...),
		positions: positions,
		catalog:   cfg.Catalog,
		scheduler: cfg.Scheduler,
		warmer:    cfg.Warmer,
		bus:       cfg.Bus,
		logger:    logger.With().Str("component", "mixer").Logger(),
		assigned:  make(map[string]string),
	}, nil
}

// SlotCount returns how many characters the mixer has.
func (m *Mixer) SlotCount() int {
	return len(m.slotIDs)
}

// Assign drops soundID onto slotID. The sound joins the others on the next boundary.
func (m *Mixer) Assign(ctx context.Context, slotID, soundID string) error {
	if _, ok := m.positions[slotID]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSlot, slotID)
	}
	sound, err := m.catalog.Get(soundID)
	if err != nil {
		return err
	}
	if err := m.warm(ctx, sound); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	return m.assignLocked(slotID, sound)
}

// Clear removes whatever sound slotID holds.
func (m *Mixer) Clear(slotID string) error {
	if _, ok := m.positions[slotID]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSlot, slotID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()

	if err := m.scheduler.Deactivate(slotID); err != nil {
		return err
	}
	if _, ok := m.assigned[slotID]; ok {
		delete(m.assigned, slotID)
		m.logger.Info().Str("slot_id", slotID).Msg("slot cleared")
	}
	return nil
}

// Reset empties every slot and stops playback.
func (m *Mixer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	m.bus.Publish(events.EventMixerReset, events.Payload{})
}

// Apply replaces the current mix with c, filling slots in order.
func (m *Mixer) Apply(ctx context.Context, c models.Combination) error {
	if len(c.Sounds) > len(m.slotIDs) {
		return fmt.Errorf("%w: %d sounds, %d slots", ErrTooManySounds, len(c.Sounds), len(m.slotIDs))
	}
	resolved := make([]sounds.Sound, 0, len(c.Sounds))
	for _, id := range c.Sounds {
		sound, err := m.catalog.Get(id)
		if err != nil {
			return err
		}
		if err := m.warm(ctx, sound); err != nil {
			return err
		}
		resolved = append(resolved, sound)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetLocked()
	for i, sound := range resolved {
		if err := m.assignLocked(m.slotIDs[i], sound); err != nil {
			return err
		}
	}

	m.logger.Info().Str("combination_id", c.ID).Int("sounds", len(resolved)).Msg("combination applied")
	m.bus.Publish(events.EventCombinationLoaded, events.Payload{
		"combination_id": c.ID,
		"name":           c.Name,
		"sounds":         append([]string(nil), c.Sounds...),
	})
	return nil
}

// Snapshot captures the current assignments as an unsaved combination.
func (m *Mixer) Snapshot(name string) models.Combination {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.liveLocked()
	ids := make([]string, 0, len(m.assigned))
	for _, slotID := range m.slotIDs {
		if _, ok := live[slotID]; !ok {
			continue
		}
		if soundID, ok := m.assigned[slotID]; ok {
			ids = append(ids, soundID)
		}
	}
	return models.Combination{Name: strings.TrimSpace(name), Sounds: ids}
}

// Slots reports every character in position order.
func (m *Mixer) Slots() []SlotState {
	m.mu.Lock()
	defer m.mu.Unlock()

	playing := m.liveLocked()

	out := make([]SlotState, 0, len(m.slotIDs))
	for i, slotID := range m.slotIDs {
		st := SlotState{SlotID: slotID, Position: i + 1, Image: ImageIdle}
		soundID, ok := m.assigned[slotID]
		if _, live := playing[slotID]; ok && live {
			if sound, err := m.catalog.Get(soundID); err == nil {
				st.Sound = &sound
			}
			st.Active = true
			st.Playing = playing[slotID]
			st.Image = ImageAssigned
		}
		out = append(out, st)
	}
	return out
}

func (m *Mixer) assignLocked(slotID string, sound sounds.Sound) error {
	if err := m.scheduler.Activate(slotID, sound.Audio); err != nil {
		// the scheduler stops everything when it cannot keep time
		if errors.Is(err, beat.ErrTimerUnavailable) {
			m.assigned = make(map[string]string)
		}
		return err
	}
	m.assigned[slotID] = sound.ID
	m.logger.Info().Str("slot_id", slotID).Str("sound_id", sound.ID).Msg("sound assigned")
	return nil
}

// liveLocked maps the slots the scheduler still holds to whether they are playing.
// A failed recurring timer empties the scheduler without going through the mixer.
func (m *Mixer) liveLocked() map[string]bool {
	live := make(map[string]bool)
	for _, st := range m.scheduler.Status() {
		live[st.SlotID] = st.Playing
	}
	return live
}

// pruneLocked forgets assignments the scheduler no longer holds.
func (m *Mixer) pruneLocked() {
	live := m.liveLocked()
	for slotID := range m.assigned {
		if _, ok := live[slotID]; !ok {
			delete(m.assigned, slotID)
			m.logger.Debug().Str("slot_id", slotID).Msg("dropping assignment the scheduler no longer holds")
		}
	}
}

func (m *Mixer) resetLocked() {
	m.scheduler.Reset()
	m.assigned = make(map[string]string)
}

func (m *Mixer) warm(ctx context.Context, sound sounds.Sound) error {
	if m.warmer == nil {
		return nil
	}
	if err := m.warmer.Warm(ctx, sound.Audio); err != nil {
		return fmt.Errorf("prepare %s: %w", sound.ID, err)
	}
	return nil
}
