/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package beat keeps every active slot's loop phase-aligned to a shared boundary.
//
// Boundaries are multiples of the loop duration since the clock's reference instant.
// Any change to the active set cancels the pending trigger and waits for the next
// boundary, so a newly assigned sound never starts out of phase with the others.
package beat

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/notincredibox/internal/events"
	"github.com/friendsincode/notincredibox/internal/telemetry"
)

// DefaultLoopDuration is the canonical length shared by every loop asset.
const DefaultLoopDuration = 5 * time.Second

var (
	// ErrInvalidConfig indicates the scheduler was built without a required collaborator.
	ErrInvalidConfig = errors.New("invalid beat scheduler config")

	// ErrTimerUnavailable indicates the timer source refused to schedule a trigger.
	ErrTimerUnavailable = errors.New("timer unavailable")

	// ErrClosed is returned by operations on a closed scheduler.
	ErrClosed = errors.New("beat scheduler closed")

	// ErrInvalidAssignment indicates an empty slot id or sound reference.
	ErrInvalidAssignment = errors.New("invalid sound assignment")
)

// Phase is the scheduler's timer state.
type Phase int

const (
	// PhaseIdle means no timer and no active slots.
	PhaseIdle Phase = iota
	// PhaseWaiting means a one-shot trigger is pending for the next boundary.
	PhaseWaiting
	// PhaseRunning means the recurring tick is active.
	PhaseRunning
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWaiting:
		return "waiting_for_boundary"
	case PhaseRunning:
		return "running"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Config wires the scheduler's collaborators.
type Config struct {
	LoopDuration time.Duration
	Clock        Clock
	Timers       Timers
	Players      PlayerFactory
	Bus          *events.Bus
}

// SlotStatus reports one active slot for the UI indicator.
type SlotStatus struct {
	SlotID   string `json:"slot_id"`
	SoundRef string `json:"sound_ref"`
	Bound    string `json:"bound,omitempty"`
	Playing  bool   `json:"playing"`
}

// pending is the single outstanding trigger. gen identifies the scheduling epoch so a
// callback that lost a race with Stop can recognise itself as stale.
type pending struct {
	phase  Phase
	handle Timer
	gen    uint64
}

// binding caches a slot's player together with the sound it currently points at.
type binding struct {
	player Player
	bound  string
}

// Scheduler triggers all active slots together on loop boundaries.
type Scheduler struct {
	loop    time.Duration
	clock   Clock
	timers  Timers
	players PlayerFactory
	bus     *events.Bus
	logger  zerolog.Logger

	mu       sync.Mutex
	slots    map[string]string
	bindings map[string]*binding
	timer    pending
	gen      uint64
	ticks    uint64
	closed   bool
	lastErr  error
}

// New creates an idle scheduler.
func New(cfg Config, logger zerolog.Logger) (*Scheduler, error) {
	if cfg.LoopDuration <= 0 {
		return nil, fmt.Errorf("%w: loop duration must be positive, got %s", ErrInvalidConfig, cfg.LoopDuration)
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("%w: clock is required", ErrInvalidConfig)
	}
	if cfg.Timers == nil {
		return nil, fmt.Errorf("%w: timer source is required", ErrInvalidConfig)
	}
	if cfg.Players == nil {
		return nil, fmt.Errorf("%w: player factory is required", ErrInvalidConfig)
	}

	return &Scheduler{
		loop:     cfg.LoopDuration,
		clock:    cfg.Clock,
		timers:   cfg.Timers,
		players:  cfg.Players,
		bus:      cfg.Bus,
		logger:   logger.With().Str("component", "beat").Logger(),
		slots:    make(map[string]string),
		bindings: make(map[string]*binding),
	}, nil
}

// LoopDuration returns the boundary spacing.
func (s *Scheduler) LoopDuration() time.Duration {
	return s.loop
}

// Activate assigns soundRef to slotID and realigns playback to the next boundary.
// If the timer source fails the scheduler tears down to idle and the error is returned.
func (s *Scheduler) Activate(slotID, soundRef string) error {
	if slotID == "" || soundRef == "" {
		return ErrInvalidAssignment
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.slots[slotID] = soundRef
	telemetry.BeatActiveSlots.Set(float64(len(s.slots)))
	s.logger.Debug().Str("slot_id", slotID).Str("sound_ref", soundRef).Msg("slot activated")
	s.bus.Publish(events.EventSlotActivated, events.Payload{
		"slot_id":   slotID,
		"sound_ref": soundRef,
	})

	if err := s.resyncLocked(); err != nil {
		return s.failLocked("cannot schedule boundary trigger", err)
	}
	return nil
}

// Deactivate clears slotID and stops its playback at once. Clearing a slot that holds
// no sound leaves the schedule untouched.
func (s *Scheduler) Deactivate(slotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.slots[slotID]; !ok {
		return nil
	}

	delete(s.slots, slotID)
	telemetry.BeatActiveSlots.Set(float64(len(s.slots)))
	if b, ok := s.bindings[slotID]; ok {
		s.releaseLocked(slotID, b)
		delete(s.bindings, slotID)
	}

	s.logger.Debug().Str("slot_id", slotID).Msg("slot deactivated")
	s.bus.Publish(events.EventSlotDeactivated, events.Payload{"slot_id": slotID})

	if err := s.resyncLocked(); err != nil {
		return s.failLocked("cannot schedule boundary trigger", err)
	}
	return nil
}

// Reset clears every slot, cancels the trigger and releases all players.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

// Close resets the scheduler and rejects further activations.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.teardownLocked()
	s.closed = true
	s.logger.Info().Uint64("ticks", s.ticks).Msg("beat scheduler closed")
	return nil
}

// Phase reports the current timer state.
func (s *Scheduler) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer.phase
}

// Err returns the timer failure that last stopped playback, or nil once a new boundary
// has been scheduled.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Ticks returns how many boundary ticks have run.
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Status lists active slots ordered by slot id.
func (s *Scheduler) Status() []SlotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SlotStatus, 0, len(s.slots))
	for _, slotID := range s.activeSlotIDsLocked() {
		st := SlotStatus{SlotID: slotID, SoundRef: s.slots[slotID]}
		if b, ok := s.bindings[slotID]; ok {
			st.Bound = b.bound
			st.Playing = b.player.IsPlaying()
		}
		out = append(out, st)
	}
	return out
}

// resyncLocked replaces the outstanding trigger with one aimed at the next boundary.
func (s *Scheduler) resyncLocked() error {
	s.cancelLocked()

	if len(s.slots) == 0 {
		s.stopAllLocked()
		s.bus.Publish(events.EventSchedulerIdle, events.Payload{})
		return nil
	}

	delay := s.delayLocked()
	s.gen++
	gen := s.gen
	handle, err := s.timers.After(delay, func() { s.onBoundary(gen) })
	if err != nil {
		return err
	}
	s.timer = pending{phase: PhaseWaiting, handle: handle, gen: gen}
	s.lastErr = nil
	telemetry.BeatResyncsTotal.Inc()

	s.logger.Debug().
		Dur("delay", delay).
		Int("active_slots", len(s.slots)).
		Msg("waiting for next boundary")
	s.bus.Publish(events.EventSchedulerWaiting, events.Payload{
		"delay_ms":     delay.Milliseconds(),
		"active_slots": len(s.slots),
	})
	return nil
}

// delayLocked is the time remaining until the next boundary, in [0, loop).
func (s *Scheduler) delayLocked() time.Duration {
	rem := s.clock.Now() % s.loop
	if rem < 0 {
		rem += s.loop
	}
	if rem == 0 {
		return 0
	}
	return s.loop - rem
}

func (s *Scheduler) onBoundary(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer.gen != gen || s.timer.phase != PhaseWaiting {
		return
	}

	s.tickLocked()

	handle, err := s.timers.Every(s.loop, func() { s.onTick(gen) })
	if err != nil {
		_ = s.failLocked("cannot start recurring tick", err)
		return
	}
	s.timer = pending{phase: PhaseRunning, handle: handle, gen: gen}
}

func (s *Scheduler) onTick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer.gen != gen || s.timer.phase != PhaseRunning {
		return
	}
	s.tickLocked()
}

// tickLocked starts every active slot from position zero and silences stale players.
func (s *Scheduler) tickLocked() {
	s.ticks++
	started := 0

	for _, slotID := range s.activeSlotIDsLocked() {
		ref := s.slots[slotID]
		if err := s.startLocked(slotID, ref); err != nil {
			var perr *PlaybackError
			if !errors.As(err, &perr) {
				perr = &PlaybackError{SlotID: slotID, SoundRef: ref, Op: "start", Err: err}
			}
			telemetry.PlaybackFailuresTotal.WithLabelValues(perr.Op).Inc()
			s.logger.Warn().Err(perr).Str("slot_id", slotID).Msg("slot playback failed")
			s.bus.Publish(events.EventPlaybackFailed, events.Payload{
				"slot_id":   slotID,
				"sound_ref": ref,
				"error":     perr.Error(),
			})
			continue
		}
		started++
	}

	for slotID, b := range s.bindings {
		if _, ok := s.slots[slotID]; ok {
			continue
		}
		b.player.Pause()
		if err := b.player.Seek(0); err != nil {
			s.logger.Debug().Err(err).Str("slot_id", slotID).Msg("rewind inactive slot failed")
		}
	}

	telemetry.BeatTicksTotal.Inc()
	s.bus.Publish(events.EventBeatTick, events.Payload{
		"tick":    s.ticks,
		"at_ms":   s.clock.Now().Milliseconds(),
		"slots":   len(s.slots),
		"started": started,
	})
}

func (s *Scheduler) startLocked(slotID, ref string) error {
	b, ok := s.bindings[slotID]
	if !ok {
		player, err := s.players.NewPlayer(slotID)
		if err != nil {
			return &PlaybackError{SlotID: slotID, SoundRef: ref, Op: "create", Err: err}
		}
		b = &binding{player: player}
		s.bindings[slotID] = b
	}

	if b.bound != ref {
		b.player.Pause()
		if err := b.player.Bind(ref); err != nil {
			b.bound = ""
			return &PlaybackError{SlotID: slotID, SoundRef: ref, Op: "bind", Err: err}
		}
		b.bound = ref
	}

	if err := b.player.Seek(0); err != nil {
		return &PlaybackError{SlotID: slotID, SoundRef: ref, Op: "seek", Err: err}
	}
	if err := b.player.Play(); err != nil {
		return &PlaybackError{SlotID: slotID, SoundRef: ref, Op: "play", Err: err}
	}
	return nil
}

func (s *Scheduler) cancelLocked() {
	if s.timer.handle != nil {
		s.timer.handle.Stop()
	}
	s.timer = pending{}
}

// teardownLocked returns to idle from any state.
// failLocked stops all playback after a timer source failure and records why.
func (s *Scheduler) failLocked(msg string, err error) error {
	s.logger.Error().Err(err).Msg(msg + ", stopping all playback")
	s.teardownLocked()
	s.lastErr = fmt.Errorf("%w: %v", ErrTimerUnavailable, err)
	telemetry.BeatTimerFailuresTotal.Inc()
	s.bus.Publish(events.EventTimerFailed, events.Payload{"error": s.lastErr.Error()})
	return s.lastErr
}

func (s *Scheduler) teardownLocked() {
	s.cancelLocked()
	s.slots = make(map[string]string)
	telemetry.BeatActiveSlots.Set(0)
	s.stopAllLocked()
	s.bus.Publish(events.EventSchedulerIdle, events.Payload{})
}

func (s *Scheduler) stopAllLocked() {
	for slotID, b := range s.bindings {
		s.releaseLocked(slotID, b)
	}
	s.bindings = make(map[string]*binding)
}

func (s *Scheduler) releaseLocked(slotID string, b *binding) {
	b.player.Pause()
	if err := b.player.Seek(0); err != nil {
		s.logger.Debug().Err(err).Str("slot_id", slotID).Msg("rewind on release failed")
	}
	if err := b.player.Close(); err != nil {
		s.logger.Debug().Err(err).Str("slot_id", slotID).Msg("release player failed")
	}
}

func (s *Scheduler) activeSlotIDsLocked() []string {
	ids := make([]string, 0, len(s.slots))
	for id := range s.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
