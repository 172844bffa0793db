/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback provides slot players for the beat scheduler.
package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/notincredibox/internal/beat"
)

// ErrNotBound is returned by Play before any Bind succeeded.
var ErrNotBound = errors.New("no loop bound")

// Null is a silent player factory for hosts without an audio device. Its players keep
// the same state a real player would so the UI indicator still works.
type Null struct {
	logger zerolog.Logger
}

// NewNull creates a silent player factory.
func NewNull(logger zerolog.Logger) *Null {
	return &Null{logger: logger.With().Str("component", "playback").Str("backend", "null").Logger()}
}

// NewPlayer implements beat.PlayerFactory.
func (n *Null) NewPlayer(slotID string) (beat.Player, error) {
	return &nullPlayer{slotID: slotID, logger: n.logger}, nil
}

type nullPlayer struct {
	slotID string
	logger zerolog.Logger

	mu       sync.Mutex
	bound    string
	position time.Duration
	playing  bool
}

func (p *nullPlayer) Bind(ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bound = ref
	p.position = 0
	p.playing = false
	return nil
}

func (p *nullPlayer) Seek(pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = pos
	return nil
}

func (p *nullPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bound == "" {
		return ErrNotBound
	}
	p.playing = true
	p.logger.Debug().Str("slot_id", p.slotID).Str("sound_ref", p.bound).Dur("position", p.position).Msg("play")
	return nil
}

func (p *nullPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
}

func (p *nullPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *nullPlayer) Close() error {
	p.Pause()
	return nil
}
