/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package beat

import (
	"fmt"
	"time"
)

// Player is a per-slot playback resource.
type Player interface {
	// Bind points the player at a loop asset. Any previous binding is dropped.
	Bind(ref string) error
	Seek(pos time.Duration) error
	// Play starts playback from the current position.
	Play() error
	Pause()
	IsPlaying() bool
	// Close releases the underlying device resources.
	Close() error
}

// PlayerFactory creates a player for a slot the first time that slot is ticked.
type PlayerFactory interface {
	NewPlayer(slotID string) (Player, error)
}

// PlayerFactoryFunc adapts a function to PlayerFactory.
type PlayerFactoryFunc func(slotID string) (Player, error)

// NewPlayer calls f(slotID).
func (f PlayerFactoryFunc) NewPlayer(slotID string) (Player, error) {
	return f(slotID)
}

// PlaybackError reports a failure to start one slot's loop.
type PlaybackError struct {
	SlotID   string
	SoundRef string
	Op       string
	Err      error
}

func (e *PlaybackError) Error() string {
	if e.SlotID == "" {
		return fmt.Sprintf("playback %s %q: %v", e.Op, e.SoundRef, e.Err)
	}
	return fmt.Sprintf("playback %s slot %s (%q): %v", e.Op, e.SlotID, e.SoundRef, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}
