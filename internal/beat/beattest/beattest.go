/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package beattest provides a manual clock and recording players for driving the
// beat scheduler deterministically in tests.
package beattest

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/notincredibox/internal/beat"
)

// Clock is a manual monotonic clock that also acts as the scheduler's timer source.
// Timers only fire from Advance or AdvanceTo.
type Clock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*timer
	err    error
}

type timer struct {
	clock    *Clock
	id       int
	at       time.Duration
	interval time.Duration
	fn       func()
	stopped  bool
}

func (t *timer) Stop() {
	t.clock.mu.Lock()
	t.stopped = true
	t.clock.mu.Unlock()
}

// NewClock returns a clock reading start.
func NewClock(start time.Duration) *Clock {
	return &Clock{now: start}
}

// Now implements beat.Clock.
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// FailWith makes subsequent After and Every calls return err. Nil restores them.
func (c *Clock) FailWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// After implements beat.Timers.
func (c *Clock) After(delay time.Duration, fn func()) (beat.Timer, error) {
	return c.add(delay, 0, fn)
}

// Every implements beat.Timers.
func (c *Clock) Every(interval time.Duration, fn func()) (beat.Timer, error) {
	if interval <= 0 {
		return nil, errors.New("non-positive interval")
	}
	return c.add(interval, interval, fn)
}

func (c *Clock) add(delay, interval time.Duration, fn func()) (beat.Timer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if delay < 0 {
		delay = 0
	}
	c.seq++
	t := &timer{clock: c, id: c.seq, at: c.now + delay, interval: interval, fn: fn}
	c.timers = append(c.timers, t)
	return t, nil
}

// Pending counts timers that have been scheduled and not stopped or spent.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// NextFire reports when the earliest live timer is due.
func (c *Clock) NextFire() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.nextLocked(-1)
	if t == nil {
		return 0, false
	}
	return t.at, true
}

// Advance moves the clock forward by d, firing due timers in order.
func (c *Clock) Advance(d time.Duration) {
	c.AdvanceTo(c.Now() + d)
}

// AdvanceTo moves the clock to target, firing due timers in order. Each callback
// observes Now equal to its due time. Callbacks run without the clock lock held.
func (c *Clock) AdvanceTo(target time.Duration) {
	for {
		c.mu.Lock()
		t := c.nextLocked(target)
		if t == nil {
			if target > c.now {
				c.now = target
			}
			c.compactLocked()
			c.mu.Unlock()
			return
		}
		c.now = t.at
		if t.interval > 0 {
			t.at += t.interval
		} else {
			t.stopped = true
		}
		fn := t.fn
		c.mu.Unlock()

		fn()
	}
}

// nextLocked returns the earliest live timer due at or before limit. A negative limit
// means no limit.
func (c *Clock) nextLocked(limit time.Duration) *timer {
	var best *timer
	for _, t := range c.timers {
		if t.stopped {
			continue
		}
		if limit >= 0 && t.at > limit {
			continue
		}
		if best == nil || t.at < best.at || (t.at == best.at && t.id < best.id) {
			best = t
		}
	}
	return best
}

func (c *Clock) compactLocked() {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	c.timers = live
}

// Players is a beat.PlayerFactory that records every player it creates.
type Players struct {
	mu       sync.Mutex
	bySlot   map[string][]*Player
	createFn func(slotID string) error
	playErr  map[string]error
	bindErr  map[string]error
}

// NewPlayers creates an empty recorder.
func NewPlayers() *Players {
	return &Players{
		bySlot:  make(map[string][]*Player),
		playErr: make(map[string]error),
		bindErr: make(map[string]error),
	}
}

// FailCreate makes NewPlayer return the error produced by fn, when non-nil.
func (p *Players) FailCreate(fn func(slotID string) error) {
	p.mu.Lock()
	p.createFn = fn
	p.mu.Unlock()
}

// FailPlay makes Play fail for players bound to soundRef.
func (p *Players) FailPlay(soundRef string, err error) {
	p.mu.Lock()
	p.playErr[soundRef] = err
	p.mu.Unlock()
}

// FailBind makes Bind fail for soundRef.
func (p *Players) FailBind(soundRef string, err error) {
	p.mu.Lock()
	p.bindErr[soundRef] = err
	p.mu.Unlock()
}

// NewPlayer implements beat.PlayerFactory.
func (p *Players) NewPlayer(slotID string) (beat.Player, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createFn != nil {
		if err := p.createFn(slotID); err != nil {
			return nil, err
		}
	}
	pl := &Player{SlotID: slotID, owner: p}
	p.bySlot[slotID] = append(p.bySlot[slotID], pl)
	return pl, nil
}

// Latest returns the most recent player created for slotID, or nil.
func (p *Players) Latest(slotID string) *Player {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.bySlot[slotID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// All returns every player ever created, ordered by slot id then creation.
func (p *Players) All() []*Player {
	p.mu.Lock()
	defer p.mu.Unlock()
	slots := make([]string, 0, len(p.bySlot))
	for id := range p.bySlot {
		slots = append(slots, id)
	}
	sort.Strings(slots)
	var out []*Player
	for _, id := range slots {
		out = append(out, p.bySlot[id]...)
	}
	return out
}

func (p *Players) failure(m map[string]error, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return m[ref]
}

// Player records the commands the scheduler issues.
type Player struct {
	SlotID string
	owner  *Players

	mu       sync.Mutex
	bound    string
	position time.Duration
	playing  bool
	closed   bool
	binds    int
	plays    int
}

// Bind implements beat.Player.
func (p *Player) Bind(ref string) error {
	if err := p.owner.failure(p.owner.bindErr, ref); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bound = ref
	p.position = 0
	p.playing = false
	p.binds++
	return nil
}

// Seek implements beat.Player.
func (p *Player) Seek(pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = pos
	return nil
}

// Play implements beat.Player.
func (p *Player) Play() error {
	p.mu.Lock()
	ref := p.bound
	p.mu.Unlock()

	if err := p.owner.failure(p.owner.playErr, ref); err != nil {
		p.mu.Lock()
		p.playing = false
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	p.playing = true
	return nil
}

// Pause implements beat.Player.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
}

// IsPlaying implements beat.Player.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Close implements beat.Player.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.playing = false
	return nil
}

// Bound returns the current binding.
func (p *Player) Bound() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bound
}

// Position returns the last sought position.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Plays returns how many successful Play calls were made.
func (p *Player) Plays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

// Binds returns how many successful Bind calls were made.
func (p *Player) Binds() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.binds
}

// Closed reports whether Close was called.
func (p *Player) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
