/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package beat

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Clock is a monotonic time source measured from an arbitrary reference instant.
type Clock interface {
	Now() time.Duration
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop()
}

// Timers schedules one-shot and recurring callbacks.
type Timers interface {
	After(delay time.Duration, fn func()) (Timer, error)
	Every(interval time.Duration, fn func()) (Timer, error)
}

// MonotonicClock reads the runtime's monotonic clock relative to its creation.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock starts a clock whose zero is now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// Now returns the elapsed monotonic time since the clock was created.
func (c *MonotonicClock) Now() time.Duration {
	return time.Since(c.start)
}

// RuntimeTimers implements Timers on top of the Go runtime timers.
type RuntimeTimers struct{}

// After runs fn once in its own goroutine after delay.
func (RuntimeTimers) After(delay time.Duration, fn func()) (Timer, error) {
	if fn == nil {
		return nil, errors.New("nil timer callback")
	}
	if delay < 0 {
		delay = 0
	}
	return runtimeTimer{t: time.AfterFunc(delay, fn)}, nil
}

// Every runs fn every interval until stopped. The first run is one interval from now.
func (RuntimeTimers) Every(interval time.Duration, fn func()) (Timer, error) {
	if fn == nil {
		return nil, errors.New("nil timer callback")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("non-positive interval %s", interval)
	}

	t := &tickerTimer{
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go t.run(fn)
	return t, nil
}

type tickerTimer struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *tickerTimer) run(fn func()) {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			fn()
		}
	}
}

func (t *tickerTimer) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}

type runtimeTimer struct{ t *time.Timer }

func (r runtimeTimer) Stop() { r.t.Stop() }
