/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventBeatTick          EventType = "beat.tick"
	EventSchedulerIdle     EventType = "beat.idle"
	EventSchedulerWaiting  EventType = "beat.waiting"
	EventPlaybackFailed    EventType = "beat.playback_failed"
	EventTimerFailed       EventType = "beat.timer_failed"
	EventSlotActivated     EventType = "slot.activated"
	EventSlotDeactivated   EventType = "slot.deactivated"
	EventMixerReset        EventType = "mixer.reset"
	EventCombinationLoaded EventType = "combination.loaded"
	EventCombinationSaved  EventType = "combination.saved"
	EventCombinationDelete EventType = "combination.deleted"
)

// StreamedEvents lists the event types forwarded to live UI clients.
var StreamedEvents = []EventType{
	EventBeatTick,
	EventSchedulerIdle,
	EventSchedulerWaiting,
	EventPlaybackFailed,
	EventTimerFailed,
	EventSlotActivated,
	EventSlotDeactivated,
	EventMixerReset,
	EventCombinationLoaded,
	EventCombinationSaved,
	EventCombinationDelete,
}

// UserScoped reports whether an event only concerns the user named in its payload.
func UserScoped(t EventType) bool {
	return t == EventCombinationSaved || t == EventCombinationDelete
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers miss events rather than block.
// A nil bus drops everything.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	if b == nil {
		return
	}
	// Sends stay under the read lock so Unsubscribe cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
