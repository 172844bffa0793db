/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/notincredibox/internal/events"
)

func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestStartFailsWithoutRedis(t *testing.T) {
	r := NewWithClient(unreachableClient(), Config{}, events.NewBus(), zerolog.Nop())
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected ping failure")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	r := NewWithClient(unreachableClient(), Config{}, events.NewBus(), zerolog.Nop())
	defer r.Close()
	if r.channel != DefaultChannel {
		t.Fatalf("channel=%q", r.channel)
	}
	if !r.relays(events.EventCombinationSaved) || r.relays(events.EventBeatTick) {
		t.Fatalf("unexpected relayed types %v", r.types)
	}
	if r.NodeID() == "" {
		t.Fatal("expected node id")
	}
}

func TestRelayBetweenNodes(t *testing.T) {
	busA, busB := events.NewBus(), events.NewBus()
	a := NewWithClient(unreachableClient(), Config{}, busA, zerolog.Nop())
	b := NewWithClient(unreachableClient(), Config{}, busB, zerolog.Nop())
	defer a.Close()
	defer b.Close()

	saved := busB.Subscribe(events.EventCombinationSaved)
	defer busB.Unsubscribe(events.EventCombinationSaved, saved)

	data, ok := a.encode(events.EventCombinationSaved, events.Payload{"combination_id": "c1", "user_id": "u1"})
	if !ok {
		t.Fatal("expected local event to be encoded")
	}

	// A node ignores its own messages.
	if err := a.deliver(data); err != nil {
		t.Fatalf("deliver own message: %v", err)
	}

	if err := b.deliver(data); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	select {
	case payload := <-saved:
		if payload["combination_id"] != "c1" || payload[originKey] != a.NodeID() {
			t.Fatalf("unexpected payload %v", payload)
		}
		if _, send := b.encode(events.EventCombinationSaved, payload); send {
			t.Fatal("relayed payload must not be sent back out")
		}
	case <-time.After(time.Second):
		t.Fatal("expected relayed event on the remote bus")
	}
}

func TestDeliverIgnoresUnrelayedTypes(t *testing.T) {
	busA, busB := events.NewBus(), events.NewBus()
	a := NewWithClient(unreachableClient(), Config{Types: []events.EventType{events.EventBeatTick}}, busA, zerolog.Nop())
	b := NewWithClient(unreachableClient(), Config{}, busB, zerolog.Nop())
	defer a.Close()
	defer b.Close()

	ticks := busB.Subscribe(events.EventBeatTick)
	defer busB.Unsubscribe(events.EventBeatTick, ticks)

	data, _ := a.encode(events.EventBeatTick, events.Payload{"tick": 1})
	if err := b.deliver(data); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	select {
	case payload := <-ticks:
		t.Fatalf("beat ticks must stay local, got %v", payload)
	default:
	}

	if err := b.deliver([]byte("{not json")); err == nil {
		t.Fatal("expected error for malformed message")
	}
}

func startRelay(t *testing.T, addr string, bus *events.Bus) *Relay {
	t.Helper()
	r := New(Config{Addr: addr}, bus, zerolog.Nop())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start relay: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRelayOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	busA, busB := events.NewBus(), events.NewBus()
	a := startRelay(t, mr.Addr(), busA)
	startRelay(t, mr.Addr(), busB)

	gotA := busA.Subscribe(events.EventCombinationSaved)
	gotB := busB.Subscribe(events.EventCombinationSaved)
	defer busA.Unsubscribe(events.EventCombinationSaved, gotA)
	defer busB.Unsubscribe(events.EventCombinationSaved, gotB)

	busA.Publish(events.EventCombinationSaved, events.Payload{"user_id": "u1", "combination_id": "c1"})

	select {
	case payload := <-gotB:
		if payload["combination_id"] != "c1" || payload["user_id"] != "u1" || payload[originKey] != a.NodeID() {
			t.Fatalf("unexpected relayed payload %v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected event on the other replica")
	}

	// The local copy arrives once; neither the echo nor a re-forward comes back.
	select {
	case <-gotA:
	case <-time.After(time.Second):
		t.Fatal("expected local delivery")
	}
	select {
	case payload := <-gotA:
		t.Fatalf("unexpected echo %v", payload)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRelayKeepsBeatEventsLocal(t *testing.T) {
	mr := miniredis.RunT(t)
	busA, busB := events.NewBus(), events.NewBus()
	startRelay(t, mr.Addr(), busA)
	startRelay(t, mr.Addr(), busB)

	ticks := busB.Subscribe(events.EventBeatTick)
	defer busB.Unsubscribe(events.EventBeatTick, ticks)

	busA.Publish(events.EventBeatTick, events.Payload{"tick": 1})
	select {
	case payload := <-ticks:
		t.Fatalf("beat ticks must stay local, got %v", payload)
	case <-time.After(300 * time.Millisecond):
	}
}
