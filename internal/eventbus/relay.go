/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus shares selected local events between server replicas over Redis pub/sub.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/notincredibox/internal/events"
)

// DefaultChannel is the Redis channel replicas publish on.
const DefaultChannel = "notincredibox:events"

// originKey marks payloads that arrived from another node so they are not sent back out.
const originKey = "relay_origin"

// RelayedEvents are the events that mean something on every replica. Beat and mixer
// events stay local because each process runs its own scheduler.
var RelayedEvents = []events.EventType{
	events.EventCombinationSaved,
	events.EventCombinationDelete,
}

// Config contains Redis connection settings for the relay.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Types    []events.EventType
}

// Relay forwards local bus events to Redis and republishes remote ones locally.
type Relay struct {
	client  redis.UniversalClient
	bus     *events.Bus
	channel string
	types   []events.EventType
	nodeID  string
	logger  zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

// New creates a relay with its own Redis client.
func New(cfg Config, bus *events.Bus, logger zerolog.Logger) *Relay {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return NewWithClient(client, cfg, bus, logger)
}

// NewWithClient creates a relay on an existing client.
func NewWithClient(client redis.UniversalClient, cfg Config, bus *events.Bus, logger zerolog.Logger) *Relay {
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	types := cfg.Types
	if len(types) == 0 {
		types = RelayedEvents
	}
	nodeID := uuid.NewString()
	return &Relay{
		client:  client,
		bus:     bus,
		channel: channel,
		types:   types,
		nodeID:  nodeID,
		logger:  logger.With().Str("component", "eventbus").Str("node_id", nodeID).Logger(),
	}
}

// NodeID identifies this replica on the channel.
func (r *Relay) NodeID() string { return r.nodeID }

// Start checks Redis and begins relaying until ctx ends or Close is called.
func (r *Relay) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("event relay: ping redis: %w", err)
	}

	ctx, r.cancel = context.WithCancel(ctx)
	pubsub := r.client.Subscribe(ctx, r.channel)
	// Wait for the subscription so nothing published after Start is missed.
	if _, err := pubsub.Receive(pingCtx); err != nil {
		_ = pubsub.Close()
		r.cancel()
		return fmt.Errorf("event relay: subscribe %s: %w", r.channel, err)
	}

	r.wg.Add(1)
	go r.receive(ctx, pubsub)

	for _, t := range r.types {
		sub := r.bus.Subscribe(t)
		r.wg.Add(1)
		go r.forward(ctx, t, sub)
	}

	r.logger.Info().Str("channel", r.channel).Int("event_types", len(r.types)).Msg("event relay started")
	return nil
}

// Close stops relaying and closes the Redis client.
func (r *Relay) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	return r.client.Close()
}

func (r *Relay) forward(ctx context.Context, eventType events.EventType, sub events.Subscriber) {
	defer r.wg.Done()
	defer r.bus.Unsubscribe(eventType, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			data, send := r.encode(eventType, payload)
			if !send {
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := r.client.Publish(pubCtx, r.channel, data).Err()
			cancel()
			if err != nil {
				r.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("publish to redis failed")
			}
		}
	}
}

func (r *Relay) receive(ctx context.Context, pubsub *redis.PubSub) {
	defer r.wg.Done()
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				r.logger.Warn().Msg("redis subscription closed")
				return
			}
			if err := r.deliver([]byte(msg.Payload)); err != nil {
				r.logger.Warn().Err(err).Msg("drop relayed event")
			}
		}
	}
}

// encode wraps a local payload for the channel. Payloads that came from another node
// report false so they are not echoed back.
func (r *Relay) encode(eventType events.EventType, payload events.Payload) ([]byte, bool) {
	if _, remote := payload[originKey]; remote {
		return nil, false
	}
	data, err := json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    r.nodeID,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("marshal relayed event")
		return nil, false
	}
	return data, true
}

// deliver republishes a remote message on the local bus. Our own messages and event
// types we do not relay are ignored.
func (r *Relay) deliver(data []byte) error {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("unmarshal relayed event: %w", err)
	}
	if msg.NodeID == r.nodeID || !r.relays(msg.EventType) {
		return nil
	}

	payload := make(events.Payload, len(msg.Payload)+1)
	for k, v := range msg.Payload {
		payload[k] = v
	}
	payload[originKey] = msg.NodeID
	r.bus.Publish(msg.EventType, payload)
	return nil
}

func (r *Relay) relays(t events.EventType) bool {
	for _, candidate := range r.types {
		if candidate == t {
			return true
		}
	}
	return false
}
