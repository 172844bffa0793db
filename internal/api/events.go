/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/notincredibox/internal/auth"
	"github.com/friendsincode/notincredibox/internal/events"
	"github.com/friendsincode/notincredibox/internal/telemetry"
)

const wsPingInterval = 15 * time.Second

// wsMessage is every frame the server sends.
type wsMessage struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// wsCommand is a mixer action sent by the client.
type wsCommand struct {
	Action        string `json:"action"`
	SlotID        string `json:"slot_id,omitempty"`
	SoundID       string `json:"sound_id,omitempty"`
	CombinationID string `json:"combination_id,omitempty"`
}

type streamedEvent struct {
	eventType events.EventType
	payload   events.Payload
}

// handleEvents streams beat and mixer events and accepts drag-and-drop commands.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	userID := auth.UserIDFromContext(r.Context())

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates := make(chan streamedEvent, 32)
	for _, eventType := range eventTypes {
		sub := a.bus.Subscribe(eventType)
		defer a.bus.Unsubscribe(eventType, sub)
		go forwardEvents(ctx, eventType, sub, updates)
	}

	if err := a.sendMessage(ctx, conn, "initial_state", a.mixerState()); err != nil {
		a.logger.Debug().Err(err).Msg("send initial state failed")
		return
	}

	done := make(chan struct{})
	commandCh := make(chan wsCommand, 16)
	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ws.CloseStatus(err) != ws.StatusNormalClosure && ctx.Err() == nil {
					a.logger.Debug().Err(err).Msg("websocket read error")
				}
				return
			}

			var cmd wsCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				a.logger.Warn().Err(err).Msg("invalid websocket message")
				continue
			}

			select {
			case commandCh <- cmd:
			default:
				a.logger.Warn().Msg("command channel full, dropping message")
			}
		}
	}()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return

		case <-done:
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return

		case <-pingTicker.C:
			if err := a.sendMessage(ctx, conn, "ping", nil); err != nil {
				a.logger.Debug().Err(err).Msg("ping failed")
				conn.Close(ws.StatusInternalError, "ping failed")
				return
			}

		case ev := <-updates:
			if !visibleTo(ev, userID) {
				continue
			}
			if err := a.sendMessage(ctx, conn, string(ev.eventType), ev.payload); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}

		case cmd := <-commandCh:
			if err := a.handleCommand(ctx, cmd); err != nil {
				_, code := errorResponse(err)
				a.logger.Warn().Err(err).Str("action", cmd.Action).Msg("command failed")
				_ = a.sendMessage(ctx, conn, "error", map[string]string{"action": cmd.Action, "error": code})
				continue
			}
			if cmd.Action != "pong" {
				_ = a.sendMessage(ctx, conn, "mixer_state", a.mixerState())
			}
		}
	}
}

func forwardEvents(ctx context.Context, eventType events.EventType, sub events.Subscriber, out chan<- streamedEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			select {
			case out <- streamedEvent{eventType: eventType, payload: payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// visibleTo hides other users' library changes; anonymous connections see none.
func visibleTo(ev streamedEvent, userID string) bool {
	if !events.UserScoped(ev.eventType) {
		return true
	}
	owner, _ := ev.payload["user_id"].(string)
	return userID != "" && owner == userID
}

var errUnknownAction = errors.New("unknown action")

func (a *API) handleCommand(ctx context.Context, cmd wsCommand) error {
	switch cmd.Action {
	case "assign":
		return a.mixer.Assign(ctx, cmd.SlotID, cmd.SoundID)
	case "clear":
		return a.mixer.Clear(cmd.SlotID)
	case "reset":
		a.mixer.Reset()
		return nil
	case "load":
		c, err := a.combinations.Get(ctx, auth.UserIDFromContext(ctx), cmd.CombinationID)
		if err != nil {
			return err
		}
		return a.mixer.Apply(ctx, c)
	case "pong":
		return nil
	default:
		return errUnknownAction
	}
}

func (a *API) sendMessage(ctx context.Context, conn *ws.Conn, msgType string, data any) error {
	msg := wsMessage{Type: msgType, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		msg.Data = raw
	}
	bytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}

// parseEventTypes keeps only streamable types. An empty filter means all of them.
func parseEventTypes(raw string) []events.EventType {
	allowed := make(map[events.EventType]bool, len(events.StreamedEvents))
	for _, t := range events.StreamedEvents {
		allowed[t] = true
	}

	var out []events.EventType
	seen := make(map[events.EventType]bool)
	for _, part := range strings.Split(raw, ",") {
		t := events.EventType(strings.TrimSpace(part))
		if !allowed[t] || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return append([]events.EventType(nil), events.StreamedEvents...)
	}
	return out
}
