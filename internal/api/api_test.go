/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/notincredibox/internal/auth"
	"github.com/friendsincode/notincredibox/internal/beat"
	"github.com/friendsincode/notincredibox/internal/beat/beattest"
	"github.com/friendsincode/notincredibox/internal/combinations"
	"github.com/friendsincode/notincredibox/internal/events"
	"github.com/friendsincode/notincredibox/internal/mixer"
	"github.com/friendsincode/notincredibox/internal/models"
	"github.com/friendsincode/notincredibox/internal/sounds"
	"github.com/friendsincode/notincredibox/internal/storage"
)

type testEnv struct {
	server *httptest.Server
	clock  *beattest.Clock
	bus    *events.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&models.User{}, &models.Combination{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	catalog, err := sounds.Load()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "loops"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "loops", "2_deux_a.ogg"), []byte("OggS-test"), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}

	bus := events.NewBus()
	clock := beattest.NewClock(1200 * time.Millisecond)
	sched, err := beat.New(beat.Config{
		LoopDuration: 5 * time.Second,
		Clock:        clock,
		Timers:       clock,
		Players:      beattest.NewPlayers(),
		Bus:          bus,
	}, logger)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(func() { _ = sched.Close() })

	mx, err := mixer.New(mixer.Config{
		SlotIDs:   []string{"char1", "char2", "char3"},
		Catalog:   catalog,
		Scheduler: sched,
		Bus:       bus,
	}, logger)
	if err != nil {
		t.Fatalf("new mixer: %v", err)
	}

	a := New(Config{
		DB:           db,
		Catalog:      catalog,
		Mixer:        mx,
		Beat:         sched,
		Combinations: combinations.NewService(combinations.Config{DB: db, Catalog: catalog, Bus: bus, MaxSounds: mx.SlotCount()}, logger),
		Identity:     auth.NewProvider(db, []byte("test-secret"), time.Hour, logger),
		Loops:        storage.NewFilesystemStore(root, logger),
		Bus:          bus,
	}, logger)

	r := chi.NewRouter()
	a.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, clock: clock, bus: bus}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	code, body := e.do(t, http.MethodPost, "/api/v1/auth/register", "", credentialsRequest{Email: email, Password: "long enough"})
	if code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d body=%s", code, body)
	}
	var resp sessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if resp.Token == "" || resp.User == nil || resp.User.Password != "" {
		t.Fatalf("unexpected session response: %s", body)
	}
	return resp.Token
}

func decodeMixer(t *testing.T, body []byte) mixerResponse {
	t.Helper()
	var resp mixerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode mixer: %v body=%s", err, body)
	}
	return resp
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp map[string]string
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode error: %v body=%s", err, body)
	}
	return resp["error"]
}

func TestHealthAndSounds(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if code != http.StatusOK || !strings.Contains(string(body), `"status":"ok"`) {
		t.Fatalf("health: got %d %s", code, body)
	}

	code, body = env.do(t, http.MethodGet, "/api/v1/sounds?category=voices", "", nil)
	if code != http.StatusOK {
		t.Fatalf("sounds: got %d", code)
	}
	var resp struct {
		Categories []sounds.CategoryInfo `json:"categories"`
		Sounds     []sounds.Sound        `json:"sounds"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode sounds: %v", err)
	}
	if len(resp.Categories) != 4 || len(resp.Sounds) != 5 {
		t.Fatalf("expected 4 categories and 5 voices, got %d and %d", len(resp.Categories), len(resp.Sounds))
	}
	for _, s := range resp.Sounds {
		if s.Category != sounds.CategoryVoices {
			t.Fatalf("unexpected category %q", s.Category)
		}
	}
}

func TestMixerEndpoints(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPut, "/api/v1/mixer/slots/char1", "", slotAssignRequest{SoundID: "b1"})
	if code != http.StatusOK {
		t.Fatalf("assign: got %d %s", code, body)
	}
	state := decodeMixer(t, body)
	if state.Phase != beat.PhaseWaiting.String() || state.LoopMS != 5000 {
		t.Fatalf("expected waiting phase with 5s loop, got %+v", state)
	}
	if !state.Slots[0].Active || state.Slots[0].Image != mixer.ImageAssigned {
		t.Fatalf("expected char1 active, got %+v", state.Slots[0])
	}

	env.clock.AdvanceTo(5 * time.Second)
	code, body = env.do(t, http.MethodGet, "/api/v1/mixer", "", nil)
	state = decodeMixer(t, body)
	if code != http.StatusOK || state.Phase != beat.PhaseRunning.String() || !state.Slots[0].Playing || state.Ticks != 1 {
		t.Fatalf("expected char1 playing after boundary, got %d %+v", code, state)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown slot", http.MethodPut, "/api/v1/mixer/slots/char9", slotAssignRequest{SoundID: "b1"}, http.StatusNotFound, "slot_not_found"},
		{"unknown sound", http.MethodPut, "/api/v1/mixer/slots/char2", slotAssignRequest{SoundID: "x9"}, http.StatusBadRequest, "unknown_sound"},
		{"missing sound", http.MethodPut, "/api/v1/mixer/slots/char2", slotAssignRequest{}, http.StatusBadRequest, "sound_id_required"},
		{"clear unknown slot", http.MethodDelete, "/api/v1/mixer/slots/char9", nil, http.StatusNotFound, "slot_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, tt.method, tt.path, "", tt.body)
			if code != tt.status || errorCode(t, body) != tt.code {
				t.Fatalf("expected %d %s, got %d %s", tt.status, tt.code, code, body)
			}
		})
	}

	code, body = env.do(t, http.MethodDelete, "/api/v1/mixer/slots/char1", "", nil)
	state = decodeMixer(t, body)
	if code != http.StatusOK || state.Slots[0].Active || state.Phase != beat.PhaseIdle.String() {
		t.Fatalf("expected idle after clearing last slot, got %d %+v", code, state)
	}

	_, _ = env.do(t, http.MethodPut, "/api/v1/mixer/slots/char2", "", slotAssignRequest{SoundID: "m1"})
	code, body = env.do(t, http.MethodPost, "/api/v1/mixer/reset", "", nil)
	state = decodeMixer(t, body)
	if code != http.StatusOK || state.Slots[1].Active {
		t.Fatalf("expected empty mixer after reset, got %d %+v", code, state)
	}
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "dj@example.com")

	code, body := env.do(t, http.MethodPost, "/api/v1/auth/register", "", credentialsRequest{Email: "dj@example.com", Password: "long enough"})
	if code != http.StatusConflict || errorCode(t, body) != "email_taken" {
		t.Fatalf("expected 409 email_taken, got %d %s", code, body)
	}
	code, _ = env.do(t, http.MethodPost, "/api/v1/auth/register", "", credentialsRequest{Email: "x@example.com", Password: "short"})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for weak password, got %d", code)
	}

	code, _ = env.do(t, http.MethodPost, "/api/v1/auth/signin", "", credentialsRequest{Email: "dj@example.com", Password: "wrong password"})
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", code)
	}
	code, body = env.do(t, http.MethodPost, "/api/v1/auth/signin", "", credentialsRequest{Email: "DJ@example.com", Password: "long enough"})
	if code != http.StatusOK {
		t.Fatalf("signin: got %d %s", code, body)
	}

	code, body = env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	if code != http.StatusOK || !strings.Contains(string(body), "dj@example.com") {
		t.Fatalf("me: got %d %s", code, body)
	}

	code, _ = env.do(t, http.MethodPost, "/api/v1/auth/signout", token, nil)
	if code != http.StatusNoContent {
		t.Fatalf("signout: got %d", code)
	}
	code, _ = env.do(t, http.MethodGet, "/api/v1/combinations", token, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token rejected, got %d", code)
	}
}

func TestCombinationEndpoints(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "mixer@example.com")
	other := env.register(t, "other@example.com")

	code, _ := env.do(t, http.MethodGet, "/api/v1/combinations", "", nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}

	code, body := env.do(t, http.MethodPost, "/api/v1/combinations", token, combinationSaveRequest{Name: "empty"})
	if code != http.StatusBadRequest || errorCode(t, body) != "invalid_combination" {
		t.Fatalf("expected empty mix rejected, got %d %s", code, body)
	}

	_, _ = env.do(t, http.MethodPut, "/api/v1/mixer/slots/char1", "", slotAssignRequest{SoundID: "b1"})
	_, _ = env.do(t, http.MethodPut, "/api/v1/mixer/slots/char3", "", slotAssignRequest{SoundID: "v2"})
	code, body = env.do(t, http.MethodPost, "/api/v1/combinations", token, combinationSaveRequest{Name: "from mixer"})
	if code != http.StatusCreated {
		t.Fatalf("save snapshot: got %d %s", code, body)
	}
	var created map[string]string
	_ = json.Unmarshal(body, &created)
	id := created["id"]

	code, _ = env.do(t, http.MethodPost, "/api/v1/combinations", token, combinationSaveRequest{Name: "explicit", Sounds: []string{"m1", "e1"}})
	if code != http.StatusCreated {
		t.Fatalf("save explicit: got %d", code)
	}

	code, body = env.do(t, http.MethodGet, "/api/v1/combinations", token, nil)
	var list []models.Combination
	if err := json.Unmarshal(body, &list); err != nil || code != http.StatusOK {
		t.Fatalf("list: got %d %s", code, body)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 combinations, got %d", len(list))
	}

	code, body = env.do(t, http.MethodGet, "/api/v1/combinations", other, nil)
	if code != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("expected empty list for other user, got %d %s", code, body)
	}
	code, _ = env.do(t, http.MethodPost, "/api/v1/combinations/"+id+"/load", other, nil)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 loading another user's combination, got %d", code)
	}

	_, _ = env.do(t, http.MethodPost, "/api/v1/mixer/reset", "", nil)
	code, body = env.do(t, http.MethodPost, "/api/v1/combinations/"+id+"/load", token, nil)
	if code != http.StatusOK {
		t.Fatalf("load: got %d %s", code, body)
	}
	state := decodeMixer(t, body)
	if state.Slots[0].Sound == nil || state.Slots[0].Sound.ID != "b1" || state.Slots[1].Sound == nil || state.Slots[1].Sound.ID != "v2" {
		t.Fatalf("expected b1,v2 loaded into the first slots, got %+v", state.Slots)
	}

	code, _ = env.do(t, http.MethodDelete, "/api/v1/combinations/"+id, token, nil)
	if code != http.StatusNoContent {
		t.Fatalf("delete: got %d", code)
	}
	code, body = env.do(t, http.MethodDelete, "/api/v1/combinations/"+id, token, nil)
	if code != http.StatusNotFound || errorCode(t, body) != "not_found" {
		t.Fatalf("expected 404 on second delete, got %d %s", code, body)
	}
}

func TestLoopAssets(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.server.Client().Get(env.server.URL + "/loops/2_deux_a.ogg")
	if err != nil {
		t.Fatalf("get loop: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "OggS-test" {
		t.Fatalf("expected asset, got %d %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/ogg" {
		t.Fatalf("expected audio/ogg, got %q", ct)
	}

	code, _ := env.do(t, http.MethodGet, "/loops/missing.ogg", "", nil)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing loop, got %d", code)
	}
}

func TestEventsWebSocket(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/v1/events"
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	read := func() wsMessage {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return msg
	}

	if msg := read(); msg.Type != "initial_state" {
		t.Fatalf("expected initial_state first, got %q", msg.Type)
	}

	cmd, _ := json.Marshal(wsCommand{Action: "assign", SlotID: "char2", SoundID: "b3"})
	if err := conn.Write(ctx, ws.MessageText, cmd); err != nil {
		t.Fatalf("write: %v", err)
	}

	seen := map[string]bool{}
	for !seen["mixer_state"] || !seen[string(events.EventSlotActivated)] {
		msg := read()
		seen[msg.Type] = true
		if msg.Type == "mixer_state" {
			var state mixerResponse
			_ = json.Unmarshal(msg.Data, &state)
			if !state.Slots[1].Active {
				t.Fatalf("expected char2 active in pushed state, got %+v", state.Slots[1])
			}
		}
	}

	bad, _ := json.Marshal(wsCommand{Action: "dance"})
	_ = conn.Write(ctx, ws.MessageText, bad)
	for {
		msg := read()
		if msg.Type == "error" {
			if !strings.Contains(string(msg.Data), "unknown_action") {
				t.Fatalf("unexpected error frame %s", msg.Data)
			}
			break
		}
	}
}

func TestParseEventTypes(t *testing.T) {
	if got := parseEventTypes(""); len(got) != len(events.StreamedEvents) {
		t.Fatalf("expected all streamed events by default, got %v", got)
	}
	got := parseEventTypes("beat.tick, disco,beat.tick")
	if len(got) != 1 || got[0] != events.EventBeatTick {
		t.Fatalf("expected only beat.tick, got %v", got)
	}
	got = parseEventTypes("combination.saved,combination.deleted")
	if len(got) != 2 || got[0] != events.EventCombinationSaved || got[1] != events.EventCombinationDelete {
		t.Fatalf("expected library events, got %v", got)
	}
}

func TestVisibleTo(t *testing.T) {
	tests := []struct {
		name   string
		ev     streamedEvent
		userID string
		want   bool
	}{
		{"beat for anyone", streamedEvent{eventType: events.EventBeatTick}, "", true},
		{"own save", streamedEvent{eventType: events.EventCombinationSaved, payload: events.Payload{"user_id": "u1"}}, "u1", true},
		{"other user's delete", streamedEvent{eventType: events.EventCombinationDelete, payload: events.Payload{"user_id": "u2"}}, "u1", false},
		{"anonymous save", streamedEvent{eventType: events.EventCombinationSaved, payload: events.Payload{"user_id": "u1"}}, "", false},
	}
	for _, tt := range tests {
		if got := visibleTo(tt.ev, tt.userID); got != tt.want {
			t.Fatalf("%s: visibleTo = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestEventsStreamOwnLibraryChanges(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "owner@example.com")
	other := env.register(t, "someone@example.com")

	code, body := env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	if code != http.StatusOK {
		t.Fatalf("me: got %d %s", code, body)
	}
	var me map[string]string
	_ = json.Unmarshal(body, &me)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/v1/events?types=combination.saved,combination.deleted&token=" + token
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	read := func() wsMessage {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return msg
	}
	if msg := read(); msg.Type != "initial_state" {
		t.Fatalf("expected initial_state first, got %q", msg.Type)
	}

	// Another user's save must not reach this connection.
	code, _ = env.do(t, http.MethodPost, "/api/v1/combinations", other, combinationSaveRequest{Name: "theirs", Sounds: []string{"b1"}})
	if code != http.StatusCreated {
		t.Fatalf("save other: got %d", code)
	}
	code, body = env.do(t, http.MethodPost, "/api/v1/combinations", token, combinationSaveRequest{Name: "mine", Sounds: []string{"v1"}})
	if code != http.StatusCreated {
		t.Fatalf("save own: got %d %s", code, body)
	}
	var created map[string]string
	_ = json.Unmarshal(body, &created)

	msg := read()
	var payload map[string]any
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if msg.Type != string(events.EventCombinationSaved) || payload["user_id"] != me["id"] || payload["combination_id"] != created["id"] {
		t.Fatalf("expected own combination.saved frame, got %s %s", msg.Type, msg.Data)
	}

	env.bus.Publish(events.EventCombinationDelete, events.Payload{"user_id": "someone-else", "combination_id": "x"})
	if code, _ := env.do(t, http.MethodDelete, "/api/v1/combinations/"+created["id"], token, nil); code != http.StatusNoContent {
		t.Fatalf("delete: got %d", code)
	}
	msg = read()
	if msg.Type != string(events.EventCombinationDelete) || !strings.Contains(string(msg.Data), created["id"]) {
		t.Fatalf("expected own combination.deleted frame, got %s %s", msg.Type, msg.Data)
	}
}
