/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/notincredibox/internal/mixer"
)

type mixerResponse struct {
	Slots  []mixer.SlotState `json:"slots"`
	Phase  string            `json:"phase,omitempty"`
	Ticks  uint64            `json:"ticks"`
	LoopMS int64             `json:"loop_ms,omitempty"`
}

type slotAssignRequest struct {
	SoundID string `json:"sound_id"`
}

func (a *API) mixerState() mixerResponse {
	resp := mixerResponse{Slots: a.mixer.Slots()}
	if a.beat != nil {
		resp.Phase = a.beat.Phase().String()
		resp.Ticks = a.beat.Ticks()
		resp.LoopMS = a.beat.LoopDuration().Milliseconds()
	}
	return resp
}

func (a *API) handleMixerGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.mixerState())
}

func (a *API) handleSlotAssign(w http.ResponseWriter, r *http.Request) {
	var req slotAssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.SoundID = strings.TrimSpace(req.SoundID)
	if req.SoundID == "" {
		writeError(w, http.StatusBadRequest, "sound_id_required")
		return
	}

	if err := a.mixer.Assign(r.Context(), chi.URLParam(r, "slotID"), req.SoundID); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.mixerState())
}

func (a *API) handleSlotClear(w http.ResponseWriter, r *http.Request) {
	if err := a.mixer.Clear(chi.URLParam(r, "slotID")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.mixerState())
}

func (a *API) handleMixerReset(w http.ResponseWriter, r *http.Request) {
	a.mixer.Reset()
	writeJSON(w, http.StatusOK, a.mixerState())
}
