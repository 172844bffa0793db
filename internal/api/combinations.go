/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/notincredibox/internal/auth"
	"github.com/friendsincode/notincredibox/internal/combinations"
)

type combinationSaveRequest struct {
	Name string `json:"name"`
	// Sounds defaults to the mixer's current assignments when omitted.
	Sounds []string `json:"sounds"`
}

func (a *API) handleCombinationsList(w http.ResponseWriter, r *http.Request) {
	list, err := a.combinations.List(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleCombinationsSave(w http.ResponseWriter, r *http.Request) {
	var req combinationSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	c := combinations.Combination{Name: req.Name, Sounds: req.Sounds}
	if len(c.Sounds) == 0 {
		c = a.mixer.Snapshot(req.Name)
	}

	id, err := a.combinations.Save(r.Context(), auth.UserIDFromContext(r.Context()), c)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) handleCombinationsDelete(w http.ResponseWriter, r *http.Request) {
	err := a.combinations.Delete(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "combinationID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCombinationsLoad(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := a.combinations.Get(ctx, auth.UserIDFromContext(ctx), chi.URLParam(r, "combinationID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.mixer.Apply(ctx, c); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.mixerState())
}
