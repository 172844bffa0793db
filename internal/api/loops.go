/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/notincredibox/internal/storage"
)

var loopContentTypes = map[string]string{
	".ogg": "audio/ogg",
	".wav": "audio/wav",
	".mp3": "audio/mpeg",
}

// handleLoop streams a loop asset for browser clients.
func (a *API) handleLoop(w http.ResponseWriter, r *http.Request) {
	if a.loops == nil {
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable")
		return
	}

	key := "loops/" + chi.URLParam(r, "*")
	rc, err := a.loops.Open(r.Context(), key)
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidKey):
		writeError(w, http.StatusNotFound, "loop_not_found")
		return
	case err != nil:
		a.logger.Error().Err(err).Str("key", key).Msg("open loop failed")
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable")
		return
	}
	defer rc.Close()

	ct, ok := loopContentTypes[strings.ToLower(path.Ext(key))]
	if !ok {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		a.logger.Debug().Err(err).Str("key", key).Msg("loop stream interrupted")
	}
}
