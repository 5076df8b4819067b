package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smokelock/smokelock/internal/engine"
	"github.com/smokelock/smokelock/internal/geo"
)

// LockRequest optionally carries the caller's current coordinate. An
// empty body means no location fix.
type LockRequest struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

func handleLock(eng *engine.Engine, fallback *geo.Coord) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LockRequest
		if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		loc := fallback
		if req.Lat != nil && req.Lon != nil {
			loc = &geo.Coord{Lat: *req.Lat, Lon: *req.Lon}
		}

		res, err := eng.Lock(r.Context(), loc)
		if errors.Is(err, engine.ErrAlreadyLocked) {
			writeError(w, http.StatusConflict, "already locked")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleUnlock(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := eng.Unlock(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
	}
}

func handleResetIncrement(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		placeID := chi.URLParam(r, "placeID")
		if placeID == "" {
			writeError(w, http.StatusBadRequest, "place id required")
			return
		}
		if err := eng.ResetIncrement(r.Context(), placeID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

func handleResetAll(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := eng.ResetEverything(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}
