package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/smokelock/smokelock/internal/smokelock"
	"github.com/smokelock/smokelock/internal/store"
)

func handleListPlaces(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		places, err := s.ListPlaces(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if places == nil {
			places = []smokelock.Place{}
		}
		writeJSON(w, http.StatusOK, places)
	}
}

func handleGetPlace(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.GetPlace(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "place not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleCreatePlace(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p smokelock.Place
		if err := readJSON(r, &p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if msg := validatePlace(p); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		if err := s.SavePlace(r.Context(), p); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func handleUpdatePlace(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p smokelock.Place
		if err := readJSON(r, &p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		p.ID = chi.URLParam(r, "id")
		if msg := validatePlace(p); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		if _, err := s.GetPlace(r.Context(), p.ID); errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "place not found")
			return
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if err := s.SavePlace(r.Context(), p); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleDeletePlace(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == smokelock.DefaultPlaceID {
			writeError(w, http.StatusBadRequest, "the default place cannot be deleted")
			return
		}
		err := s.DeletePlace(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "place not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func validatePlace(p smokelock.Place) string {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return "id is required"
	case p.ID == smokelock.DefaultPlaceID:
		return "the default place is implicit and cannot be configured"
	case strings.Contains(p.ID, "_"):
		return "id must not contain underscores"
	case p.RadiusMeters <= 0:
		return "radiusMeters must be positive"
	case p.BaseDurationMinutes <= 0:
		return "baseDurationMinutes must be positive"
	case p.IncrementStepSeconds < 0:
		return "incrementStepSeconds must not be negative"
	}
	return ""
}
