package server

import (
	"net/http"
	"time"

	"github.com/smokelock/smokelock/internal/analytics"
	"github.com/smokelock/smokelock/internal/store"
)

func handleStats(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := s.ListEvents(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, analytics.Compute(events, time.Now(), time.Local))
	}
}
