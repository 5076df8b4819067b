package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/smokelock/smokelock/internal/counter"
)

// HealthResult is the status of one dependency check.
type HealthResult struct {
	Status string `json:"status"`
}

// HealthResponse maps check name to result.
type HealthResponse map[string]HealthResult

func handleHealth(logger *slog.Logger, db *sql.DB, client *counter.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := HealthResponse{
			"sqlite":  {Status: "ok"},
			"counter": {Status: "ok"},
		}
		status := http.StatusOK

		if err := db.PingContext(ctx); err != nil {
			logger.Error("health check failed", "name", "sqlite", "error", err)
			checks["sqlite"] = HealthResult{Status: "error"}
			status = http.StatusServiceUnavailable
		}

		// The remote counter is best effort everywhere else too, so an
		// unreachable counter is reported but doesn't fail health.
		if err := client.Ping(ctx); err != nil {
			logger.Warn("health check failed", "name", "counter", "error", err)
			checks["counter"] = HealthResult{Status: "error"}
		}

		writeJSON(w, status, checks)
	}
}
