package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/smokelock/smokelock/internal/analytics"
	"github.com/smokelock/smokelock/internal/engine"
	"github.com/smokelock/smokelock/internal/smokelock"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Smokelock API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Local control API for the smokelock daemon.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Reports sqlite and remote counter reachability. Only a sqlite failure is unhealthy.")
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// GET /api/state
	getState, _ := r.NewOperationContext(http.MethodGet, "/api/state")
	getState.SetSummary("Current lock state")
	getState.SetDescription("Returns the lock state with remaining time; expired locks self-heal on read.")
	getState.AddRespStructure(engine.State{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getState)

	// POST /api/lock
	postLock, _ := r.NewOperationContext(http.MethodPost, "/api/lock")
	postLock.SetSummary("Start a lock")
	postLock.SetDescription("Resolves the place from the optional coordinate and starts the timer. Requires Bearer token.")
	postLock.AddReqStructure(LockRequest{})
	postLock.AddRespStructure(engine.LockResult{}, openapi.WithHTTPStatus(http.StatusOK))
	postLock.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	postLock.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(postLock)

	// POST /api/unlock
	postUnlock, _ := r.NewOperationContext(http.MethodPost, "/api/unlock")
	postUnlock.SetSummary("Unlock")
	postUnlock.SetDescription("Clears the lock. Idempotent. Requires Bearer token.")
	postUnlock.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK))
	postUnlock.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(postUnlock)

	// GET /api/events
	getEvents, _ := r.NewOperationContext(http.MethodGet, "/api/events")
	getEvents.SetSummary("SSE state stream")
	getEvents.SetDescription("Server-Sent Events stream of lock state changes.")
	getEvents.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	_ = r.AddOperation(getEvents)

	// GET /api/places
	listPlaces, _ := r.NewOperationContext(http.MethodGet, "/api/places")
	listPlaces.SetSummary("List places")
	listPlaces.SetDescription("Configured places in resolution order. The default place is implicit and not listed.")
	listPlaces.AddRespStructure([]smokelock.Place{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(listPlaces)

	// POST /api/places
	createPlace, _ := r.NewOperationContext(http.MethodPost, "/api/places")
	createPlace.SetSummary("Create place")
	createPlace.SetDescription("Appends a place to the resolution list. Requires Bearer token.")
	createPlace.AddReqStructure(smokelock.Place{})
	createPlace.AddRespStructure(smokelock.Place{}, openapi.WithHTTPStatus(http.StatusCreated))
	createPlace.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	createPlace.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(createPlace)

	// GET /api/places/{id}
	getPlace, _ := r.NewOperationContext(http.MethodGet, "/api/places/{id}")
	getPlace.SetSummary("Get place")
	getPlace.AddRespStructure(smokelock.Place{}, openapi.WithHTTPStatus(http.StatusOK))
	getPlace.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getPlace)

	// PUT /api/places/{id}
	updatePlace, _ := r.NewOperationContext(http.MethodPut, "/api/places/{id}")
	updatePlace.SetSummary("Update place")
	updatePlace.SetDescription("Updates a place in place, keeping its resolution position. Requires Bearer token.")
	updatePlace.AddReqStructure(smokelock.Place{})
	updatePlace.AddRespStructure(smokelock.Place{}, openapi.WithHTTPStatus(http.StatusOK))
	updatePlace.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	updatePlace.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	updatePlace.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(updatePlace)

	// DELETE /api/places/{id}
	deletePlace, _ := r.NewOperationContext(http.MethodDelete, "/api/places/{id}")
	deletePlace.SetSummary("Delete place")
	deletePlace.SetDescription("Removes a place. The default place cannot be deleted. Requires Bearer token.")
	deletePlace.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK))
	deletePlace.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	deletePlace.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	deletePlace.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(deletePlace)

	// GET /api/stats
	getStats, _ := r.NewOperationContext(http.MethodGet, "/api/stats")
	getStats.SetSummary("Smoking statistics")
	getStats.SetDescription("Aggregates the event log: totals, gaps, hour/weekday buckets, per-place counts.")
	getStats.AddRespStructure(analytics.Stats{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getStats)

	// POST /api/reset/increment/{placeID}
	resetIncrement, _ := r.NewOperationContext(http.MethodPost, "/api/reset/increment/{placeID}")
	resetIncrement.SetSummary("Reset a place's increment")
	resetIncrement.SetDescription("Zeroes the place's lock counter locally and remotely. Requires Bearer token.")
	resetIncrement.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK))
	resetIncrement.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(resetIncrement)

	// POST /api/reset/all
	resetAll, _ := r.NewOperationContext(http.MethodPost, "/api/reset/all")
	resetAll.SetSummary("Reset everything")
	resetAll.SetDescription("Returns to first-run state: unlocked, all increments cleared. The event log is kept. Requires Bearer token.")
	resetAll.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK))
	resetAll.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(resetAll)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
