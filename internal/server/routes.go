package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"
)

func addRoutes(r chi.Router, o Options) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Smokelock API", "/openapi.json", "/docs"))
	r.Get("/healthz", handleHealth(o.Logger, o.DB, o.Counter))

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", handleState(o.Engine))
		r.Get("/events", handleEvents(o.Engine))
		r.Get("/stats", handleStats(o.Store))
		r.Get("/places", handleListPlaces(o.Store))
		r.Get("/places/{id}", handleGetPlace(o.Store))

		// Mutations sit behind the API token.
		r.Group(func(r chi.Router) {
			r.Use(requireToken(o.TokenHash))
			r.Post("/lock", handleLock(o.Engine, o.DefaultCoord))
			r.Post("/unlock", handleUnlock(o.Engine))
			r.Post("/places", handleCreatePlace(o.Store))
			r.Put("/places/{id}", handleUpdatePlace(o.Store))
			r.Delete("/places/{id}", handleDeletePlace(o.Store))
			r.Post("/reset/increment/{placeID}", handleResetIncrement(o.Engine))
			r.Post("/reset/all", handleResetAll(o.Engine))
		})
	})
}
