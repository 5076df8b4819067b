// Package server exposes the daemon's local HTTP API: lock state and
// transitions, place management, statistics, and an SSE stream of state
// changes for the UI glue.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/smokelock/smokelock/internal/counter"
	"github.com/smokelock/smokelock/internal/engine"
	"github.com/smokelock/smokelock/internal/geo"
	"github.com/smokelock/smokelock/internal/store"
)

// Options carries the server's collaborators.
type Options struct {
	Logger  *slog.Logger
	Engine  *engine.Engine
	Store   *store.Store
	DB      *sql.DB
	Counter *counter.Client

	// Bcrypt hash of the bearer token guarding mutating endpoints.
	// Empty disables auth.
	TokenHash string

	// Fallback coordinate for lock requests without one. Nil means
	// such requests resolve to the default place.
	DefaultCoord *geo.Coord
}

type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

func New(addr string, opts Options) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newStructuredLogger(opts.Logger))
	r.Use(middleware.Recoverer)

	addRoutes(r, opts)

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: opts.Logger,
	}
}

func (s *Server) Run(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func newStructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
