package rpc

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter mounts the RPC endpoint and, if given, the event stream, both
// behind the same auth middleware.
// authEnabled controls whether Bearer token auth is enforced.
func NewRouter(s *Server, authEnabled bool, token string, events http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Post("/rpc", s.ServeRPC)

	if events != nil {
		r.Get("/api/events", events.ServeHTTP)
	}

	return r
}
