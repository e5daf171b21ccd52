package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the action endpoint for GET and POST. /exec mirrors
// /api for clients built against the original deployment URL. The given
// middlewares must include middleware.Params.
func RegisterRoutes(r chi.Router, handler *Handler, middlewares ...func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(middlewares...)
		for _, path := range []string{"/api", "/exec"} {
			r.Get(path, handler.ServeHTTP)
			r.Post(path, handler.ServeHTTP)
		}
	})
}
