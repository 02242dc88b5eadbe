package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/newtab-sections/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes. stream may be nil when the
// websocket feed is disabled.
func (h *Handler) SetupRoutes(stream http.Handler, rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.Health).Methods("GET")

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()

	// Section and action endpoints (rate limited)
	rateLimitedAPI := api.PathPrefix("").Subrouter()
	rateLimitedAPI.Use(RateLimitMiddleware(rateLimiter))

	rateLimitedAPI.HandleFunc("/sections", h.ListSections).Methods("GET")
	rateLimitedAPI.HandleFunc("/sections/{id}", h.GetSection).Methods("GET")
	rateLimitedAPI.HandleFunc("/sections/{id}/enable", h.EnableSection).Methods("POST")
	rateLimitedAPI.HandleFunc("/sections/{id}/disable", h.DisableSection).Methods("POST")
	rateLimitedAPI.HandleFunc("/actions/{name}", h.DispatchAction).Methods("POST")

	// New tab feed (not rate limited - long lived)
	if stream != nil {
		api.Handle("/newtab/ws", stream).Methods("GET")
	}

	r.Use(loggingMiddleware)
	r.Use(corsMiddleware)

	return r
}
