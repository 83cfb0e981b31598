// Package server implements the HTTP server and routing logic.
package server

import (
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	"github.com/nb-music/server/internal/docstore"
	"github.com/nb-music/server/internal/server/dto"
	"github.com/nb-music/server/internal/server/handlers"
	"github.com/nb-music/server/internal/server/ipgeo"
	"github.com/nb-music/server/internal/server/ratelimit"
	"github.com/nb-music/server/internal/storage"
)

// Config holds the server wide settings.
type Config struct {
	ServerConfig *storage.ServerConfig
	Version      string
	// IPGeo resolves client countries. Nil disables the lookup.
	IPGeo *ipgeo.Checker
	// AllowedOrigins lists the CORS origins. Empty allows every origin.
	AllowedOrigins []string
}

// Router is the HTTP handler of the API. Close it to stop the rate limiter
// janitors.
type Router struct {
	http.Handler
	limiters *ratelimit.Limiters
}

// Close releases the rate limiters.
func (rt *Router) Close() {
	rt.limiters.Close()
}

// NewRouter creates and configures the HTTP router.
// Serves API endpoints at /v1/* and Prometheus metrics at /metrics.
func NewRouter(svc *handlers.Services, cfg *Config, store *docstore.Store) *Router {
	hcfg := &handlers.Config{
		JWTSecret: cfg.ServerConfig.JWTSecret,
		Version:   cfg.Version,
		Quotas:    cfg.ServerConfig.Quotas,
	}
	limiters := ratelimit.NewLimiters(cfg.ServerConfig.RateLimits)
	d := &deps{svc: svc, cfg: hcfg, limiters: limiters, geo: cfg.IPGeo}
	mux := &http.ServeMux{}

	hh := handlers.NewHealthHandler(cfg.Version, svc.History)
	ah := handlers.NewAuthHandler(svc, hcfg)
	mh := handlers.NewMappingHandler(svc, hcfg)
	ph := handlers.NewPlaylistHandler(svc)
	plh := handlers.NewPlayHandler(svc)

	// Health check
	mux.Handle("GET /v1/health", Wrap(hh.Health, d))

	// Auth
	mux.Handle("POST /v1/auth/login", Wrap(ah.Login, d))
	mux.Handle("POST /v1/auth/logout", WrapAuth(ah.Logout, d))
	mux.Handle("GET /v1/auth/me", WrapAuth(ah.Me, d))

	// Mappings
	mux.Handle("GET /v1/mappings", Wrap(mh.ListMappings, d))
	mux.Handle("POST /v1/mappings", WrapAuth(mh.CreateMapping, d))
	mux.Handle("DELETE /v1/mappings/{id}", WrapAuth(mh.DeleteMapping, d))

	// Playlists
	mux.Handle("GET /v1/playlists", WrapAuth(ph.ListPlaylists, d))
	mux.Handle("POST /v1/playlists", WrapAuth(ph.CreatePlaylist, d))
	mux.Handle("PUT /v1/playlists/{id}/songs", WrapAuth(ph.UpdatePlaylistSongs, d))

	// Plays
	mux.Handle("POST /v1/play/record", WrapAuth(plh.RecordPlay, d))

	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		metrics.WritePrometheus(w, true)
		if store != nil {
			store.Metrics().WritePrometheus(w)
		}
	})

	mux.HandleFunc("/v1/", func(w http.ResponseWriter, r *http.Request) {
		writeError(r.Context(), w, r, dto.NotFound("Endpoint"))
	})

	return &Router{Handler: withCORS(mux, cfg.AllowedOrigins), limiters: limiters}
}
