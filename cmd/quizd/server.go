package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/quizloop/quizloop/internal/config"
	"github.com/quizloop/quizloop/internal/gateway"
	"github.com/quizloop/quizloop/internal/identity"
	"github.com/quizloop/quizloop/internal/room"
)

func setupServer(cfg *config.Config, handler *gateway.Handler, manager *gateway.ConnectionManager, registry *room.Registry, source *config.Source, bans *identity.BanList) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws/{roomID}", handler.ServeWS)
	setupHealthCheck(mux)
	setupStats(mux, manager, registry)
	setupAdmin(mux, source, bans)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: h2c.NewHandler(c.Handler(mux), &http2.Server{}),
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}

func setupStats(mux *http.ServeMux, manager *gateway.ConnectionManager, registry *room.Registry) {
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"rooms":            registry.RoomCount(),
			"room_connections": manager.Stats(),
		})
	})
}

// setupAdmin exposes the operator hooks: the maintenance flag and the
// moderation ban feed.
func setupAdmin(mux *http.ServeMux, source *config.Source, bans *identity.BanList) {
	mux.HandleFunc("POST /admin/maintenance", func(w http.ResponseWriter, r *http.Request) {
		on := r.URL.Query().Get("on") == "true"
		source.SetMaintenance(on)
		log.Info().Bool("on", on).Msg("maintenance mode updated")
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /admin/ban", func(w http.ResponseWriter, r *http.Request) {
		accountID := r.URL.Query().Get("account_id")
		if accountID == "" {
			http.Error(w, "missing account_id", http.StatusBadRequest)
			return
		}
		banned := r.URL.Query().Get("lift") != "true"
		bans.SetBanned(accountID, banned)
		log.Info().Str("account_id", accountID).Bool("banned", banned).Msg("ban list updated")
		w.WriteHeader(http.StatusNoContent)
	})
}
