package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/foyerhq/foyer/internal/api/v1"
	"github.com/foyerhq/foyer/internal/api/ws"
	"github.com/foyerhq/foyer/internal/store/postgres"
)

func registerAPIRoutes(api huma.API, store *postgres.Store) {
	v1.RegisterSessionRoutes(api, store)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/session", hub.ServeSession)
}
