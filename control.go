package offlinegateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ControlPrefix is where the control routes are mounted by Handler.
const ControlPrefix = "/.gateway"

// maximum push payload accepted by the control routes
const maxPushPayload = 64 << 10

type storesReport struct {
	Version string   `json:"version"`
	State   string   `json:"state"`
	Stores  []string `json:"stores"`
}

// Handler returns the gateway together with its control routes.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Mount(ControlPrefix, g.ControlRouter())
	r.Handle("/*", g)
	return r
}

// ControlRouter exposes the lifecycle signals that do not come with a page request:
// background sync, push messages and notification clicks.
func (g *Gateway) ControlRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/sync/{tag}", func(w http.ResponseWriter, r *http.Request) {
		tag := chi.URLParam(r, "tag")
		g.detach(r.Context(), "gateway.sync_request", func(ctx context.Context) {
			g.Sync(ctx, tag)
		})
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, "Syncing "+tag+"...")
	})

	r.Post("/push", func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPushPayload))
		if err != nil {
			http.Error(w, "Could not read payload", http.StatusBadRequest)
			return
		}
		if err := g.Push(r.Context(), payload); err != nil {
			g.log.Error().Err(err).Msg("Could not show notification")
			http.Error(w, "Could not show notification", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	r.Post("/notificationclick", func(w http.ResponseWriter, r *http.Request) {
		if err := g.NotificationClick(r.Context()); err != nil {
			g.log.Error().Err(err).Msg("Could not handle notification click")
			http.Error(w, "Could not handle notification click", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/stores", func(w http.ResponseWriter, r *http.Request) {
		stores, err := g.cache.Stores()
		if err != nil {
			g.log.Error().Err(err).Msg("Could not list stores")
			http.Error(w, "Could not list stores", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(storesReport{
			Version: g.version,
			State:   g.State().String(),
			Stores:  stores,
		})
	})

	return r
}
