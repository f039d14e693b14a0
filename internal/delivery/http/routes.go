package deliveryhttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// MountRoutes registers delivery endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Route("/api/delivery-orders", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/export.xlsx", h.handleExport)
		r.Patch("/items/{itemID}", h.handleAdjustItem)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/start", h.handleStart)
		r.Post("/{id}/cancel", h.handleCancel)
		r.Post("/{id}/complete", h.handleComplete)
		r.Post("/{id}/collection", h.handleCollection)
	})
	r.Group(func(gr chi.Router) {
		gr.Use(httprate.Limit(60, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			}),
		))
		gr.Post("/api/mobile/sync", h.handleMobileSync)
	})
}
