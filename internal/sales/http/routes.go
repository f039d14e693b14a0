package saleshttp

import "github.com/go-chi/chi/v5"

// MountRoutes registers sales order endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Route("/api/sales-orders", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/items", h.handleAddItem)
		r.Patch("/{id}/items/{itemID}", h.handleUpdateItem)
		r.Delete("/{id}/items/{itemID}", h.handleRemoveItem)
		r.Post("/{id}/sync", h.handleSync)
		r.Post("/{id}/status", h.handleStatus)
	})
}
