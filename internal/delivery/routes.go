// Package delivery records deliveries, returns and reworks against issued
// purchase orders and drives the order through its delivery statuses.
package delivery

import "github.com/go-chi/chi/v5"

// MountRoutes wires delivery routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.Record)
	r.Get("/{id}", h.Show)
	r.Post("/{id}/ship", h.Ship)
	r.Post("/{id}/receive", h.Receive)
	r.Post("/{id}/cancel", h.Cancel)
	r.Post("/{id}/returns", h.Return)
	r.Post("/{id}/reworks", h.Rework)
	r.Get("/orders/{orderID}/receipts", h.Receipts)
}
