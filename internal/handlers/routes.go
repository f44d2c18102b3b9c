package handlers

import "github.com/go-chi/chi/v5"

func RegisterSearchRoutes(r chi.Router, h *SearchHandler) {
	r.Route("/api/searches", func(r chi.Router) {
		r.Get("/", h.AutoSearch)
		r.Post("/", h.Search)
		r.Get("/{search_id}", h.View)
		r.Get("/{search_id}/status", h.Status)
		r.Get("/{search_id}/status/stream", h.WatchStatus)
		r.Put("/{search_id}/selection", h.SelectOffer)
	})
}

func RegisterBookingRoutes(r chi.Router, h *BookingHandler) {
	r.Route("/api/bookings/{search_id}", func(r chi.Router) {
		r.Get("/", h.Resume)
		r.Post("/passengers", h.SubmitPassengers)
		r.Post("/ancillaries", h.SubmitAncillaries)
		r.Post("/luggage", h.SubmitLuggage)
		r.Post("/back", h.Back)
		r.Post("/submit", h.Submit)
		r.Post("/authenticate", h.Authenticate)
	})
}
