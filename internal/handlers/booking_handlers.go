package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"flight_booking/internal/auth"
	"flight_booking/internal/booking"
	"flight_booking/internal/models"

	"github.com/go-chi/chi/v5"
)

type BookingWizard interface {
	Resume(ctx context.Context, searchID string) (*booking.State, error)
	SubmitPassengers(ctx context.Context, searchID string, forms []models.PassengerForm) (*booking.State, error)
	SubmitAncillaries(ctx context.Context, searchID string, payload json.RawMessage) (*booking.State, error)
	SubmitLuggage(ctx context.Context, searchID string, selections []models.LuggageSelection) (*booking.State, error)
	Back(ctx context.Context, searchID string) (*booking.State, error)
	Submit(ctx context.Context, searchID, paymentType string, id *auth.Identity) (*booking.State, error)
	Authenticate(ctx context.Context, searchID string, id *auth.Identity) (*booking.State, error)
}

type BookingHandler struct {
	wizard BookingWizard
	secret []byte
}

func NewBookingHandler(wizard BookingWizard, jwtSecret []byte) *BookingHandler {
	return &BookingHandler{wizard: wizard, secret: jwtSecret}
}

// GET /api/bookings/{search_id}
// 200: wizard state at the persisted step
// 404: unknown search
func (h *BookingHandler) Resume(w http.ResponseWriter, r *http.Request) {
	st, err := h.wizard.Resume(r.Context(), chi.URLParam(r, "search_id"))
	writeState(w, st, err)
}

type passengersRequest struct {
	Passengers []models.PassengerForm `json:"passengers"`
}

// POST /api/bookings/{search_id}/passengers
// 422: per-field validation errors; the forms are kept
func (h *BookingHandler) SubmitPassengers(w http.ResponseWriter, r *http.Request) {
	var req passengersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	st, err := h.wizard.SubmitPassengers(r.Context(), chi.URLParam(r, "search_id"), req.Passengers)
	writeState(w, st, err)
}

type ancillariesRequest struct {
	Ancillaries json.RawMessage `json:"ancillaries"`
}

// POST /api/bookings/{search_id}/ancillaries
func (h *BookingHandler) SubmitAncillaries(w http.ResponseWriter, r *http.Request) {
	var req ancillariesRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	st, err := h.wizard.SubmitAncillaries(r.Context(), chi.URLParam(r, "search_id"), req.Ancillaries)
	writeState(w, st, err)
}

type luggageRequest struct {
	Luggage []models.LuggageSelection `json:"luggage"`
}

// POST /api/bookings/{search_id}/luggage
// 409: the search expired or went stale; refresh required
func (h *BookingHandler) SubmitLuggage(w http.ResponseWriter, r *http.Request) {
	var req luggageRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	st, err := h.wizard.SubmitLuggage(r.Context(), chi.URLParam(r, "search_id"), req.Luggage)
	writeState(w, st, err)
}

// POST /api/bookings/{search_id}/back
func (h *BookingHandler) Back(w http.ResponseWriter, r *http.Request) {
	st, err := h.wizard.Back(r.Context(), chi.URLParam(r, "search_id"))
	writeState(w, st, err)
}

type submitRequest struct {
	PaymentType string `json:"payment_type"`
}

// POST /api/bookings/{search_id}/submit
// 200: BOOKED
// 401: no identity; the submission is pending until /authenticate
// 409: refresh required
// 502: booking declined, reason verbatim, retry allowed
func (h *BookingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	st, err := h.wizard.Submit(r.Context(), chi.URLParam(r, "search_id"), strings.TrimSpace(req.PaymentType), auth.FromContext(r.Context()))
	writeState(w, st, err)
}

type authenticateRequest struct {
	Token string `json:"token"`
}

// POST /api/bookings/{search_id}/authenticate
// The identity comes from the body token, or from the Authorization header
// when the body has none.
func (h *BookingHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	id := auth.FromContext(r.Context())
	if tok := strings.TrimSpace(req.Token); tok != "" {
		parsed, err := auth.Parse(h.secret, tok)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		id = parsed
	}
	if id == nil {
		writeError(w, http.StatusUnauthorized, "token is required")
		return
	}

	st, err := h.wizard.Authenticate(r.Context(), chi.URLParam(r, "search_id"), id)
	writeState(w, st, err)
}

func writeState(w http.ResponseWriter, st *booking.State, err error) {
	if err != nil {
		var state any
		if st != nil {
			state = st
		}
		writeServiceError(w, err, state)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
