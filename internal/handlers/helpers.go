package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"flight_booking/internal/booking"
	"flight_booking/internal/dedup"
	"flight_booking/internal/models"
	"flight_booking/internal/ranking"
	"flight_booking/internal/repository"
	"flight_booking/internal/service"
)

const sessionHeader = "X-Session-ID"

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("only one JSON object is allowed")
	}

	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError maps domain errors to HTTP responses. state, when not
// nil, is echoed back so the client keeps what the user entered.
func writeServiceError(w http.ResponseWriter, err error, state any) {
	body := map[string]any{"error": err.Error()}
	if state != nil {
		body["state"] = state
	}

	var (
		ve *models.ValidationError
		ee *models.ExpirationError
		se *models.SupplierError
	)
	switch {
	case errors.As(err, &ve):
		body["error"] = "validation failed"
		body["fields"] = ve.Fields
		writeJSON(w, http.StatusUnprocessableEntity, body)
	case errors.As(err, &ee):
		body["refresh_required"] = true
		body["reason"] = ee.Reason
		writeJSON(w, http.StatusConflict, body)
	case errors.Is(err, ranking.ErrAllOffersExpired):
		body["refresh_required"] = true
		body["reason"] = models.ExpiredReason
		writeJSON(w, http.StatusConflict, body)
	case errors.Is(err, models.ErrAuthenticationRequired):
		body["pending_submission"] = true
		writeJSON(w, http.StatusUnauthorized, body)
	case errors.As(err, &se):
		body["error"] = se.Reason
		body["retryable"] = true
		writeJSON(w, http.StatusBadGateway, body)
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, body)
	case errors.Is(err, models.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, body)
	case errors.Is(err, service.ErrSearchSuperseded):
		body["superseded"] = true
		writeJSON(w, http.StatusConflict, body)
	case errors.Is(err, service.ErrSearchInProgress):
		body["in_progress"] = true
		writeJSON(w, http.StatusConflict, body)
	case errors.Is(err, service.ErrSearchBooked),
		errors.Is(err, booking.ErrWrongStep),
		errors.Is(err, booking.ErrAlreadyBooked),
		errors.Is(err, booking.ErrNoOfferSelected),
		errors.Is(err, booking.ErrNoPendingSubmission):
		writeJSON(w, http.StatusConflict, body)
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{models.ErrInvalidInput}, args...)...)
}

// parseQuery reads the view options of a results page. display_currency
// wins over currency, which is also a search parameter.
func parseQuery(r *http.Request) (ranking.Query, error) {
	v := r.URL.Query()
	q := ranking.Query{
		Currency: strings.TrimSpace(v.Get("display_currency")),
	}
	if q.Currency == "" {
		q.Currency = strings.TrimSpace(v.Get("currency"))
	}
	if q.Currency != "" {
		c, err := models.NormalizeCurrency(q.Currency)
		if err != nil {
			return q, err
		}
		q.Currency = c
	}

	var err error
	if q.Sort, err = ranking.ParseSortMode(v.Get("sort")); err != nil {
		return q, err
	}
	if q.Filters.MaxStops, err = ranking.ParseStops(v.Get("stops")); err != nil {
		return q, err
	}
	q.Filters.Airlines = splitCSV(v.Get("airlines"))
	q.Filters.ConnectingAirports = splitCSV(v.Get("connections"))

	for _, f := range []struct {
		name string
		dst  **float64
	}{
		{"min_price", &q.Filters.MinPrice},
		{"max_price", &q.Filters.MaxPrice},
		{"min_duration", &q.Filters.MinDurationHours},
		{"max_duration", &q.Filters.MaxDurationHours},
	} {
		if *f.dst, err = optionalFloat(v.Get(f.name)); err != nil {
			return q, invalid("%s: %v", f.name, err)
		}
	}
	return q, nil
}

// parseNavigation reads the search id or the explicit search parameters of
// a results page URL. Without origin and destination Params stays nil.
func parseNavigation(r *http.Request) (nav dedup.Navigation, err error) {
	v := r.URL.Query()
	nav.SearchID = strings.TrimSpace(v.Get("searchId"))
	if nav.SearchID == "" {
		nav.SearchID = strings.TrimSpace(v.Get("search_id"))
	}

	if v.Get("origin") == "" && v.Get("destination") == "" {
		return nav, nil
	}

	p := models.SearchParameters{
		Origin:        v.Get("origin"),
		Destination:   v.Get("destination"),
		DepartureDate: v.Get("departure_date"),
		ReturnDate:    v.Get("return_date"),
		CabinClass:    v.Get("cabin_class"),
		Currency:      v.Get("currency"),
	}
	counts := []struct {
		name string
		dst  *int
	}{
		{"adults", &p.Passengers.Adults},
		{"children", &p.Passengers.Children},
		{"infants_in_seat", &p.Passengers.InfantsInSeat},
		{"infants_on_lap", &p.Passengers.InfantsOnLap},
	}
	for _, c := range counts {
		if *c.dst, err = optionalInt(v.Get(c.name)); err != nil {
			return nav, invalid("%s: %v", c.name, err)
		}
	}
	// passengers is the total when no breakdown is given
	if p.Passengers.Total() == 0 {
		if p.Passengers.Adults, err = optionalInt(v.Get("passengers")); err != nil {
			return nav, invalid("passengers: %v", err)
		}
	}
	if raw := v.Get("max_connections"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nav, invalid("max_connections: %v", err)
		}
		p.MaxConnections = &n
	}

	nav.Params = &p
	return nav, nil
}

func optionalFloat(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func optionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
