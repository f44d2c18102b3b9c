package ranking

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"flight_booking/internal/models"
)

// Filters are AND-combined; a nil or empty criterion matches everything.
type Filters struct {
	Airlines           []string
	MaxStops           *int
	MinPrice           *float64
	MaxPrice           *float64
	MinDurationHours   *float64
	MaxDurationHours   *float64
	ConnectingAirports []string
}

// ParseStops maps "nonstop", "1", "2" and "any" to a stop ceiling.
func ParseStops(v string) (*int, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "any":
		return nil, nil
	case "nonstop", "direct", "0":
		n := 0
		return &n, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: stops %q", models.ErrInvalidInput, v)
	}
	return &n, nil
}

// Stops is segments-1 summed across all slices.
func Stops(o models.Offer) int {
	n := 0
	for _, s := range o.Slices {
		if len(s.Segments) > 1 {
			n += len(s.Segments) - 1
		}
	}
	return n
}

// Duration sums the elapsed time of every slice, from the first departure
// to the last arrival.
func Duration(o models.Offer) time.Duration {
	var total time.Duration
	for _, s := range o.Slices {
		if len(s.Segments) == 0 {
			continue
		}
		first, last := s.Segments[0], s.Segments[len(s.Segments)-1]
		if d := last.ArrivingAt.Sub(first.DepartingAt); d > 0 {
			total += d
		}
	}
	return total
}

// connectingAirports lists the interior airports of every slice.
func connectingAirports(o models.Offer) []string {
	var out []string
	for _, s := range o.Slices {
		for i := 0; i < len(s.Segments)-1; i++ {
			out = append(out, s.Segments[i].Destination)
		}
	}
	return out
}

func matchFilters(p PricedOffer, f Filters, airlines, connections map[string]struct{}) bool {
	if !matchAirlineFilter(p.Offer, airlines) {
		return false
	}
	if !matchStopsFilter(p, f) {
		return false
	}
	if !matchPriceFilter(p, f) {
		return false
	}
	if !matchDurationFilter(p, f) {
		return false
	}
	return matchConnectionFilter(p.Offer, connections)
}

func matchAirlineFilter(o models.Offer, airlines map[string]struct{}) bool {
	if len(airlines) == 0 {
		return true
	}
	candidates := []string{o.Owner.IATACode, o.Owner.Name}
	for _, s := range o.Slices {
		for _, seg := range s.Segments {
			candidates = append(candidates, seg.MarketingCarrier.IATACode, seg.MarketingCarrier.Name)
		}
	}
	for _, c := range candidates {
		if _, ok := airlines[strings.ToLower(c)]; ok && c != "" {
			return true
		}
	}
	return false
}

func matchStopsFilter(p PricedOffer, f Filters) bool {
	return f.MaxStops == nil || p.Stops <= *f.MaxStops
}

func matchPriceFilter(p PricedOffer, f Filters) bool {
	if f.MinPrice != nil && p.Price.Amount < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && p.Price.Amount > *f.MaxPrice {
		return false
	}
	return true
}

func matchDurationFilter(p PricedOffer, f Filters) bool {
	hours := p.Duration.Hours()
	if f.MinDurationHours != nil && hours < *f.MinDurationHours {
		return false
	}
	if f.MaxDurationHours != nil && hours > *f.MaxDurationHours {
		return false
	}
	return true
}

func matchConnectionFilter(o models.Offer, connections map[string]struct{}) bool {
	if len(connections) == 0 {
		return true
	}
	for _, a := range connectingAirports(o) {
		if _, ok := connections[strings.ToLower(a)]; ok {
			return true
		}
	}
	return false
}

func normalizeSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		value := strings.ToLower(strings.TrimSpace(v))
		if value == "" {
			continue
		}
		set[value] = struct{}{}
	}
	return set
}
