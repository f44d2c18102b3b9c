package models

import "time"

type Airline struct {
	Name     string `json:"name"`
	IATACode string `json:"iata_code"`
}

type Segment struct {
	ID               string    `json:"id"`
	Origin           string    `json:"origin"`
	Destination      string    `json:"destination"`
	DepartingAt      time.Time `json:"departing_at"`
	ArrivingAt       time.Time `json:"arriving_at"`
	MarketingCarrier Airline   `json:"marketing_carrier"`
	FlightNumber     string    `json:"flight_number"`
}

// Slice is one direction of travel.
type Slice struct {
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	Segments    []Segment `json:"segments"`
}

// Condition is a change or refund rule. Allowed and the penalty are
// independently optional.
type Condition struct {
	Allowed         *bool    `json:"allowed,omitempty"`
	PenaltyAmount   *float64 `json:"penalty_amount,omitempty"`
	PenaltyCurrency string   `json:"penalty_currency,omitempty"`
}

type Conditions struct {
	ChangeBeforeDeparture *Condition `json:"change_before_departure,omitempty"`
	RefundBeforeDeparture *Condition `json:"refund_before_departure,omitempty"`
}

type OfferPassenger struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type Offer struct {
	ID            string           `json:"id"`
	Owner         Airline          `json:"owner"`
	TotalAmount   float64          `json:"total_amount"`
	TotalCurrency string           `json:"total_currency"`
	BaseAmount    *float64         `json:"base_amount,omitempty"`
	BaseCurrency  string           `json:"base_currency,omitempty"`
	Conditions    Conditions       `json:"conditions"`
	Slices        []Slice          `json:"slices"`
	Passengers    []OfferPassenger `json:"passengers"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
}

// PenaltyCurrencies lists the currencies used by the offer's change and
// refund penalties, without duplicates.
func (o Offer) PenaltyCurrencies() []string {
	var out []string
	for _, c := range []*Condition{o.Conditions.ChangeBeforeDeparture, o.Conditions.RefundBeforeDeparture} {
		if c == nil || c.PenaltyAmount == nil || c.PenaltyCurrency == "" {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == c.PenaltyCurrency {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c.PenaltyCurrency)
		}
	}
	return out
}

func FindOffer(offers []Offer, id string) (Offer, bool) {
	for _, o := range offers {
		if o.ID == id {
			return o, true
		}
	}
	return Offer{}, false
}

// SearchResult is what the search collaborator returns for one request.
type SearchResult struct {
	Offers []Offer      `json:"offers"`
	Timing SearchTiming `json:"timing"`
}
