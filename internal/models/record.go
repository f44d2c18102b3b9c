package models

import (
	"encoding/json"
	"time"
)

type Step string

const (
	StepPassengers  Step = "PASSENGERS"
	StepAncillaries Step = "ANCILLARIES"
	StepLuggage     Step = "LUGGAGE"
	StepPayment     Step = "PAYMENT"
)

var stepOrder = []Step{StepPassengers, StepAncillaries, StepLuggage, StepPayment}

// Index returns the position of s in the wizard order, or -1.
func (s Step) Index() int {
	for i, v := range stepOrder {
		if v == s {
			return i
		}
	}
	return -1
}

func (s Step) Next() (Step, bool) {
	i := s.Index()
	if i < 0 || i == len(stepOrder)-1 {
		return s, false
	}
	return stepOrder[i+1], true
}

func (s Step) Prev() (Step, bool) {
	i := s.Index()
	if i <= 0 {
		return s, false
	}
	return stepOrder[i-1], true
}

type BookingStatus string

const (
	BookingInProgress   BookingStatus = "IN_PROGRESS"
	BookingAwaitingAuth BookingStatus = "AWAITING_AUTH"
	BookingBooked       BookingStatus = "BOOKED"
	BookingFailed       BookingStatus = "FAILED"
)

// Terminal reports whether the booking attempt of a record has finished.
func (s BookingStatus) Terminal() bool {
	return s == BookingBooked || s == BookingFailed
}

// SearchTiming is the supplier-reported timing of a search. ExpiresAt is
// authoritative when present.
type SearchTiming struct {
	SearchStartedAt *time.Time `json:"search_started_at,omitempty"`
	SupplierTimeout int64      `json:"supplier_timeout,omitempty"` // milliseconds
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
}

// HasSupplierTiming reports whether both the search start and the expiry
// were returned by the supplier.
func (t SearchTiming) HasSupplierTiming() bool {
	return t.SearchStartedAt != nil && t.ExpiresAt != nil
}

type LuggageSelection struct {
	PassengerID string `json:"passenger_id"`
	CheckedBags int    `json:"checked_bags"`
	CarryOnBags int    `json:"carry_on_bags"`
}

type PassengerForm struct {
	ID               string            `json:"id"`
	Type             string            `json:"type,omitempty"`
	Title            string            `json:"title" validate:"required"`
	GivenName        string            `json:"given_name" validate:"required"`
	FamilyName       string            `json:"family_name" validate:"required"`
	Email            string            `json:"email" validate:"required,email"`
	PhoneNumber      string            `json:"phone_number" validate:"required"`
	PhoneCountryCode string            `json:"phone_country_code" validate:"required"`
	Gender           string            `json:"gender" validate:"required"`
	BornOn           string            `json:"born_on" validate:"required,datetime=2006-01-02"`
	PassportNumber   string            `json:"passport_number,omitempty"`
	PassportCountry  string            `json:"passport_country,omitempty"`
	PassportExpiry   string            `json:"passport_expiry,omitempty"`
	Luggage          *LuggageSelection `json:"luggage,omitempty"`
}

type UserProgress struct {
	CurrentStep        Step               `json:"current_step"`
	PassengerForms     []PassengerForm    `json:"passenger_forms"`
	AncillariesPayload json.RawMessage    `json:"ancillaries_payload,omitempty"`
	LuggageSelections  []LuggageSelection `json:"luggage_selections,omitempty"`
	BookingStatus      BookingStatus      `json:"booking_status,omitempty"`
	FailureReason      string             `json:"failure_reason,omitempty"`
	BookingReference   string             `json:"booking_reference,omitempty"`
}

// ProgressPatch is a partial update of UserProgress; nil fields are left
// unchanged.
type ProgressPatch struct {
	CurrentStep        *Step
	PassengerForms     []PassengerForm
	AncillariesPayload json.RawMessage
	LuggageSelections  []LuggageSelection
	BookingStatus      *BookingStatus
	FailureReason      *string
	BookingReference   *string
}

func (p *UserProgress) Apply(patch ProgressPatch) {
	if patch.CurrentStep != nil {
		p.CurrentStep = *patch.CurrentStep
	}
	if patch.PassengerForms != nil {
		p.PassengerForms = append([]PassengerForm(nil), patch.PassengerForms...)
	}
	if patch.AncillariesPayload != nil {
		p.AncillariesPayload = append(json.RawMessage(nil), patch.AncillariesPayload...)
	}
	if patch.LuggageSelections != nil {
		p.LuggageSelections = append([]LuggageSelection(nil), patch.LuggageSelections...)
	}
	if patch.BookingStatus != nil {
		p.BookingStatus = *patch.BookingStatus
	}
	if patch.FailureReason != nil {
		p.FailureReason = *patch.FailureReason
	}
	if patch.BookingReference != nil {
		p.BookingReference = *patch.BookingReference
	}
}

type SearchRecord struct {
	SearchID         string           `json:"search_id"`
	SearchParameters SearchParameters `json:"search_parameters"`
	Offers           []Offer          `json:"offers"`
	Timing           SearchTiming     `json:"timing"`
	CachedAt         time.Time        `json:"cached_at"`
	SelectedOfferID  *string          `json:"selected_offer_id,omitempty"`
	UserProgress     UserProgress     `json:"user_progress"`
}

type PaymentDescriptor struct {
	Type     string  `json:"type"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}
