package booking

import (
	"flight_booking/internal/expiry"
	"flight_booking/internal/models"
)

// Phase is what the client should show for a search: the wizard step and
// booking status folded together with the freshness of the record.
type Phase string

const (
	PhaseCollecting      Phase = "COLLECTING"
	PhaseReadyToPay      Phase = "READY_TO_PAY"
	PhaseRefreshRequired Phase = "REFRESH_REQUIRED"
	PhaseAwaitingAuth    Phase = "AWAITING_AUTH"
	PhaseBooked          Phase = "BOOKED"
	PhaseFailed          Phase = "FAILED"
)

// ResolvePhase combines progress and freshness. Expiry only matters once the
// wizard has reached PAYMENT; a booked search stays booked.
func ResolvePhase(p models.UserProgress, st expiry.Status) Phase {
	if p.BookingStatus == models.BookingBooked {
		return PhaseBooked
	}
	if p.CurrentStep != models.StepPayment {
		return PhaseCollecting
	}
	if st.BlockingReason() != "" {
		return PhaseRefreshRequired
	}
	switch p.BookingStatus {
	case models.BookingAwaitingAuth:
		return PhaseAwaitingAuth
	case models.BookingFailed:
		return PhaseFailed
	default:
		return PhaseReadyToPay
	}
}

type State struct {
	SearchID        string              `json:"search_id"`
	Phase           Phase               `json:"phase"`
	Progress        models.UserProgress `json:"user_progress"`
	SelectedOfferID *string             `json:"selected_offer_id,omitempty"`
	Freshness       expiry.Status       `json:"freshness"`
}
