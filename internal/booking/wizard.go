package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"flight_booking/internal/auth"
	"flight_booking/internal/expiry"
	"flight_booking/internal/logger"
	"flight_booking/internal/metrics"
	"flight_booking/internal/models"
	"flight_booking/internal/repository"
)

var (
	ErrWrongStep           = errors.New("booking wizard is not at this step")
	ErrAlreadyBooked       = errors.New("search is already booked")
	ErrNoOfferSelected     = errors.New("no offer selected")
	ErrNoPendingSubmission = errors.New("no pending submission")
)

const (
	defaultPaymentType = "balance"
	pendingTTL         = 30 * time.Minute
	lockStripes        = 64
)

// Request is the single atomic call made to the booking collaborator.
type Request struct {
	SearchID    string
	OfferID     string
	Passengers  []models.PassengerForm
	Luggage     []models.LuggageSelection
	Ancillaries json.RawMessage
	Payment     models.PaymentDescriptor
	Identity    auth.Identity
}

type Confirmation struct {
	BookingReference string
}

// Booker books an offer and takes the payment. A *models.SupplierError
// carries the reason shown to the user.
type Booker interface {
	Book(ctx context.Context, req Request) (Confirmation, error)
}

// OutcomeRecorder journals terminal booking outcomes.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome *models.BookingOutcome) error
}

type Store interface {
	LoadByID(ctx context.Context, searchID string) *models.SearchRecord
	UpdateProgressByID(ctx context.Context, searchID string, patch models.ProgressPatch) error
	ReleaseParams(ctx context.Context, paramsKey, searchID string) error
}

type pendingSubmission struct {
	payment   models.PaymentDescriptor
	createdAt time.Time
}

// Wizard drives PASSENGERS -> ANCILLARIES -> LUGGAGE -> PAYMENT for one
// search record and persists every transition into the record.
type Wizard struct {
	store     Store
	tracker   *expiry.Tracker
	booker    Booker
	recorder  OutcomeRecorder
	validator *Validator
	log       logger.Logger

	locks [lockStripes]sync.Mutex

	mu      sync.Mutex
	pending map[string]pendingSubmission
}

type Option func(*Wizard)

func WithRecorder(r OutcomeRecorder) Option {
	return func(w *Wizard) { w.recorder = r }
}

func NewWizard(store Store, tracker *expiry.Tracker, booker Booker, log logger.Logger, opts ...Option) *Wizard {
	w := &Wizard{
		store:     store,
		tracker:   tracker,
		booker:    booker,
		validator: NewValidator(),
		log:       logger.OrNop(log),
		pending:   make(map[string]pendingSubmission),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Resume returns the persisted wizard state of a search.
func (w *Wizard) Resume(ctx context.Context, searchID string) (*State, error) {
	defer w.lock(searchID)()

	rec, err := w.load(ctx, searchID)
	if err != nil {
		return nil, err
	}
	return w.state(rec), nil
}

// SubmitPassengers validates the forms and moves to ANCILLARIES. The forms
// are persisted even when validation fails.
func (w *Wizard) SubmitPassengers(ctx context.Context, searchID string, forms []models.PassengerForm) (*State, error) {
	defer w.lock(searchID)()

	rec, err := w.load(ctx, searchID)
	if err != nil {
		return nil, err
	}
	if err := editable(rec, models.StepPassengers); err != nil {
		return w.state(rec), err
	}
	if forms == nil {
		forms = []models.PassengerForm{}
	}

	offer, hasOffer := selectedOffer(rec)
	if hasOffer {
		fillPassengerIDs(forms, offer.Passengers)
	}

	fieldErrs := w.validator.Passengers(forms)
	switch {
	case len(forms) == 0:
		fieldErrs = append(fieldErrs, models.FieldError{Passenger: -1, Field: "passengers", Reason: reason("required")})
	case hasOffer && len(offer.Passengers) > 0 && len(forms) != len(offer.Passengers):
		fieldErrs = append(fieldErrs, models.FieldError{Passenger: -1, Field: "passengers", Reason: reason("count")})
	}
	if len(fieldErrs) > 0 {
		if err := w.persist(ctx, rec, models.ProgressPatch{PassengerForms: forms}); err != nil {
			return nil, err
		}
		return w.state(rec), &models.ValidationError{Fields: fieldErrs}
	}

	return w.advance(ctx, rec, models.ProgressPatch{PassengerForms: forms})
}

// SubmitAncillaries stores the opaque ancillaries payload and moves to
// LUGGAGE.
func (w *Wizard) SubmitAncillaries(ctx context.Context, searchID string, payload json.RawMessage) (*State, error) {
	defer w.lock(searchID)()

	rec, err := w.load(ctx, searchID)
	if err != nil {
		return nil, err
	}
	if err := editable(rec, models.StepAncillaries); err != nil {
		return w.state(rec), err
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return w.state(rec), &models.ValidationError{Fields: []models.FieldError{
			{Passenger: -1, Field: "ancillaries", Reason: "must be valid JSON"},
		}}
	}

	return w.advance(ctx, rec, models.ProgressPatch{AncillariesPayload: payload})
}

// SubmitLuggage stores the luggage choices and enters PAYMENT, unless the
// record is expired or stale or the selected offer is inside the booking
// buffer.
func (w *Wizard) SubmitLuggage(ctx context.Context, searchID string, selections []models.LuggageSelection) (*State, error) {
	defer w.lock(searchID)()

	rec, err := w.load(ctx, searchID)
	if err != nil {
		return nil, err
	}
	if err := editable(rec, models.StepLuggage); err != nil {
		return w.state(rec), err
	}
	if selections == nil {
		selections = []models.LuggageSelection{}
	}

	forms := append([]models.PassengerForm(nil), rec.UserProgress.PassengerForms...)
	index := make(map[string]int, len(forms))
	for i, f := range forms {
		index[f.ID] = i
	}

	var fieldErrs []models.FieldError
	for i, s := range selections {
		if s.CheckedBags < 0 || s.CarryOnBags < 0 {
			fieldErrs = append(fieldErrs, models.FieldError{Passenger: i, Field: "luggage", Reason: reason("min")})
		}
		if _, ok := index[s.PassengerID]; !ok {
			fieldErrs = append(fieldErrs, models.FieldError{Passenger: i, Field: "passenger_id", Reason: reason("unknown")})
		}
	}
	if len(fieldErrs) > 0 {
		if err := w.persist(ctx, rec, models.ProgressPatch{LuggageSelections: selections}); err != nil {
			return nil, err
		}
		return w.state(rec), &models.ValidationError{Fields: fieldErrs}
	}

	for _, s := range selections {
		sel := s
		forms[index[s.PassengerID]].Luggage = &sel
	}
	patch := models.ProgressPatch{LuggageSelections: selections, PassengerForms: forms}

	if reason := w.paymentBlock(rec); reason != "" {
		if err := w.persist(ctx, rec, patch); err != nil {
			return nil, err
		}
		return w.state(rec), &models.ExpirationError{SearchID: rec.SearchID, Reason: reason}
	}

	return w.advance(ctx, rec, patch)
}

// Back moves one step back without validation. It is a no-op on the first
// step and cancels any pending submission.
func (w *Wizard) Back(ctx context.Context, searchID string) (*State, error) {
	defer w.lock(searchID)()

	rec, err := w.load(ctx, searchID)
	if err != nil {
		return nil, err
	}
	if rec.UserProgress.BookingStatus == models.BookingBooked {
		return w.state(rec), ErrAlreadyBooked
	}
	prev, ok := rec.UserProgress.CurrentStep.Prev()
	if !ok {
		return w.state(rec), nil
	}

	w.takePending(searchID)
	status := models.BookingInProgress
	empty := ""
	patch := models.ProgressPatch{CurrentStep: &prev, BookingStatus: &status, FailureReason: &empty}
	if err := w.persist(ctx, rec, patch); err != nil {
		return nil, err
	}
	metrics.IncBookingTransition(string(prev), "back")
	return w.state(rec), nil
}

// Submit books the selected offer. Without an identity the submission is
// parked and ErrAuthenticationRequired is returned; Authenticate resumes it.
func (w *Wizard) Submit(ctx context.Context, searchID, paymentType string, id *auth.Identity) (*State, error) {
	defer w.lock(searchID)()

	rec, err := w.load(ctx, searchID)
	if err != nil {
		return nil, err
	}
	if err := editable(rec, models.StepPayment); err != nil {
		return w.state(rec), err
	}
	offer, err := w.bookableOffer(rec)
	if err != nil {
		return w.state(rec), err
	}

	if paymentType == "" {
		paymentType = defaultPaymentType
	}
	payment := models.PaymentDescriptor{Type: paymentType, Amount: offer.TotalAmount, Currency: offer.TotalCurrency}

	if id == nil {
		w.setPending(searchID, payment)
		status := models.BookingAwaitingAuth
		if err := w.persist(ctx, rec, models.ProgressPatch{BookingStatus: &status}); err != nil {
			return nil, err
		}
		return w.state(rec), models.ErrAuthenticationRequired
	}

	w.takePending(searchID)
	return w.book(ctx, rec, offer, payment, id)
}

// Authenticate resumes the submission parked by Submit. The continuation is
// single-shot: once the record is loaded it is consumed whether or not the
// booking succeeds.
func (w *Wizard) Authenticate(ctx context.Context, searchID string, id *auth.Identity) (*State, error) {
	if id == nil {
		return nil, models.ErrAuthenticationRequired
	}
	defer w.lock(searchID)()

	rec, err := w.load(ctx, searchID)
	if err != nil {
		return nil, err
	}
	p, ok := w.takePending(searchID)
	if !ok {
		return nil, ErrNoPendingSubmission
	}
	if rec.UserProgress.CurrentStep != models.StepPayment {
		return w.state(rec), ErrWrongStep
	}

	offer, err := w.bookableOffer(rec)
	if err != nil {
		status := models.BookingInProgress
		if perr := w.persist(ctx, rec, models.ProgressPatch{BookingStatus: &status}); perr != nil {
			return nil, perr
		}
		return w.state(rec), err
	}
	return w.book(ctx, rec, offer, p.payment, id)
}

func (w *Wizard) book(
	ctx context.Context,
	rec *models.SearchRecord,
	offer models.Offer,
	payment models.PaymentDescriptor,
	id *auth.Identity,
) (*State, error) {
	conf, err := w.booker.Book(ctx, Request{
		SearchID:    rec.SearchID,
		OfferID:     offer.ID,
		Passengers:  rec.UserProgress.PassengerForms,
		Luggage:     rec.UserProgress.LuggageSelections,
		Ancillaries: rec.UserProgress.AncillariesPayload,
		Payment:     payment,
		Identity:    *id,
	})

	step := models.StepPayment
	if err != nil {
		var supErr *models.SupplierError
		if !errors.As(err, &supErr) {
			supErr = &models.SupplierError{Supplier: "booking", Reason: err.Error(), Err: err}
		}
		status := models.BookingFailed
		patch := models.ProgressPatch{CurrentStep: &step, BookingStatus: &status, FailureReason: &supErr.Reason}
		if perr := w.persist(ctx, rec, patch); perr != nil {
			w.log.Error("persist failed booking", "search_id", rec.SearchID, "error", perr)
		}
		w.journal(ctx, rec, offer, payment, id, status, "", supErr.Reason)
		metrics.IncBookingOutcome(string(status))
		w.log.Warn("booking failed", "search_id", rec.SearchID, "offer_id", offer.ID, "reason", supErr.Reason)
		return w.state(rec), supErr
	}

	status := models.BookingBooked
	empty := ""
	patch := models.ProgressPatch{
		CurrentStep:      &step,
		BookingStatus:    &status,
		FailureReason:    &empty,
		BookingReference: &conf.BookingReference,
	}
	if err := w.persist(ctx, rec, patch); err != nil {
		w.log.Error("persist booked search", "search_id", rec.SearchID, "booking_reference", conf.BookingReference, "error", err)
	}
	w.release(ctx, rec)
	w.journal(ctx, rec, offer, payment, id, status, conf.BookingReference, "")
	metrics.IncBookingOutcome(string(status))
	w.log.Info("booking confirmed", "search_id", rec.SearchID, "offer_id", offer.ID, "booking_reference", conf.BookingReference)
	return w.state(rec), nil
}

// release detaches a booked record from its parameters so the next
// navigation with them searches fresh.
func (w *Wizard) release(ctx context.Context, rec *models.SearchRecord) {
	paramsKey, err := rec.SearchParameters.Key()
	if err == nil {
		err = w.store.ReleaseParams(ctx, paramsKey, rec.SearchID)
	}
	if err != nil {
		w.log.Warn("release booked search params", "search_id", rec.SearchID, "error", err)
	}
}

func (w *Wizard) journal(
	ctx context.Context,
	rec *models.SearchRecord,
	offer models.Offer,
	payment models.PaymentDescriptor,
	id *auth.Identity,
	status models.BookingStatus,
	reference, failure string,
) {
	if w.recorder == nil {
		return
	}
	paramsKey, _ := rec.SearchParameters.Key()
	err := w.recorder.RecordOutcome(ctx, &models.BookingOutcome{
		SearchID:         rec.SearchID,
		ParamsKey:        paramsKey,
		OfferID:          offer.ID,
		UserID:           id.UserID,
		Status:           status,
		BookingReference: reference,
		FailureReason:    failure,
		Amount:           payment.Amount,
		Currency:         payment.Currency,
		CreatedAt:        w.tracker.Now(),
	})
	if err != nil {
		w.log.Warn("journal booking outcome", "search_id", rec.SearchID, "status", status, "error", err)
	}
}

// advance persists patch together with the next step.
func (w *Wizard) advance(ctx context.Context, rec *models.SearchRecord, patch models.ProgressPatch) (*State, error) {
	from := rec.UserProgress.CurrentStep
	next, _ := from.Next()
	patch.CurrentStep = &next
	if err := w.persist(ctx, rec, patch); err != nil {
		return nil, err
	}
	metrics.IncBookingTransition(string(from), "forward")
	return w.state(rec), nil
}

func (w *Wizard) persist(ctx context.Context, rec *models.SearchRecord, patch models.ProgressPatch) error {
	if err := w.store.UpdateProgressByID(ctx, rec.SearchID, patch); err != nil {
		return fmt.Errorf("persist progress of %s: %w", rec.SearchID, err)
	}
	rec.UserProgress.Apply(patch)
	return nil
}

func (w *Wizard) load(ctx context.Context, searchID string) (*models.SearchRecord, error) {
	rec := w.store.LoadByID(ctx, searchID)
	if rec == nil {
		return nil, fmt.Errorf("search %s: %w", searchID, repository.ErrNotFound)
	}
	if rec.UserProgress.CurrentStep == "" {
		rec.UserProgress.CurrentStep = models.StepPassengers
	}
	if rec.UserProgress.BookingStatus == "" {
		rec.UserProgress.BookingStatus = models.BookingInProgress
	}
	return rec, nil
}

func (w *Wizard) state(rec *models.SearchRecord) *State {
	st := w.tracker.Status(rec)
	return &State{
		SearchID:        rec.SearchID,
		Phase:           ResolvePhase(rec.UserProgress, st),
		Progress:        rec.UserProgress,
		SelectedOfferID: rec.SelectedOfferID,
		Freshness:       st,
	}
}

// paymentBlock returns why the record cannot be paid for, or "".
func (w *Wizard) paymentBlock(rec *models.SearchRecord) string {
	if r := w.tracker.Status(rec).BlockingReason(); r != "" {
		return r
	}
	if offer, ok := selectedOffer(rec); ok && !w.tracker.IsOfferBookable(rec, offer) {
		return models.ExpiringReason
	}
	return ""
}

func (w *Wizard) bookableOffer(rec *models.SearchRecord) (models.Offer, error) {
	if r := w.tracker.Status(rec).BlockingReason(); r != "" {
		return models.Offer{}, &models.ExpirationError{SearchID: rec.SearchID, Reason: r}
	}
	offer, ok := selectedOffer(rec)
	if !ok {
		return models.Offer{}, ErrNoOfferSelected
	}
	if !w.tracker.IsOfferBookable(rec, offer) {
		return models.Offer{}, &models.ExpirationError{SearchID: rec.SearchID, Reason: models.ExpiringReason}
	}
	return offer, nil
}

func (w *Wizard) setPending(searchID string, payment models.PaymentDescriptor) {
	now := w.tracker.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, p := range w.pending {
		if now.Sub(p.createdAt) > pendingTTL {
			delete(w.pending, id)
		}
	}
	w.pending[searchID] = pendingSubmission{payment: payment, createdAt: now}
}

func (w *Wizard) takePending(searchID string) (pendingSubmission, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pending[searchID]
	delete(w.pending, searchID)
	return p, ok
}

func (w *Wizard) lock(searchID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(searchID))
	m := &w.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

func editable(rec *models.SearchRecord, step models.Step) error {
	if rec.UserProgress.BookingStatus == models.BookingBooked {
		return ErrAlreadyBooked
	}
	if rec.UserProgress.CurrentStep != step {
		return fmt.Errorf("%w: at %s, not %s", ErrWrongStep, rec.UserProgress.CurrentStep, step)
	}
	return nil
}

func selectedOffer(rec *models.SearchRecord) (models.Offer, bool) {
	if rec.SelectedOfferID == nil {
		return models.Offer{}, false
	}
	return models.FindOffer(rec.Offers, *rec.SelectedOfferID)
}

// fillPassengerIDs assigns the offer's passenger ids to forms that were
// submitted without one, in order.
func fillPassengerIDs(forms []models.PassengerForm, passengers []models.OfferPassenger) {
	for i := range forms {
		if i >= len(passengers) {
			return
		}
		if forms[i].ID == "" {
			forms[i].ID = passengers[i].ID
		}
		if forms[i].Type == "" {
			forms[i].Type = passengers[i].Type
		}
	}
}
