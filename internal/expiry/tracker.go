package expiry

import (
	"context"
	"time"

	"flight_booking/internal/models"
)

type Freshness string

const (
	Fresh      Freshness = "FRESH"
	NearExpiry Freshness = "NEAR_EXPIRY"
	Expired    Freshness = "EXPIRED"
)

// Policy holds the freshness thresholds. BookingBuffer is the hard cutoff
// before an offer's expiry past which it can no longer be selected or booked.
type Policy struct {
	StaleAfter    time.Duration
	NearExpiry    time.Duration
	BookingBuffer time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		StaleAfter:    30 * time.Minute,
		NearExpiry:    2 * time.Minute,
		BookingBuffer: 5 * time.Minute,
	}
}

// Status is the derived freshness of one search record at CheckedAt.
type Status struct {
	SearchID           string     `json:"search_id"`
	Freshness          Freshness  `json:"freshness"`
	Stale              bool       `json:"stale"`
	RemainingMs        int64      `json:"remaining_ms"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	RefreshRecommended bool       `json:"refresh_recommended"`
	CheckedAt          time.Time  `json:"checked_at"`
}

// BlockingReason returns the reason a payment must be refused, or "" when
// the record may still be paid for.
func (s Status) BlockingReason() string {
	switch {
	case s.Freshness == Expired:
		return models.ExpiredReason
	case s.Stale:
		return models.StaleReason
	default:
		return ""
	}
}

type Tracker struct {
	policy Policy
	now    func() time.Time
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(policy Policy, opts ...Option) *Tracker {
	def := DefaultPolicy()
	if policy.StaleAfter <= 0 {
		policy.StaleAfter = def.StaleAfter
	}
	if policy.NearExpiry <= 0 {
		policy.NearExpiry = def.NearExpiry
	}
	if policy.BookingBuffer < 0 {
		policy.BookingBuffer = def.BookingBuffer
	}
	t := &Tracker{policy: policy, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) Policy() Policy { return t.policy }

func (t *Tracker) Now() time.Time { return t.now() }

// TimeRemaining is the time left until the supplier expiry. It is zero when
// the expiry is unknown or has passed.
func (t *Tracker) TimeRemaining(rec *models.SearchRecord) time.Duration {
	if rec == nil || rec.Timing.ExpiresAt == nil {
		return 0
	}
	d := rec.Timing.ExpiresAt.Sub(t.now())
	if d < 0 {
		return 0
	}
	return d
}

func (t *Tracker) IsExpired(rec *models.SearchRecord) bool {
	if rec == nil || rec.Timing.ExpiresAt == nil {
		return false
	}
	return !t.now().Before(*rec.Timing.ExpiresAt)
}

// IsStale reports the heuristic staleness signal. When the supplier returned
// both the search start and the expiry, staleness follows that timing only
// and the record age is ignored.
func (t *Tracker) IsStale(rec *models.SearchRecord) bool {
	if rec == nil {
		return true
	}
	if rec.Timing.HasSupplierTiming() {
		return t.IsExpired(rec)
	}
	if rec.CachedAt.IsZero() {
		return true
	}
	return t.now().Sub(rec.CachedAt) > t.policy.StaleAfter
}

func (t *Tracker) Freshness(rec *models.SearchRecord) Freshness {
	if rec == nil || rec.Timing.ExpiresAt == nil {
		return Fresh
	}
	remaining := rec.Timing.ExpiresAt.Sub(t.now())
	switch {
	case remaining <= 0:
		return Expired
	case remaining < t.policy.NearExpiry:
		return NearExpiry
	default:
		return Fresh
	}
}

func (t *Tracker) Status(rec *models.SearchRecord) Status {
	st := Status{
		Freshness:   t.Freshness(rec),
		Stale:       t.IsStale(rec),
		RemainingMs: t.TimeRemaining(rec).Milliseconds(),
		CheckedAt:   t.now(),
	}
	if rec != nil {
		st.SearchID = rec.SearchID
		st.ExpiresAt = rec.Timing.ExpiresAt
	}
	st.RefreshRecommended = st.Freshness == NearExpiry || (st.Stale && st.Freshness != Expired)
	return st
}

// OfferExpiry is the effective expiry of an offer: the earlier of its own
// expiry and the record's, or nil when neither is known.
func (t *Tracker) OfferExpiry(rec *models.SearchRecord, offer models.Offer) *time.Time {
	var recExp *time.Time
	if rec != nil {
		recExp = rec.Timing.ExpiresAt
	}
	switch {
	case offer.ExpiresAt == nil:
		return recExp
	case recExp == nil || offer.ExpiresAt.Before(*recExp):
		return offer.ExpiresAt
	default:
		return recExp
	}
}

func (t *Tracker) IsOfferExpired(rec *models.SearchRecord, offer models.Offer) bool {
	exp := t.OfferExpiry(rec, offer)
	return exp != nil && !t.now().Before(*exp)
}

// IsOfferBookable reports whether the offer is still outside the booking
// buffer. Offers without any known expiry are bookable.
func (t *Tracker) IsOfferBookable(rec *models.SearchRecord, offer models.Offer) bool {
	exp := t.OfferExpiry(rec, offer)
	if exp == nil {
		return true
	}
	return exp.Add(-t.policy.BookingBuffer).After(t.now())
}

// Watch recomputes the status of rec every interval and sends it on the
// returned channel until ctx is done. Slow readers miss ticks; the next
// status supersedes the skipped one.
func (t *Tracker) Watch(ctx context.Context, rec *models.SearchRecord, interval time.Duration) <-chan Status {
	if interval <= 0 {
		interval = time.Second
	}
	out := make(chan Status, 1)

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case out <- t.Status(rec):
			case <-ctx.Done():
				return
			default:
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}
