package expiry

import (
	"context"
	"testing"
	"time"

	"flight_booking/internal/models"
)

var base = time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	v := base.Add(d)
	return &v
}

func trackerAt(now time.Time) *Tracker {
	return NewTracker(DefaultPolicy(), WithClock(func() time.Time { return now }))
}

func TestExpiredRecordHasNoTimeRemaining(t *testing.T) {
	rec := &models.SearchRecord{
		CachedAt: base.Add(-time.Minute),
		Timing:   models.SearchTiming{ExpiresAt: at(-time.Second)},
	}
	tr := trackerAt(base)

	if !tr.IsExpired(rec) {
		t.Fatalf("expected expired")
	}
	if got := tr.TimeRemaining(rec); got != 0 {
		t.Fatalf("expected 0 remaining, got %v", got)
	}
	if got := tr.Freshness(rec); got != Expired {
		t.Fatalf("expected EXPIRED, got %s", got)
	}
}

func TestTimeRemainingUnknownExpiry(t *testing.T) {
	tr := trackerAt(base)
	rec := &models.SearchRecord{CachedAt: base}
	if got := tr.TimeRemaining(rec); got != 0 {
		t.Fatalf("expected 0 for unknown expiry, got %v", got)
	}
	if tr.IsExpired(rec) {
		t.Fatalf("unknown expiry is not expired")
	}
	if got := tr.TimeRemaining(nil); got != 0 {
		t.Fatalf("expected 0 for nil record, got %v", got)
	}
}

func TestFreshnessStates(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn time.Duration
		want      Freshness
	}{
		{"fresh", 10 * time.Minute, Fresh},
		{"exactly two minutes", 2 * time.Minute, Fresh},
		{"near expiry", 119 * time.Second, NearExpiry},
		{"at expiry", 0, Expired},
		{"past expiry", -time.Hour, Expired},
	}
	tr := trackerAt(base)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &models.SearchRecord{CachedAt: base, Timing: models.SearchTiming{ExpiresAt: at(tt.expiresIn)}}
			if got := tr.Freshness(rec); got != tt.want {
				t.Fatalf("got %s want %s", got, tt.want)
			}
		})
	}
}

func TestStaleWithoutTimingDependsOnlyOnAge(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want bool
	}{
		{0, false},
		{29 * time.Minute, false},
		{30 * time.Minute, false},
		{30*time.Minute + time.Second, true},
		{5 * time.Hour, true},
	}
	tr := trackerAt(base)
	for _, tt := range tests {
		rec := &models.SearchRecord{CachedAt: base.Add(-tt.age)}
		if got := tr.IsStale(rec); got != tt.want {
			t.Fatalf("age %v: got stale=%v want %v", tt.age, got, tt.want)
		}
	}
}

func TestSupplierTimingOverridesAgeHeuristic(t *testing.T) {
	tr := trackerAt(base)
	// cached two hours ago, but the supplier keeps the offers for another hour
	rec := &models.SearchRecord{
		CachedAt: base.Add(-2 * time.Hour),
		Timing: models.SearchTiming{
			SearchStartedAt: at(-2 * time.Hour),
			ExpiresAt:       at(time.Hour),
		},
	}
	if tr.IsStale(rec) {
		t.Fatalf("long supplier ttl must not be flagged stale")
	}

	rec.Timing.ExpiresAt = at(-time.Second)
	if !tr.IsStale(rec) {
		t.Fatalf("supplier expiry passed, record should be stale")
	}

	// only an expiry, no start: the age heuristic still applies
	rec.Timing.SearchStartedAt = nil
	rec.Timing.ExpiresAt = at(time.Hour)
	if !tr.IsStale(rec) {
		t.Fatalf("without full supplier timing the age heuristic applies")
	}
}

func TestStatusRefreshRecommended(t *testing.T) {
	tr := trackerAt(base)
	rec := &models.SearchRecord{
		SearchID: "s1",
		CachedAt: base,
		Timing:   models.SearchTiming{SearchStartedAt: at(0), ExpiresAt: at(90 * time.Second)},
	}
	st := tr.Status(rec)
	if st.Freshness != NearExpiry || !st.RefreshRecommended {
		t.Fatalf("expected near-expiry refresh notice, got %+v", st)
	}
	if st.RemainingMs != 90000 {
		t.Fatalf("expected 90000ms remaining, got %d", st.RemainingMs)
	}
	if st.BlockingReason() != "" {
		t.Fatalf("near expiry must not block, got %q", st.BlockingReason())
	}

	rec.Timing.ExpiresAt = at(-time.Second)
	st = tr.Status(rec)
	if st.BlockingReason() != models.ExpiredReason {
		t.Fatalf("expected expired reason, got %q", st.BlockingReason())
	}

	stale := &models.SearchRecord{CachedAt: base.Add(-time.Hour)}
	if got := tr.Status(stale).BlockingReason(); got != models.StaleReason {
		t.Fatalf("expected stale reason, got %q", got)
	}
}

// JFK-CDG O1 expires 30 minutes after the search; 31 minutes later it is
// expired and no longer bookable.
func TestOfferExpiryAfterThirtyOneMinutes(t *testing.T) {
	rec := &models.SearchRecord{
		CachedAt: base,
		Timing:   models.SearchTiming{SearchStartedAt: at(0), ExpiresAt: at(30 * time.Minute)},
		Offers:   []models.Offer{{ID: "O1", TotalAmount: 450, TotalCurrency: "USD"}},
	}
	o1 := rec.Offers[0]

	if tr := trackerAt(base); !tr.IsOfferBookable(rec, o1) || tr.IsOfferExpired(rec, o1) {
		t.Fatalf("O1 should be bookable right after the search")
	}

	later := trackerAt(base.Add(31 * time.Minute))
	if !later.IsOfferExpired(rec, o1) {
		t.Fatalf("O1 should be expired after 31 minutes")
	}
	if later.IsOfferBookable(rec, o1) {
		t.Fatalf("O1 must not be bookable after 31 minutes")
	}
}

func TestBookingBuffer(t *testing.T) {
	rec := &models.SearchRecord{CachedAt: base}
	offer := models.Offer{ID: "O1", ExpiresAt: at(4 * time.Minute)}
	tr := trackerAt(base)

	if tr.IsOfferExpired(rec, offer) {
		t.Fatalf("offer has not literally expired")
	}
	if tr.IsOfferBookable(rec, offer) {
		t.Fatalf("offer inside the 5 minute buffer must not be bookable")
	}
	if !tr.IsOfferBookable(rec, models.Offer{ID: "O2"}) {
		t.Fatalf("offer without expiry should be bookable")
	}
}

func TestOfferExpiryNeverLaterThanRecord(t *testing.T) {
	tr := trackerAt(base)
	rec := &models.SearchRecord{Timing: models.SearchTiming{ExpiresAt: at(10 * time.Minute)}}

	got := tr.OfferExpiry(rec, models.Offer{ExpiresAt: at(time.Hour)})
	if got == nil || !got.Equal(base.Add(10*time.Minute)) {
		t.Fatalf("expected record expiry, got %v", got)
	}
	got = tr.OfferExpiry(rec, models.Offer{ExpiresAt: at(time.Minute)})
	if got == nil || !got.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected offer expiry, got %v", got)
	}
}

func TestWatchEmitsUntilCancelled(t *testing.T) {
	tr := NewTracker(DefaultPolicy())
	exp := time.Now().Add(time.Hour)
	rec := &models.SearchRecord{CachedAt: time.Now(), Timing: models.SearchTiming{ExpiresAt: &exp}}

	ctx, cancel := context.WithCancel(context.Background())
	ch := tr.Watch(ctx, rec, 10*time.Millisecond)

	for i := 0; i < 2; i++ {
		select {
		case st := <-ch:
			if st.Freshness != Fresh || st.RemainingMs <= 0 {
				t.Fatalf("unexpected status %+v", st)
			}
		case <-time.After(time.Second):
			t.Fatalf("no status received")
		}
	}

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("watch channel not closed after cancel")
		}
	}
}
