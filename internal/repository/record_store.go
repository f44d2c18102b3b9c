package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flight_booking/internal/cache"
	"flight_booking/internal/logger"
	"flight_booking/internal/metrics"
	"flight_booking/internal/models"

	"github.com/google/uuid"
)

const (
	lookupByParams = "params"
	lookupByID     = "id"
)

// RecordStore keeps search records reachable both by the hash of their
// normalized parameters and by their opaque search id. The params key only
// holds a pointer to the id, so both keys always resolve to the same record
// body. Entries expire after the retention period, counted from CachedAt.
type RecordStore struct {
	cache     cache.Cache
	retention time.Duration
	now       func() time.Time
	newID     func() string
	log       logger.Logger
}

type StoreOption func(*RecordStore)

func WithClock(now func() time.Time) StoreOption {
	return func(s *RecordStore) { s.now = now }
}

func WithIDGenerator(gen func() string) StoreOption {
	return func(s *RecordStore) { s.newID = gen }
}

func NewRecordStore(c cache.Cache, retention time.Duration, log logger.Logger, opts ...StoreOption) *RecordStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	s := &RecordStore{
		cache:     c,
		retention: retention,
		now:       time.Now,
		newID:     uuid.NewString,
		log:       logger.OrNop(log),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save stores a fresh search result and returns its search id. Saving the
// same parameters with the same offers again keeps the search id while the
// previous booking is still open; any other save under the same parameters
// supersedes the previous record with fresh progress.
func (s *RecordStore) Save(
	ctx context.Context,
	params models.SearchParameters,
	offers []models.Offer,
	timing models.SearchTiming,
	selectedOfferID *string,
	progress *models.UserProgress,
) (string, error) {
	normalized, err := params.Normalize()
	if err != nil {
		return "", err
	}
	paramsKey, err := normalized.Key()
	if err != nil {
		return "", err
	}

	fingerprint, err := json.Marshal(offers)
	if err != nil {
		return "", fmt.Errorf("marshal offers: %w", err)
	}

	searchID := ""
	var kept *models.SearchRecord
	if prev := s.loadByParamsKey(ctx, paramsKey); prev != nil && !prev.UserProgress.BookingStatus.Terminal() {
		prevFingerprint, err := json.Marshal(prev.Offers)
		if err == nil && bytes.Equal(prevFingerprint, fingerprint) {
			searchID = prev.SearchID
			kept = prev
		}
	}
	if searchID == "" {
		searchID = s.newID()
	}
	// same offers, same search: the wizard keeps its place
	if kept != nil {
		if selectedOfferID == nil {
			selectedOfferID = kept.SelectedOfferID
		}
		if progress == nil {
			progress = &kept.UserProgress
		}
	}

	rec := &models.SearchRecord{
		SearchID:         searchID,
		SearchParameters: normalized,
		Offers:           offers,
		Timing:           timing,
		CachedAt:         s.now(),
		SelectedOfferID:  copyString(selectedOfferID),
		UserProgress: models.UserProgress{
			CurrentStep:   models.StepPassengers,
			BookingStatus: models.BookingInProgress,
		},
	}
	if progress != nil {
		rec.UserProgress = *progress
		if rec.UserProgress.CurrentStep == "" {
			rec.UserProgress.CurrentStep = models.StepPassengers
		}
	}

	if err := s.put(ctx, rec); err != nil {
		return "", err
	}
	if err := s.cache.Set(ctx, cache.SearchParamsKey(paramsKey), []byte(searchID), s.retention); err != nil {
		return "", fmt.Errorf("save params pointer: %w", err)
	}

	return searchID, nil
}

// Load returns the latest record saved for params, or nil. A nil result
// means "no cache, perform a fresh search".
func (s *RecordStore) Load(ctx context.Context, params models.SearchParameters) *models.SearchRecord {
	key, err := params.Key()
	if err != nil {
		return nil
	}
	return s.loadByParamsKey(ctx, key)
}

// LoadByID returns the record for an explicit search id, or nil.
func (s *RecordStore) LoadByID(ctx context.Context, searchID string) *models.SearchRecord {
	if searchID == "" {
		return nil
	}
	b, ok, err := s.cache.Get(ctx, cache.SearchRecordKey(searchID))
	if err != nil {
		s.log.Warn("search record lookup failed", "search_id", searchID, "error", err)
		metrics.IncRecordLookup(lookupByID, "miss")
		return nil
	}
	if !ok {
		metrics.IncRecordLookup(lookupByID, "miss")
		return nil
	}

	var rec models.SearchRecord
	if err := json.Unmarshal(b, &rec); err != nil || rec.SearchID != searchID {
		s.log.Warn("corrupted search record dropped", "search_id", searchID, "error", err)
		metrics.IncRecordLookup(lookupByID, "corrupt")
		_ = s.cache.Del(ctx, cache.SearchRecordKey(searchID))
		return nil
	}
	if s.age(&rec) >= s.retention {
		metrics.IncRecordLookup(lookupByID, "miss")
		return nil
	}

	metrics.IncRecordLookup(lookupByID, "hit")
	return &rec
}

func (s *RecordStore) UpdateSelectedOffer(ctx context.Context, params models.SearchParameters, offerID string) error {
	rec := s.Load(ctx, params)
	if rec == nil {
		return ErrNotFound
	}
	return s.setSelectedOffer(ctx, rec, offerID)
}

func (s *RecordStore) UpdateSelectedOfferByID(ctx context.Context, searchID, offerID string) error {
	rec := s.LoadByID(ctx, searchID)
	if rec == nil {
		return ErrNotFound
	}
	return s.setSelectedOffer(ctx, rec, offerID)
}

// UpdateProgress applies a partial progress update to the latest record
// saved for params.
func (s *RecordStore) UpdateProgress(ctx context.Context, params models.SearchParameters, patch models.ProgressPatch) error {
	rec := s.Load(ctx, params)
	if rec == nil {
		return ErrNotFound
	}
	rec.UserProgress.Apply(patch)
	return s.put(ctx, rec)
}

// UpdateProgressByID is UpdateProgress addressed by search id. The booking
// wizard uses it so that an explicitly resumed search is never confused
// with a newer search sharing the same parameters.
func (s *RecordStore) UpdateProgressByID(ctx context.Context, searchID string, patch models.ProgressPatch) error {
	rec := s.LoadByID(ctx, searchID)
	if rec == nil {
		return ErrNotFound
	}
	rec.UserProgress.Apply(patch)
	return s.put(ctx, rec)
}

// ReleaseParams drops the params pointer if it still points at searchID, so
// the next lookup by parameters misses. The record stays reachable by id.
func (s *RecordStore) ReleaseParams(ctx context.Context, paramsKey, searchID string) error {
	key := cache.SearchParamsKey(paramsKey)
	b, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read params pointer: %w", err)
	}
	if !ok || string(b) != searchID {
		return nil
	}
	return s.cache.Del(ctx, key)
}

func (s *RecordStore) loadByParamsKey(ctx context.Context, paramsKey string) *models.SearchRecord {
	b, ok, err := s.cache.Get(ctx, cache.SearchParamsKey(paramsKey))
	if err != nil {
		s.log.Warn("search params lookup failed", "params_key", paramsKey, "error", err)
		metrics.IncRecordLookup(lookupByParams, "miss")
		return nil
	}
	if !ok || len(b) == 0 {
		metrics.IncRecordLookup(lookupByParams, "miss")
		return nil
	}

	rec := s.LoadByID(ctx, string(b))
	if rec == nil {
		metrics.IncRecordLookup(lookupByParams, "miss")
		return nil
	}
	if key, err := rec.SearchParameters.Key(); err != nil || key != paramsKey {
		metrics.IncRecordLookup(lookupByParams, "corrupt")
		return nil
	}

	metrics.IncRecordLookup(lookupByParams, "hit")
	return rec
}

func (s *RecordStore) setSelectedOffer(ctx context.Context, rec *models.SearchRecord, offerID string) error {
	if _, ok := models.FindOffer(rec.Offers, offerID); !ok {
		return fmt.Errorf("%w: offer %s is not part of search %s", models.ErrInvalidInput, offerID, rec.SearchID)
	}
	rec.SelectedOfferID = &offerID
	return s.put(ctx, rec)
}

// put writes the record body keeping its original retention deadline.
func (s *RecordStore) put(ctx context.Context, rec *models.SearchRecord) error {
	ttl := s.retention - s.age(rec)
	if ttl <= 0 {
		return ErrNotFound
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal search record: %w", err)
	}
	if err := s.cache.Set(ctx, cache.SearchRecordKey(rec.SearchID), b, ttl); err != nil {
		return fmt.Errorf("save search record: %w", err)
	}
	return nil
}

func (s *RecordStore) age(rec *models.SearchRecord) time.Duration {
	if rec.CachedAt.IsZero() {
		return 0
	}
	return s.now().Sub(rec.CachedAt)
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
