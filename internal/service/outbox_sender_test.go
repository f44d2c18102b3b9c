package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"flight_booking/internal/logger"
	"flight_booking/internal/models"

	"go.uber.org/zap/zaptest"
)

type fakeOutbox struct {
	mu      sync.Mutex
	pending []*models.OutboxMessage
	sent    []string
	failed  map[string]string
	cleaned int
}

func (f *fakeOutbox) GetPendingMessages(_ context.Context, limit int) ([]*models.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeOutbox) MarkAsSent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeOutbox) MarkAsFailed(_ context.Context, id, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = map[string]string{}
	}
	f.failed[id] = msg
	return nil
}

func (f *fakeOutbox) CleanupOldMessages(_ context.Context, days int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = days
	return 2, nil
}

type sentMessage struct {
	topic, key string
	payload    []byte
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sentMessage
	fail map[string]bool
}

func (f *fakeSender) SendRaw(_ context.Context, topic, key string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[key] {
		return errors.New("broker unavailable")
	}
	f.msgs = append(f.msgs, sentMessage{topic: topic, key: key, payload: payload})
	return nil
}

func outboxMsg(id, key string) *models.OutboxMessage {
	return &models.OutboxMessage{
		MessageID: id,
		Topic:     "booking-events",
		Key:       key,
		Payload:   []byte(`{"search_id":"` + key + `","status":"BOOKED"}`),
		CreatedAt: time.Now().Add(-time.Second),
	}
}

func TestOutboxSender_FlushSendsAndMarks(t *testing.T) {
	repo := &fakeOutbox{pending: []*models.OutboxMessage{outboxMsg("m1", "s1"), outboxMsg("m2", "s2")}}
	prod := &fakeSender{fail: map[string]bool{"s2": true}}
	s := NewOutboxSender(repo, prod, time.Second, 10, 7, 3, logger.FromZap(zaptest.NewLogger(t)))

	s.flushOnce(context.Background())

	if len(prod.msgs) != 1 || prod.msgs[0].key != "s1" || prod.msgs[0].topic != "booking-events" {
		t.Fatalf("unexpected sends: %+v", prod.msgs)
	}
	if len(repo.sent) != 1 || repo.sent[0] != "m1" {
		t.Fatalf("expected m1 marked sent, got %v", repo.sent)
	}
	if repo.failed["m2"] != "broker unavailable" {
		t.Fatalf("expected m2 marked failed, got %v", repo.failed)
	}
}

func TestOutboxSender_RejectsEmptyPayload(t *testing.T) {
	m := outboxMsg("m1", "s1")
	m.Payload = nil
	repo := &fakeOutbox{pending: []*models.OutboxMessage{m}}
	prod := &fakeSender{}
	s := NewOutboxSender(repo, prod, time.Second, 10, 0, 3, nil)

	s.flushOnce(context.Background())

	if len(prod.msgs) != 0 {
		t.Fatalf("nothing should be sent")
	}
	if _, ok := repo.failed["m1"]; !ok {
		t.Fatalf("empty payload should be marked failed")
	}
}

func TestOutboxSender_Cleanup(t *testing.T) {
	repo := &fakeOutbox{}
	s := NewOutboxSender(repo, &fakeSender{}, time.Second, 10, 0, 3, nil)
	s.cleanupOnce(context.Background())
	if repo.cleaned != 0 {
		t.Fatalf("retention 0 disables cleanup")
	}

	s = NewOutboxSender(repo, &fakeSender{}, time.Second, 10, 7, 3, nil)
	s.cleanupOnce(context.Background())
	if repo.cleaned != 7 {
		t.Fatalf("expected cleanup with 7 days, got %d", repo.cleaned)
	}
}

func TestOutboxSender_StartStopsOnCancel(t *testing.T) {
	repo := &fakeOutbox{pending: []*models.OutboxMessage{outboxMsg("m1", "s1")}}
	prod := &fakeSender{}
	s := NewOutboxSender(repo, prod, 10*time.Millisecond, 10, 0, 3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		prod.mu.Lock()
		n := len(prod.msgs)
		prod.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sender never flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
}
