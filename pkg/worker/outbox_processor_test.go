package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medpraxis/admin-api/internal/model"
	"github.com/medpraxis/admin-api/pkg/logger"
	"github.com/medpraxis/admin-api/pkg/metrics"
)

// Shared across tests: the collectors register once per process.
var testMetrics = metrics.NewMetrics("medpraxis_worker_test")

type fakeOutboxRepo struct {
	pending  []*model.OutboxEvent
	statuses map[uuid.UUID]model.OutboxStatus
	errors   map[uuid.UUID]string
}

func newFakeOutboxRepo(events ...*model.OutboxEvent) *fakeOutboxRepo {
	return &fakeOutboxRepo{
		pending:  events,
		statuses: make(map[uuid.UUID]model.OutboxStatus),
		errors:   make(map[uuid.UUID]string),
	}
}

func (r *fakeOutboxRepo) Create(_ context.Context, event *model.OutboxEvent) error {
	r.pending = append(r.pending, event)
	return nil
}

// ClaimPendingEvents drains the pending slice, mirroring the atomic claim:
// a second call never sees the same events.
func (r *fakeOutboxRepo) ClaimPendingEvents(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	if limit > len(r.pending) {
		limit = len(r.pending)
	}
	claimed := r.pending[:limit]
	r.pending = r.pending[limit:]
	for _, event := range claimed {
		event.Status = string(model.OutboxStatusProcessing)
		r.statuses[event.ID] = model.OutboxStatusProcessing
	}
	return claimed, nil
}

func (r *fakeOutboxRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error {
	r.statuses[id] = status
	if errMsg != nil {
		r.errors[id] = *errMsg
	}
	return nil
}

type fakeBroker struct {
	published []string
	fail      bool
}

func (b *fakeBroker) Publish(_ context.Context, channel string, _ interface{}) error {
	if b.fail {
		return errors.New("broker unavailable")
	}
	b.published = append(b.published, channel)
	return nil
}

func (b *fakeBroker) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, nil
}

func (b *fakeBroker) Close() error { return nil }

func newTestProcessor(repo *fakeOutboxRepo, broker *fakeBroker) *OutboxProcessor {
	return NewOutboxProcessor(repo, broker, OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	}, logger.NewLogger(nil), testMetrics)
}

func pendingEvent(eventType string) *model.OutboxEvent {
	return &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   json.RawMessage(`{}`),
		Status:    string(model.OutboxStatusPending),
		CreatedAt: time.Now(),
	}
}

func TestProcessEventsPublishesAndMarksProcessed(t *testing.T) {
	event := pendingEvent(model.EventDoctorCreated)
	repo := newFakeOutboxRepo(event)
	broker := &fakeBroker{}
	p := newTestProcessor(repo, broker)

	require.NoError(t, p.processEvents(context.Background()))

	assert.Equal(t, []string{model.EventDoctorCreated}, broker.published)
	assert.Equal(t, model.OutboxStatusProcessed, repo.statuses[event.ID])
}

func TestProcessEventsDeliversEachEventOnce(t *testing.T) {
	event := pendingEvent(model.EventDoctorCreated)
	repo := newFakeOutboxRepo(event)
	broker := &fakeBroker{}
	p := newTestProcessor(repo, broker)

	require.NoError(t, p.processEvents(context.Background()))
	require.NoError(t, p.processEvents(context.Background()))

	assert.Equal(t, []string{model.EventDoctorCreated}, broker.published)
}

func TestProcessEventsMarksFailedAfterRetries(t *testing.T) {
	event := pendingEvent(model.EventDoctorDeactivated)
	repo := newFakeOutboxRepo(event)
	broker := &fakeBroker{fail: true}
	p := newTestProcessor(repo, broker)

	require.NoError(t, p.processEvents(context.Background()))

	assert.Empty(t, broker.published)
	assert.Equal(t, model.OutboxStatusFailed, repo.statuses[event.ID])
	assert.Equal(t, "broker unavailable", repo.errors[event.ID])
}
