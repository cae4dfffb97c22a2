package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Makar0n1/art-automation/config"
	"github.com/Makar0n1/art-automation/internal/queue"
	"github.com/Makar0n1/art-automation/internal/queue/streams"
	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/models"
)

type fakeJobStore struct {
	mu         sync.Mutex
	jobs       map[string]models.Job
	principals map[string]models.Principal
	getJobErr  error
}

func (f *fakeJobStore) AppendJobLog(ctx context.Context, id string, entry models.LogEntry) error { return nil }
func (f *fakeJobStore) UpdateJobFields(ctx context.Context, id string, fields store.JobFields) error {
	return nil
}

func (f *fakeJobStore) GetJob(ctx context.Context, ownerID, id string) (models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getJobErr != nil {
		return models.Job{}, f.getJobErr
	}
	job, ok := f.jobs[id]
	if !ok {
		return models.Job{}, models.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobStore) GetPrincipalByID(ctx context.Context, id string) (models.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.principals[id]
	if !ok {
		return models.Principal{}, errors.New("principal not found")
	}
	return p, nil
}

type fakeConsumer struct {
	mu      sync.Mutex
	acked   []string
	claimed []streams.Message
}

func (f *fakeConsumer) Read(ctx context.Context, stream string, opts ...streams.ConsumerOption) ([]streams.Message, error) {
	return nil, nil
}

func (f *fakeConsumer) Ack(ctx context.Context, stream string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return nil
}

func (f *fakeConsumer) AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]streams.Message, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	claimed := f.claimed
	f.claimed = nil
	return claimed, "0-0", nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []streams.Envelope
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, stream string, envelope streams.Envelope, opts ...streams.PublishOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.published = append(f.published, envelope)
	return "1-0", nil
}

func testEnvelope(t *testing.T, jobID, ownerID string, attempt int) streams.Message {
	t.Helper()
	data, err := json.Marshal(queue.EnqueuePayload{JobID: jobID, OwnerID: ownerID})
	require.NoError(t, err)
	return streams.Message{
		ID: "1-0",
		Envelope: streams.Envelope{
			EventID:        "evt-1",
			EventType:      queue.EventTypeJobEnqueued,
			PayloadVersion: "v1",
			Attempt:        attempt,
			Data:           data,
		},
	}
}

type fakeBus struct{}

func (fakeBus) Publish(ctx context.Context, room, event string, payload interface{}) error {
	return nil
}

func newTestProcessor(st jobStore, cons messageConsumer, pub messagePublisher) *Processor {
	return &Processor{
		logger:    log.New(io.Discard, "", 0),
		store:     st,
		bus:       fakeBus{},
		consumer:  cons,
		publisher: pub,
		queueCfg:  config.QueueConfig{MaxAttempts: 3, RetryBaseDelay: time.Millisecond},
		sem:       make(chan struct{}, 2),
	}
}

func TestHandleAcksWhenJobNoLongerExists(t *testing.T) {
	st := &fakeJobStore{jobs: map[string]models.Job{}}
	cons := &fakeConsumer{}
	p := newTestProcessor(st, cons, &fakePublisher{})

	msg := testEnvelope(t, "missing-job", "owner-1", 0)
	p.handle(context.Background(), msg)

	require.Contains(t, cons.acked, msg.ID)
}

func TestHandleLeavesMessageUnackedOnTransientFetchError(t *testing.T) {
	st := &fakeJobStore{getJobErr: errors.New("connection reset")}
	cons := &fakeConsumer{}
	p := newTestProcessor(st, cons, &fakePublisher{})

	msg := testEnvelope(t, "job-1", "owner-1", 0)
	p.handle(context.Background(), msg)

	require.Empty(t, cons.acked, "a transient store error must not ack — leave it for stall recovery")
}

func TestRetryOrGiveUpRepublishesWithIncrementedAttempt(t *testing.T) {
	st := &fakeJobStore{}
	cons := &fakeConsumer{}
	pub := &fakePublisher{}
	p := newTestProcessor(st, cons, pub)

	msg := testEnvelope(t, "job-1", "owner-1", 0)
	p.retryOrGiveUp(context.Background(), msg, errors.New("provider timeout"))

	require.Len(t, pub.published, 1)
	require.Equal(t, 1, pub.published[0].Attempt)
	require.Contains(t, cons.acked, msg.ID)
}

func TestRetryOrGiveUpStopsAfterMaxAttempts(t *testing.T) {
	st := &fakeJobStore{}
	cons := &fakeConsumer{}
	pub := &fakePublisher{}
	p := newTestProcessor(st, cons, pub)

	msg := testEnvelope(t, "job-1", "owner-1", 2) // attempt 2 -> next would be 3 == MaxAttempts
	p.retryOrGiveUp(context.Background(), msg, errors.New("provider timeout"))

	require.Empty(t, pub.published, "should give up rather than republish once max attempts is reached")
	require.Contains(t, cons.acked, msg.ID)
}

func TestReclaimOnceDispatchesStalledMessages(t *testing.T) {
	st := &fakeJobStore{jobs: map[string]models.Job{
		"job-1": {ID: "job-1", Status: models.StatusCompleted},
	}, principals: map[string]models.Principal{
		"owner-1": {ID: "owner-1"},
	}}
	stalled := testEnvelope(t, "job-1", "owner-1", 0)
	cons := &fakeConsumer{claimed: []streams.Message{stalled}}
	p := newTestProcessor(st, cons, &fakePublisher{})

	p.reclaimOnce(context.Background(), context.Background())
	p.wg.Wait()

	require.Contains(t, cons.acked, stalled.ID)
}
