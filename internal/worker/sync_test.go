package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jmehdipour/daily-coordinator/internal/model"
)

const partialBody = `{"coordinator_id":"daily-coordinator-001","timestamp":"2025-11-18T10:00:00Z","status":"partial","tasks_processed":1,"errors":["Failed to upload cache"]}`

type fakeTasks struct {
	mu  sync.Mutex
	err error
	got []model.RelayedEvent
}

func (f *fakeTasks) Write(_ context.Context, ev model.RelayedEvent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.got = append(f.got, ev)
	return ev.Event.CoordinatorID + "_1", nil
}

func (f *fakeTasks) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

type fakeEvents struct {
	mu      sync.Mutex
	batches [][]model.EventRow
}

func (f *fakeEvents) InsertBatch(_ context.Context, rows []model.EventRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]model.EventRow(nil), rows...))
	return nil
}

func (f *fakeEvents) List(context.Context, string, model.EventStatus, int, int) ([]model.EventRow, error) {
	return nil, nil
}

func (f *fakeEvents) rows() []model.EventRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.EventRow
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

// sliceSource delivers a fixed set of messages and returns.
type sliceSource struct {
	msgs  []Delivery
	acked []string
	nack  []string
}

func (s *sliceSource) Name() string { return "slice" }

func (s *sliceSource) Receive(ctx context.Context, handle func(context.Context, Delivery)) error {
	for _, d := range s.msgs {
		id := d.ID
		d.Ack = func() { s.acked = append(s.acked, id) }
		d.Nack = func() { s.nack = append(s.nack, id) }
		handle(ctx, d)
	}
	return nil
}

var receivedAt = time.Date(2025, 11, 18, 10, 0, 5, 0, time.UTC)

func newTestSync(src Source, tasks *fakeTasks, events *fakeEvents) *Sync {
	w := NewSync(src, tasks, events)
	w.BatchWait = time.Hour
	w.now = func() time.Time { return receivedAt }
	return w
}

func TestSync_WritesBothSinksAndAcks(t *testing.T) {
	src := &sliceSource{msgs: []Delivery{
		{ID: "m1", Data: []byte(partialBody), Attributes: map[string]string{"source": "daily-coordinator", "event_type": "partial"}},
	}}
	tasks, events := &fakeTasks{}, &fakeEvents{}

	require.NoError(t, newTestSync(src, tasks, events).Run(context.Background()))

	require.Equal(t, 1, tasks.count())
	got := tasks.got[0]
	assert.Equal(t, "m1", got.MessageID)
	assert.Equal(t, "daily-coordinator", got.Source)
	assert.Equal(t, "partial", got.EventType)
	assert.Equal(t, receivedAt, got.ReceivedAt)

	rows := events.rows()
	require.Len(t, rows, 1, "buffered rows flushed on shutdown")
	assert.Equal(t, "m1", rows[0].MessageID)
	assert.Equal(t, time.Date(2025, 11, 18, 10, 0, 0, 0, time.UTC), rows[0].EventTime)
	assert.Equal(t, []string{"Failed to upload cache"}, rows[0].Errors)

	assert.Equal(t, []string{"m1"}, src.acked)
}

func TestSync_PoisonMessagesAreAcked(t *testing.T) {
	src := &sliceSource{msgs: []Delivery{
		{ID: "bad-json", Data: []byte(`{"status":`)},
		{ID: "bad-event", Data: []byte(`{"coordinator_id":"c","timestamp":"2025-11-18T10:00:00Z","status":"failed","tasks_processed":0,"errors":[]}`)},
	}}
	tasks, events := &fakeTasks{}, &fakeEvents{}

	require.NoError(t, newTestSync(src, tasks, events).Run(context.Background()))

	assert.Zero(t, tasks.count())
	assert.Empty(t, events.rows())
	assert.Equal(t, []string{"bad-json", "bad-event"}, src.acked)
}

func TestSync_FirestoreFailureNacks(t *testing.T) {
	src := &sliceSource{msgs: []Delivery{{ID: "m1", Data: []byte(partialBody)}}}
	tasks, events := &fakeTasks{err: errors.New("unavailable")}, &fakeEvents{}

	require.NoError(t, newTestSync(src, tasks, events).Run(context.Background()))

	assert.Empty(t, src.acked)
	assert.Equal(t, []string{"m1"}, src.nack)
	assert.Empty(t, events.rows())
}

func TestSync_FlushesBySize(t *testing.T) {
	var msgs []Delivery
	for _, id := range []string{"a", "b", "c"} {
		msgs = append(msgs, Delivery{ID: id, Data: []byte(partialBody)})
	}
	events := &fakeEvents{}
	w := NewSync(&sliceSource{msgs: msgs}, nil, events)
	w.BatchSize = 2
	w.BatchWait = time.Hour

	require.NoError(t, w.Run(context.Background()))
	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.batches, 2)
	assert.Len(t, events.batches[0], 2)
	assert.Len(t, events.batches[1], 1)
}

func TestSync_RequiresSink(t *testing.T) {
	w := NewSync(&sliceSource{}, nil, nil)
	assert.Error(t, w.Run(context.Background()))
}

func TestSync_PubSubSource(t *testing.T) {
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	ctx := context.Background()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "daily-coordinator-events")
	require.NoError(t, err)
	_, err = client.CreateSubscription(ctx, "daily-coordinator-events-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	goodID := srv.Publish("projects/test-project/topics/daily-coordinator-events", []byte(partialBody),
		map[string]string{"source": "daily-coordinator", "event_type": "partial", "coordinator_id": "daily-coordinator-001"})
	badID := srv.Publish("projects/test-project/topics/daily-coordinator-events", []byte(`not json`), nil)

	tasks := &fakeTasks{}
	w := NewSync(NewPubSubSource(client, "daily-coordinator-events-sub", 2), tasks, nil)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	require.Eventually(t, func() bool {
		return srv.Message(goodID).Acks > 0 && srv.Message(badID).Acks > 0
	}, 10*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.Equal(t, 1, tasks.count())
	assert.Equal(t, goodID, tasks.got[0].MessageID)
	assert.Equal(t, "partial", tasks.got[0].EventType)
}
