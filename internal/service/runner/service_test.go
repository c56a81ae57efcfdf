package runner

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/daily-coordinator/internal/model"
)

type fakeCoordinator struct {
	runs   int
	during func()
}

func (f *fakeCoordinator) ID() string { return "daily-coordinator-001" }

func (f *fakeCoordinator) Run(context.Context) model.Event {
	f.runs++
	if f.during != nil {
		f.during()
	}
	return model.Event{CoordinatorID: f.ID(), Status: model.EventSuccess, Timestamp: "2025-11-18T10:00:00Z"}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestTrigger_RunsAndReleasesLock(t *testing.T) {
	mr, rdb := newRedis(t)
	coord := &fakeCoordinator{}
	coord.during = func() {
		assert.True(t, mr.Exists("dcoord:run:daily-coordinator-001"))
	}
	svc := New(rdb, coord, time.Minute, time.Minute)

	ev, err := svc.Trigger(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, model.EventSuccess, ev.Status)
	assert.False(t, mr.Exists("dcoord:run:daily-coordinator-001"))

	_, err = svc.Trigger(context.Background(), "tok-2")
	require.NoError(t, err)
	assert.Equal(t, 2, coord.runs)
}

func TestTrigger_InProgress(t *testing.T) {
	mr, rdb := newRedis(t)
	require.NoError(t, mr.Set("dcoord:run:daily-coordinator-001", "other"))

	coord := &fakeCoordinator{}
	_, err := New(rdb, coord, time.Minute, time.Minute).Trigger(context.Background(), "tok")

	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Zero(t, coord.runs)
	got, _ := mr.Get("dcoord:run:daily-coordinator-001")
	assert.Equal(t, "other", got)
}

func TestTrigger_DoesNotReleaseForeignLock(t *testing.T) {
	mr, rdb := newRedis(t)
	coord := &fakeCoordinator{}
	coord.during = func() {
		// lock expired and was taken over mid-run
		mr.Set("dcoord:run:daily-coordinator-001", "someone-else")
	}

	_, err := New(rdb, coord, time.Minute, time.Minute).Trigger(context.Background(), "tok")
	require.NoError(t, err)
	got, _ := mr.Get("dcoord:run:daily-coordinator-001")
	assert.Equal(t, "someone-else", got)
}
