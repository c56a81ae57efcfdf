package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmehdipour/daily-coordinator/internal/logger"
	"github.com/jmehdipour/daily-coordinator/internal/model"
)

var ErrRunInProgress = errors.New("coordinator run already in progress")

// Coordinator is satisfied by *coordinator.Coordinator.
type Coordinator interface {
	ID() string
	Run(ctx context.Context) model.Event
}

// Service serializes coordinator runs across processes with a Redis lock.
type Service struct {
	rdb     *redis.Client
	coord   Coordinator
	lockTTL time.Duration
	timeout time.Duration
}

func New(rdb *redis.Client, coord Coordinator, lockTTL, timeout time.Duration) *Service {
	if lockTTL <= 0 {
		lockTTL = 15 * time.Minute
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Service{rdb: rdb, coord: coord, lockTTL: lockTTL, timeout: timeout}
}

func lockKey(coordinatorID string) string { return "dcoord:run:" + coordinatorID }

// Trigger runs the coordinator once unless another run holds the lock.
func (s *Service) Trigger(ctx context.Context, token string) (model.Event, error) {
	key := lockKey(s.coord.ID())

	ok, err := s.rdb.SetNX(ctx, key, token, s.lockTTL).Result()
	if err != nil {
		return model.Event{}, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return model.Event{}, ErrRunInProgress
	}
	defer s.release(key, token)

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.coord.Run(runCtx), nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// release drops the lock only if this run still owns it.
func (s *Service) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, s.rdb, []string{key}, token).Err(); err != nil {
		logger.Log.Warn("release run lock failed", zap.String("key", key), zap.Error(err))
	}
}
