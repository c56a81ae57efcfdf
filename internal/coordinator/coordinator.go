package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/daily-coordinator/internal/dispatcher"
	"github.com/jmehdipour/daily-coordinator/internal/logger"
	"github.com/jmehdipour/daily-coordinator/internal/metrics"
	"github.com/jmehdipour/daily-coordinator/internal/model"
	"github.com/jmehdipour/daily-coordinator/internal/repository"
	"github.com/jmehdipour/daily-coordinator/internal/util"
)

const (
	ErrSaveState   = "Failed to save state"
	ErrUploadCache = "Failed to upload cache"
)

// SecretSource reads the optional application secret.
type SecretSource interface {
	Fetch(ctx context.Context) ([]byte, error)
}

type Notifier interface {
	Notify(ctx context.Context, a dispatcher.Alert) error
}

type EventPublisher interface {
	Publish(ctx context.Context, ev model.Event) (string, error)
}

// Deps are the collaborators of a run. Secrets, Alerts and Relay are optional.
type Deps struct {
	State   repository.StateRepository
	Cache   repository.CacheRepository
	Secrets SecretSource
	Alerts  Notifier
	Relay   EventPublisher
}

type Options struct {
	ID           string
	TasksCount   int
	CacheEntries int
}

type Coordinator struct {
	deps Deps
	opts Options
	now  func() time.Time
}

func New(deps Deps, opts Options) *Coordinator {
	if opts.ID == "" {
		opts.ID = "daily-coordinator-001"
	}
	return &Coordinator{deps: deps, opts: opts, now: time.Now}
}

// ID is the coordinator id stamped on every event.
func (c *Coordinator) ID() string { return c.opts.ID }

type outcome struct {
	tasks  int
	errors []string
	cause  string
}

// Run performs one daily coordination pass and returns its outcome event.
// Alerting and relaying are best effort and never change the returned event.
func (c *Coordinator) Run(ctx context.Context) model.Event {
	now := c.now().UTC()
	runID := util.NewRunID(now)
	log := logger.Log.With(zap.String("coordinator_id", c.opts.ID), zap.String("run_id", runID))

	out := c.execute(ctx, now, runID, log)

	status := model.EventSuccess
	switch {
	case out.cause != "" || out.tasks == 0:
		status = model.EventFailed
	case len(out.errors) > 0:
		status = model.EventPartial
	}

	ev, err := model.NewEvent(c.opts.ID, now, status, out.tasks, out.errors)
	if err != nil {
		// Only reachable with an unusable coordinator id.
		log.Error("run produced an invalid event", zap.Error(err))
		ev = model.Event{
			CoordinatorID:  c.opts.ID,
			Timestamp:      model.FormatTimestamp(now),
			Status:         status,
			TasksProcessed: out.tasks,
			Errors:         out.errors,
		}
	}
	metrics.RunsTotal.WithLabelValues(ev.Status.String()).Inc()
	log.Info("coordination finished",
		zap.String("status", ev.Status.String()),
		zap.Int("tasks_processed", ev.TasksProcessed),
		zap.Strings("errors", ev.Errors),
	)

	if c.deps.Alerts != nil {
		if err := c.deps.Alerts.Notify(ctx, dispatcher.NewRunAlert(ev, out.cause)); err != nil {
			log.Warn("run alert not fully delivered", zap.Error(err))
		}
	}
	if c.deps.Relay != nil {
		if id, err := c.deps.Relay.Publish(ctx, ev); err == nil {
			log.Info("event relayed", zap.String("message_id", id))
		}
	}
	return ev
}

func (c *Coordinator) execute(ctx context.Context, now time.Time, runID string, log *zap.Logger) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out.cause = fmt.Sprint(r)
			if out.cause == "" {
				out.cause = "unexpected failure"
			}
			out.errors = append(out.errors, out.cause)
			log.Error("coordination aborted", zap.String("cause", out.cause))
		}
	}()

	c.readSecrets(ctx, log)

	lastRun := model.FormatTimestamp(now)
	st := model.CoordinatorState{
		CoordinatorID: c.opts.ID,
		RunID:         runID,
		Status:        model.RunRunning,
		LastRun:       lastRun,
		TasksCount:    c.opts.TasksCount,
		UpdatedAt:     now,
	}
	if err := c.deps.State.Save(ctx, st); err != nil {
		log.Error("save state failed", zap.Error(err))
		out.errors = append(out.errors, ErrSaveState)
	} else {
		out.tasks++
	}

	snap := model.CacheSnapshot{
		Timestamp:     lastRun,
		CoordinatorID: c.opts.ID,
		CacheEntries:  c.opts.CacheEntries,
		Status:        "cached",
	}
	if key, err := c.deps.Cache.Upload(ctx, now, snap); err != nil {
		log.Error("cache upload failed", zap.Error(err))
		out.errors = append(out.errors, ErrUploadCache)
	} else {
		log.Info("cache uploaded", zap.String("key", key))
		out.tasks++
	}

	st.Status = model.RunCompleted
	st.UpdatedAt = c.now().UTC()
	if err := c.deps.State.Save(ctx, st); err != nil {
		log.Warn("save final state failed", zap.Error(err))
	}
	return out
}

func (c *Coordinator) readSecrets(ctx context.Context, log *zap.Logger) {
	if c.deps.Secrets == nil {
		return
	}
	raw, err := c.deps.Secrets.Fetch(ctx)
	if err != nil {
		log.Warn("application secret unavailable", zap.Error(err))
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		log.Warn("application secret is not a JSON object")
		return
	}
	log.Info("secrets retrieved", zap.Int("keys", len(fields)))
}
