package repository

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/jmehdipour/daily-coordinator/internal/model"
)

const (
	tasksCollection        = "tasks"
	coordinatorsCollection = "coordinators"
)

// TaskRepository materialises relayed events for offline mobile sync.
type TaskRepository interface {
	Write(ctx context.Context, ev model.RelayedEvent) (docID string, err error)
}

type FirestoreTaskRepository struct {
	client *firestore.Client
	now    func() time.Time
}

func NewFirestoreTaskRepository(client *firestore.Client) *FirestoreTaskRepository {
	return &FirestoreTaskRepository{client: client, now: time.Now}
}

var _ TaskRepository = (*FirestoreTaskRepository)(nil)

// TaskDocID is <coordinator_id>_<unix seconds at write time>.
func TaskDocID(coordinatorID string, at time.Time) string {
	return fmt.Sprintf("%s_%d", coordinatorID, at.Unix())
}

// TaskDocument is the tasks/<id> document body. synced stays false until the
// mobile client marks it.
func TaskDocument(ev model.RelayedEvent) map[string]any {
	errs := ev.Event.Errors
	if errs == nil {
		errs = []string{}
	}
	eventType := ev.EventType
	if eventType == "" {
		eventType = "update"
	}
	source := ev.Source
	if source == "" {
		source = "pubsub"
	}
	return map[string]any{
		"coordinator_id":  ev.Event.CoordinatorID,
		"status":          ev.Event.Status.String(),
		"tasks_processed": ev.Event.TasksProcessed,
		"errors":          errs,
		"timestamp":       ev.Event.Timestamp,
		"event_type":      eventType,
		"source":          source,
		"created_at":      firestore.ServerTimestamp,
		"synced":          false,
	}
}

// CoordinatorSummary is merged into coordinators/<coordinator_id>.
func CoordinatorSummary(ev model.RelayedEvent) map[string]any {
	return map[string]any{
		"last_status": ev.Event.Status.String(),
		"last_update": firestore.ServerTimestamp,
		"total_tasks": firestore.Increment(ev.Event.TasksProcessed),
	}
}

func (r *FirestoreTaskRepository) Write(ctx context.Context, ev model.RelayedEvent) (string, error) {
	coordinatorID := ev.Event.CoordinatorID
	if coordinatorID == "" {
		coordinatorID = "unknown"
	}
	docID := TaskDocID(coordinatorID, r.now())

	if _, err := r.client.Collection(tasksCollection).Doc(docID).Set(ctx, TaskDocument(ev)); err != nil {
		return "", fmt.Errorf("write task %s: %w", docID, err)
	}

	_, err := r.client.Collection(coordinatorsCollection).Doc(coordinatorID).
		Set(ctx, CoordinatorSummary(ev), firestore.MergeAll)
	if err != nil {
		return docID, fmt.Errorf("merge coordinator %s: %w", coordinatorID, err)
	}
	return docID, nil
}
