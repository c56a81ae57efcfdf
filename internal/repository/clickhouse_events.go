package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/daily-coordinator/internal/model"
)

// CHEventsRepository stores relayed events in ClickHouse and lists them for reports.
type CHEventsRepository interface {
	InsertBatch(ctx context.Context, rows []model.EventRow) error
	List(ctx context.Context, coordinatorID string, status model.EventStatus, limit, offset int) ([]model.EventRow, error)
}

type chEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHEventsRepository(ch *sqlx.DB) CHEventsRepository {
	return &chEventsRepository{ch: ch}
}

// InsertBatch sends rows as one ClickHouse block (prepare + exec per row inside a tx).
func (r *chEventsRepository) InsertBatch(ctx context.Context, rows []model.EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dcoord.coordinator_events
		    (message_id, coordinator_id, status, tasks_processed, errors, event_time, source, received_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.MessageID, row.CoordinatorID, row.Status, row.TasksProcessed,
			row.Errors, row.EventTime, row.Source, row.ReceivedAt,
		); err != nil {
			return fmt.Errorf("append row %s: %w", row.MessageID, err)
		}
	}

	return tx.Commit()
}

func (r *chEventsRepository) List(ctx context.Context, coordinatorID string, status model.EventStatus, limit, offset int) ([]model.EventRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT message_id, coordinator_id, status, tasks_processed, errors, event_time, source, received_at
		FROM dcoord.coordinator_events FINAL
		WHERE 1 = 1
	`
	var args []any

	if coordinatorID != "" {
		q += " AND coordinator_id = ?"
		args = append(args, coordinatorID)
	}
	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}

	q += " ORDER BY event_time DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.EventRow
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
