package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/daily-coordinator/internal/model"
)

// MySQLStateRepository is the sqlx-backed StateRepository.
type MySQLStateRepository struct {
	db *sqlx.DB
}

func NewMySQLStateRepository(db *sqlx.DB) *MySQLStateRepository {
	return &MySQLStateRepository{db: db}
}

var _ StateRepository = (*MySQLStateRepository)(nil)

// Save appends a state row; (coordinator_id, timestamp_ms) is the primary key.
func (r *MySQLStateRepository) Save(ctx context.Context, st model.CoordinatorState) error {
	rec, err := NewStateRecord(st)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO coordinator_state
		    (coordinator_id, timestamp_ms, run_id, status, data, updated_at)
		VALUES
		    (:coordinator_id, :timestamp_ms, :run_id, :status, :data, :updated_at)
		ON DUPLICATE KEY UPDATE
		    status = VALUES(status),
		    data   = VALUES(data)
	`
	_, err = r.db.NamedExecContext(ctx, q, rec)
	return err
}
