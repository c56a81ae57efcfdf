package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/daily-coordinator/internal/model"
)

var (
	eventAt    = time.Date(2025, 11, 18, 10, 0, 0, 0, time.UTC)
	receivedAt = time.Date(2025, 11, 18, 10, 0, 1, 500_000_000, time.UTC)
)

var eventColumns = []string{
	"message_id", "coordinator_id", "status", "tasks_processed",
	"errors", "event_time", "source", "received_at",
}

func eventRow(id, status string, errs ...string) model.EventRow {
	if errs == nil {
		errs = []string{}
	}
	return model.EventRow{
		MessageID:      id,
		CoordinatorID:  "daily-coordinator-001",
		Status:         status,
		TasksProcessed: 3,
		Errors:         errs,
		EventTime:      eventAt,
		Source:         "daily-coordinator",
		ReceivedAt:     receivedAt,
	}
}

func TestEventRow_MatchesClickHouseSchema(t *testing.T) {
	cols := dbColumns(model.EventRow{})
	assert.Equal(t, eventColumns, cols)
	assertSchemaHasColumns(t, "../../cmd/migrations/clickhouse.sql", cols)
}

func TestCHEventsRepository_InsertBatch(t *testing.T) {
	db, mock := newMockDB(t, "clickhouse")
	repo := NewCHEventsRepository(db)

	rows := []model.EventRow{
		eventRow("m1", "success"),
		eventRow("m2", "partial", "Failed to upload cache"),
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(
		"INSERT INTO dcoord.coordinator_events (message_id, coordinator_id, status, tasks_processed, errors, event_time, source, received_at)",
	))
	for _, r := range rows {
		prep.ExpectExec().
			WithArgs(r.MessageID, r.CoordinatorID, r.Status, r.TasksProcessed, r.Errors, r.EventTime, r.Source, r.ReceivedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	require.NoError(t, repo.InsertBatch(context.Background(), rows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHEventsRepository_InsertBatchEmpty(t *testing.T) {
	db, mock := newMockDB(t, "clickhouse")
	repo := NewCHEventsRepository(db)

	require.NoError(t, repo.InsertBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHEventsRepository_InsertBatchRollsBackOnRowError(t *testing.T) {
	db, mock := newMockDB(t, "clickhouse")
	repo := NewCHEventsRepository(db)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO dcoord.coordinator_events").
		ExpectExec().
		WillReturnError(errors.New("type mismatch"))
	mock.ExpectRollback()

	err := repo.InsertBatch(context.Background(), []model.EventRow{eventRow("m1", "success")})
	assert.ErrorContains(t, err, "append row m1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHEventsRepository_ListFiltered(t *testing.T) {
	db, mock := newMockDB(t, "clickhouse")
	repo := NewCHEventsRepository(db)

	want := eventRow("m2", "partial", "Failed to upload cache")
	mock.ExpectQuery(`FROM dcoord\.coordinator_events FINAL WHERE 1 = 1 AND coordinator_id = \? AND status = \? ORDER BY event_time DESC LIMIT \? OFFSET \?`).
		WithArgs("daily-coordinator-001", "partial", 10, 20).
		WillReturnRows(mock.NewRows(eventColumns).AddRow(
			want.MessageID, want.CoordinatorID, want.Status, want.TasksProcessed,
			want.Errors, want.EventTime, want.Source, want.ReceivedAt,
		))

	got, err := repo.List(context.Background(), "daily-coordinator-001", model.EventPartial, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, []model.EventRow{want}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHEventsRepository_ListDefaultsPaging(t *testing.T) {
	tests := []struct {
		name          string
		limit, offset int
		wantLimit     int
		wantOffset    int
	}{
		{"zero limit", 0, 0, 50, 0},
		{"limit too large", 5000, 3, 50, 3},
		{"negative offset", 20, -1, 20, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t, "clickhouse")
			repo := NewCHEventsRepository(db)

			mock.ExpectQuery(`WHERE 1 = 1 ORDER BY event_time DESC LIMIT \? OFFSET \?`).
				WithArgs(tt.wantLimit, tt.wantOffset).
				WillReturnRows(sqlmock.NewRows(eventColumns))

			got, err := repo.List(context.Background(), "", "", tt.limit, tt.offset)
			require.NoError(t, err)
			assert.Empty(t, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
