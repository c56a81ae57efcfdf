package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/daily-coordinator/internal/db"
	"github.com/jmehdipour/daily-coordinator/internal/logger"
	"github.com/jmehdipour/daily-coordinator/internal/model"
	"github.com/jmehdipour/daily-coordinator/internal/repository"
)

var (
	seedCount int
	seedDays  int
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed ClickHouse with demo relayed events",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()

		rows := fakeEventRows(gofakeit.New(0), seedCount, seedDays, time.Now().UTC())

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := repository.NewCHEventsRepository(chDB).InsertBatch(ctx, rows); err != nil {
			return fmt.Errorf("insert demo events: %w", err)
		}

		logger.Log.Info("seed complete", zap.Int("events", len(rows)))
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "count", 100, "number of demo events")
	seedCmd.Flags().IntVar(&seedDays, "days", 30, "spread events over this many past days")
}

var demoErrors = []string{
	"Failed to save state",
	"Failed to upload cache",
	"upstream timeout",
}

// fakeEventRows builds demo events that satisfy the event invariants.
func fakeEventRows(f *gofakeit.Faker, n, days int, now time.Time) []model.EventRow {
	if days <= 0 {
		days = 1
	}
	start := now.AddDate(0, 0, -days)
	statuses := []string{"success", "success", "success", "partial", "failed"}

	rows := make([]model.EventRow, 0, n)
	for i := 0; i < n; i++ {
		ev := model.Event{
			CoordinatorID: fmt.Sprintf("daily-coordinator-%03d", f.Number(1, 3)),
			Timestamp:     model.FormatTimestamp(f.DateRange(start, now)),
			Status:        model.EventStatus(f.RandomString(statuses)),
			Errors:        []string{},
		}
		switch ev.Status {
		case model.EventSuccess:
			ev.TasksProcessed = 2
		case model.EventPartial:
			ev.TasksProcessed = 1
			ev.Errors = []string{f.RandomString(demoErrors)}
		case model.EventFailed:
			ev.Errors = []string{demoErrors[0], demoErrors[1]}
		}

		ts, _ := ev.Time()
		rows = append(rows, model.RelayedEvent{
			MessageID:  f.UUID(),
			Event:      ev,
			Source:     "daily-coordinator",
			EventType:  ev.Status.String(),
			ReceivedAt: ts.Add(time.Duration(f.Number(50, 2000)) * time.Millisecond),
		}.Row())
	}
	return rows
}
