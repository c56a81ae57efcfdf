package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/daily-coordinator/internal/config"
	"github.com/jmehdipour/daily-coordinator/internal/db"
	"github.com/jmehdipour/daily-coordinator/internal/kafka"
	"github.com/jmehdipour/daily-coordinator/internal/logger"
	"github.com/jmehdipour/daily-coordinator/internal/metrics"
	"github.com/jmehdipour/daily-coordinator/internal/repository"
	"github.com/jmehdipour/daily-coordinator/internal/worker"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Consume relayed events into Firestore and ClickHouse",
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3) source
	var src worker.Source
	switch cfg.Sync.Source {
	case "pubsub":
		client, err := db.NewPubSubClient(ctx, cfg.GCP.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		defer client.Close()
		src = worker.NewPubSubSource(client, cfg.Sync.Subscription, cfg.Sync.Workers)
	case "kafka":
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Relay.Topic)
		defer consumer.Close()
		src = worker.NewKafkaSource(consumer, cfg.Sync.Workers)
	default:
		return fmt.Errorf("unknown sync.source %q", cfg.Sync.Source)
	}

	// 4) sinks
	var tasks repository.TaskRepository
	if cfg.Sync.Firestore {
		fs, err := db.NewFirestoreClient(ctx, cfg.GCP.ProjectID)
		if err != nil {
			return fmt.Errorf("firestore client: %w", err)
		}
		defer fs.Close()
		tasks = repository.NewFirestoreTaskRepository(fs)
	}

	var events repository.CHEventsRepository
	if cfg.Sync.ClickHouse {
		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()
		events = repository.NewCHEventsRepository(chDB)
	}

	w := worker.NewSync(src, tasks, events)

	// tune knobs
	if cfg.Sync.BatchSize > 0 {
		w.BatchSize = cfg.Sync.BatchSize
	}
	if cfg.Sync.BatchWait > 0 {
		w.BatchWait = cfg.Sync.BatchWait
	}

	logger.Log.Info("sync worker starting",
		zap.String("source", cfg.Sync.Source),
		zap.Bool("firestore", tasks != nil),
		zap.Bool("clickhouse", events != nil),
		zap.Int("workers", cfg.Sync.Workers),
		zap.Int("batch_size", w.BatchSize),
		zap.Duration("batch_wait", w.BatchWait),
	)

	return w.Run(ctx)
}
