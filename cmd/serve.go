package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/daily-coordinator/internal/app"
	"github.com/jmehdipour/daily-coordinator/internal/db"
	httpSrv "github.com/jmehdipour/daily-coordinator/internal/http"
	"github.com/jmehdipour/daily-coordinator/internal/logger"
	"github.com/jmehdipour/daily-coordinator/internal/repository"
	"github.com/jmehdipour/daily-coordinator/internal/service/runner"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		redisClient, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		var events repository.CHEventsRepository
		if cfg.ClickHouse.DSN != "" {
			chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer func() { _ = chDB.Close() }()
			events = repository.NewCHEventsRepository(chDB)
		}

		coord, err := app.NewCoordinator(context.Background(), cfg)
		if err != nil {
			return err
		}
		defer coord.Close()

		runs := runner.New(redisClient, coord, cfg.Run.LockTTL, cfg.Run.Timeout)
		server := httpSrv.NewServer(cfg, runs, events, redisClient)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				logger.Log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}
