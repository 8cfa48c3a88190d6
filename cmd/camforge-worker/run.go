package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/camforge/camforge/internal/artifacts"
	"github.com/camforge/camforge/internal/config"
	"github.com/camforge/camforge/internal/engine"
	"github.com/camforge/camforge/internal/events"
	"github.com/camforge/camforge/internal/queue"
	"github.com/camforge/camforge/internal/store"
	"github.com/camforge/camforge/internal/supervisor"
	"github.com/camforge/camforge/internal/tasks"
	"github.com/camforge/camforge/pkg/log"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the camforge pipeline worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			zap.S().Fatalf("reading configuration: %v", err)
		}

		logger := log.InitLog(log.Level(cfg.Service.LogLevel))
		defer func() { _ = logger.Sync() }()
		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting pipeline worker")
		defer zap.S().Info("Pipeline worker stopped")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalf("initializing data store: %v", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		enginePath, err := engine.Discover(ctx, cfg.Engine.BinaryPath)
		if err != nil {
			zap.S().Fatalf("locating engine binary: %v", err)
		}
		zap.S().Infof("Using engine binary: %s", enginePath)

		artifactStore, err := artifacts.NewStore(
			artifacts.WithEndpoint(cfg.Artifacts.Endpoint),
			artifacts.WithBucket(cfg.Artifacts.Bucket),
			artifacts.WithAccessKey(cfg.Artifacts.AccessKey),
			artifacts.WithSecretKey(cfg.Artifacts.SecretAccessKey),
			artifacts.WithSSL(cfg.Artifacts.UseSSL),
			artifacts.WithMaxFetchMB(cfg.Artifacts.MaxFetchMB),
		)
		if err != nil {
			zap.S().Fatalf("creating artifact store: %v", err)
		}
		if err := artifactStore.EnsureBucket(ctx); err != nil {
			zap.S().Fatalf("preparing artifact bucket: %v", err)
		}

		producer, err := newEventProducer(cfg)
		if err != nil {
			zap.S().Fatalf("creating event producer: %v", err)
		}
		defer producer.Close()

		registry := tasks.NewRegistry(tasks.Deps{
			Supervisor: supervisor.New(cfg.Engine.RunDir),
			Artifacts:  artifactStore,
			ParentJobs: s.Job(),
			EnginePath: enginePath,
			WorkDir:    cfg.Engine.WorkDir,
			TimeLimits: cfg.Worker.TaskTimeLimits,
		})

		worker := queue.NewPipelineWorker(s, registry, producer, cfg.Worker.TaskTimeLimits, cfg.Worker.TaskSoftLimits)

		dsn := fmt.Sprintf("host=%s user=%s password=%s port=%s dbname=%s",
			cfg.Database.Hostname,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Port,
			cfg.Database.Name,
		)
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			zap.S().Fatalf("creating pgx pool: %v", err)
		}
		defer pool.Close()

		client, err := queue.NewWorkerClient(pool, worker, queue.WorkerConfig{
			QueueConcurrency: cfg.Worker.QueueConcurrency,
			RetryPolicy: queue.NewBackoffPolicy(
				time.Duration(cfg.Worker.BackoffBaseSeconds*float64(time.Second)),
				time.Duration(cfg.Worker.BackoffCapSeconds*float64(time.Second)),
			),
		})
		if err != nil {
			zap.S().Fatalf("creating queue client: %v", err)
		}

		if err := client.Start(ctx); err != nil {
			zap.S().Fatalf("starting queue client: %v", err)
		}

		<-ctx.Done()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := client.Stop(stopCtx); err != nil {
			zap.S().Warnf("stopping queue client: %v", err)
		}

		return nil
	},
}

func newEventProducer(cfg *config.Config) (*events.EventProducer, error) {
	var opts []events.ProducerOptions
	if cfg.Service.Kafka.Topic != "" {
		opts = append(opts, events.WithOutputTopic(cfg.Service.Kafka.Topic))
	}

	if len(cfg.Service.Kafka.Brokers) > 0 {
		writer, err := events.NewKafkaWriter(cfg.Service.Kafka.Brokers, cfg.Service.Kafka.ClientID)
		if err != nil {
			return nil, err
		}
		return events.NewEventProducer(writer, opts...), nil
	}

	return events.NewEventProducer(&events.StdoutWriter{}, opts...), nil
}
