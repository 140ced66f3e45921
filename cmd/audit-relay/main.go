// Package main provides the audit relay service.
//
// The relay moves ledger events from the transactional outbox table to
// Redpanda, so every state change committed to the audit trail eventually
// reaches the event topics even when the broker was down at commit time.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carebridge/rx-transmit/internal/config"
	"github.com/carebridge/rx-transmit/internal/infrastructure/postgres"
	"github.com/carebridge/rx-transmit/internal/infrastructure/redpanda"
	"github.com/carebridge/rx-transmit/internal/observability/tracing"
)

const (
	maintenanceInterval = time.Hour
	processedRetention  = 7 * 24 * time.Hour
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "audit-relay",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer tp.Shutdown(context.Background())
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}

	admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("failed to create topic admin", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Fatal("failed to ensure topics", zap.Error(err))
	}
	admin.Close()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("failed to create producer", zap.Error(err))
	}
	defer producer.Close()

	outbox := postgres.NewOutbox(pool, producer, postgres.DefaultOutboxConfig(), logger)
	outbox.Start()

	maintenanceDone := make(chan struct{})
	go maintain(outbox, logger, maintenanceDone)

	logger.Info("audit relay started", zap.Strings("brokers", cfg.Kafka.Brokers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down relay")
	close(maintenanceDone)
	outbox.Stop()

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := producer.Flush(flushCtx); err != nil {
		logger.Error("producer flush error", zap.Error(err))
	}
	logger.Info("relay stopped")
}

// maintain periodically dead-letters exhausted entries and prunes relayed ones.
func maintain(outbox *postgres.Outbox, logger *zap.Logger, done <-chan struct{}) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)

			if n, err := outbox.DeadLetter(ctx, redpanda.TopicDeadLetter); err != nil {
				logger.Error("dead letter sweep failed", zap.Error(err))
			} else if n > 0 {
				logger.Warn("dead-lettered exhausted outbox entries", zap.Int64("count", n))
			}

			if n, err := outbox.CleanupProcessed(ctx, processedRetention); err != nil {
				logger.Error("outbox cleanup failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("pruned relayed outbox entries", zap.Int64("count", n))
			}

			cancel()
		}
	}
}
