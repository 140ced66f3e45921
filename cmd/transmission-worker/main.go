// Package main provides the asynchronous transmission worker.
//
// The worker consumes transmit and refill commands from the request topic,
// runs them through the transmission service behind the idempotency inbox,
// and routes permanently failed commands to the dead letter topic.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carebridge/rx-transmit/internal/channel"
	"github.com/carebridge/rx-transmit/internal/config"
	"github.com/carebridge/rx-transmit/internal/domain/rx"
	"github.com/carebridge/rx-transmit/internal/gateway"
	"github.com/carebridge/rx-transmit/internal/infrastructure/redpanda"
	"github.com/carebridge/rx-transmit/internal/observability/metrics"
	"github.com/carebridge/rx-transmit/internal/observability/tracing"
	"github.com/carebridge/rx-transmit/internal/render"
	"github.com/carebridge/rx-transmit/internal/service"
	"github.com/carebridge/rx-transmit/pkg/circuitbreaker"
	"github.com/carebridge/rx-transmit/pkg/idempotency"
	"github.com/carebridge/rx-transmit/pkg/workerpool"
)

// command is the envelope carried on the transmission request topic.
type command struct {
	Type           string     `json:"type"` // "new_rx" or "refill"
	OrderID        string     `json:"order_id,omitempty"`
	PharmacyID     string     `json:"pharmacy_id,omitempty"`
	Channel        rx.Channel `json:"channel,omitempty"`
	Urgency        rx.Urgency `json:"urgency,omitempty"`
	OriginalID     string     `json:"original_transmission_id,omitempty"`
	RequestedBy    string     `json:"requested_by,omitempty"`
	Note           string     `json:"note,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "transmission-worker",
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

	m := metrics.New()
	breakers := circuitbreaker.NewManager(logger)

	svc, err := buildService(cfg, pool, breakers, m, logger)
	if err != nil {
		logger.Fatal("service wiring failed", zap.Error(err))
	}

	inboxCfg := idempotency.DefaultInboxConfig()
	inboxCfg.Terminal = terminalError
	inbox := idempotency.NewInbox(pool, inboxCfg, logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("failed to create topic admin", zap.Error(err))
	}
	defer admin.Close()
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Fatal("failed to ensure topics", zap.Error(err))
	}

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("failed to create producer", zap.Error(err))
	}
	defer producer.Close()

	runner := &commandRunner{svc: svc, inbox: inbox, logger: logger}

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.WorkerCount
	wp, err := workerpool.New(poolCfg, runner.run, logger)
	if err != nil {
		logger.Fatal("failed to create worker pool", zap.Error(err))
	}
	wp.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Kafka.Brokers
	consumerCfg.GroupID = cfg.Kafka.ConsumerGroup
	consumer, err := redpanda.NewConsumer(consumerCfg, dispatchHandler(wp, producer, logger), logger)
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}
	consumer.Start()

	statsDone := make(chan struct{})
	go reportStats(admin, wp, cfg.Kafka.ConsumerGroup, logger, statsDone)

	logger.Info("transmission worker started",
		zap.Int("workers", poolCfg.Workers),
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.Bool("simulation_mode", cfg.SimulationMode))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down worker")
	close(statsDone)
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", zap.Error(err))
	}
	if err := wp.Stop(); err != nil {
		logger.Error("worker pool stop error", zap.Error(err))
	}
	logger.Info("worker stopped")
}

// reportStats periodically logs queue depth and consumer group lag so a
// backed-up worker is visible without a metrics endpoint.
func reportStats(admin *redpanda.Admin, wp *workerpool.Pool, groupID string, logger *zap.Logger, done <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			stats := wp.Stats()
			var totalLag int64
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			lag, err := admin.GetConsumerGroupLag(ctx, groupID)
			cancel()
			if err != nil {
				logger.Warn("failed to read consumer group lag", zap.Error(err))
			} else {
				for _, partitions := range lag {
					for _, l := range partitions {
						totalLag += l
					}
				}
			}
			logger.Info("worker stats",
				zap.Int64("tasks_submitted", stats.TasksSubmitted),
				zap.Int64("tasks_completed", stats.TasksCompleted),
				zap.Int64("tasks_failed", stats.TasksFailed),
				zap.Int64("queue_depth", stats.QueueDepth),
				zap.Int64("consumer_lag", totalLag),
				zap.Bool("healthy", wp.IsHealthy()))
		}
	}
}

// dispatchHandler bridges consumed messages onto the worker pool and blocks
// until the task completes, so offsets are only committed for processed work.
func dispatchHandler(wp *workerpool.Pool, producer *redpanda.Producer, logger *zap.Logger) redpanda.MessageHandler {
	return func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		done := make(chan error, 1)
		task := &workerpool.Task{
			ID:      fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset),
			Payload: msg.Value,
			Context: ctx,
			Done:    func(err error) { done <- err },
		}
		if err := wp.Submit(task); err != nil {
			return fmt.Errorf("submit task: %w", err)
		}

		select {
		case err := <-done:
			switch {
			case err == nil:
				return nil
			case errors.Is(err, idempotency.ErrDuplicateMessage):
				// Already handled by a previous delivery. Commit and move on.
				return nil
			case terminalError(err):
				return deadLetter(ctx, producer, msg, err, logger)
			default:
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// deadLetter records a permanently failed command and consumes the message.
func deadLetter(ctx context.Context, producer *redpanda.Producer, msg *redpanda.ConsumedMessage, cause error, logger *zap.Logger) error {
	entry, err := json.Marshal(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
		"payload":   string(msg.Value),
		"error":     cause.Error(),
		"failed_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := producer.Publish(ctx, redpanda.TopicDeadLetter, string(msg.Key), entry); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	logger.Warn("command dead-lettered",
		zap.String("topic", msg.Topic),
		zap.Int64("offset", msg.Offset),
		zap.Error(cause))
	return nil
}

// commandRunner executes transmission commands behind the idempotency inbox.
type commandRunner struct {
	svc    *service.TransmissionService
	inbox  *idempotency.Inbox
	logger *zap.Logger
}

func (r *commandRunner) run(ctx context.Context, task *workerpool.Task) error {
	payload, ok := task.Payload.([]byte)
	if !ok {
		return fmt.Errorf("task %s: unexpected payload type %T", task.ID, task.Payload)
	}

	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("task %s: decode command: %w", task.ID, err)
	}

	key := cmd.IdempotencyKey
	if key == "" {
		var err error
		switch cmd.Type {
		case "refill":
			key = "refill:" + cmd.OriginalID
		default:
			key, err = r.svc.IdempotencyKeyFor(ctx, cmd.OrderID)
			if err != nil {
				return fmt.Errorf("task %s: derive idempotency key: %w", task.ID, err)
			}
		}
	}

	_, err := r.inbox.Process(ctx, key, "transmission-worker", payload,
		func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			result, execErr := r.execute(ctx, cmd)
			if execErr != nil {
				return nil, execErr
			}
			return json.Marshal(result)
		})
	return err
}

func (r *commandRunner) execute(ctx context.Context, cmd command) (any, error) {
	switch cmd.Type {
	case "refill":
		return r.svc.ProcessRefillRequest(ctx, service.RefillInput{
			OriginalTransmissionID: cmd.OriginalID,
			PharmacyID:             cmd.PharmacyID,
			Urgency:                cmd.Urgency,
			RequestedBy:            cmd.RequestedBy,
			Note:                   cmd.Note,
		})
	case "new_rx", "":
		return r.svc.TransmitPrescription(ctx, service.TransmitRequest{
			OrderID:    cmd.OrderID,
			PharmacyID: cmd.PharmacyID,
			Channel:    cmd.Channel,
			Urgency:    cmd.Urgency,
		})
	default:
		return nil, fmt.Errorf("unknown command type %q: %w", cmd.Type, rx.ErrNotFound)
	}
}

// buildService wires the transmission graph the same way the API does.
func buildService(cfg *config.Config, pool *pgxpool.Pool, breakers *circuitbreaker.Manager,
	m *metrics.Metrics, logger *zap.Logger) (*service.TransmissionService, error) {

	sigStore := rx.NewPgSignatureStore(pool, logger)
	authority := rx.NewAuthority(sigStore, cfg.SessionSignatureTTL, logger)
	directory := rx.NewPgDirectory(pool, logger)
	selector := rx.NewSelector(directory, logger)
	ledger := rx.NewLedger(pool, redpanda.TopicTransmissionEvents, logger)
	refills := rx.NewRefillProcessor(pool, ledger, logger)
	emr := rx.NewEMRStore(pool, logger)

	var pharmacyGW channel.PharmacyGateway
	var faxGW channel.FaxGateway
	if cfg.SimulationMode {
		pharmacyGW = gateway.NewNullPharmacyGateway(logger)
		faxGW = gateway.NewNullFaxGateway(logger)
	} else {
		pharmBreaker, err := breakers.GetOrCreate("pharmacy-gateway", circuitbreaker.DefaultConfig("pharmacy-gateway"))
		if err != nil {
			return nil, fmt.Errorf("create pharmacy gateway breaker: %w", err)
		}
		faxBreaker, err := breakers.GetOrCreate("fax-gateway", circuitbreaker.DefaultConfig("fax-gateway"))
		if err != nil {
			return nil, fmt.Errorf("create fax gateway breaker: %w", err)
		}
		pharmacyGW = gateway.NewPharmacyClient(gateway.Config{
			Endpoint:  cfg.Pharmacy.Endpoint,
			AccountID: cfg.Pharmacy.AccountID,
			APIKey:    cfg.Pharmacy.APIKey,
			Timeout:   cfg.Pharmacy.Timeout,
		}, pharmBreaker, logger)
		faxGW = gateway.NewFaxClient(gateway.Config{
			Endpoint:  cfg.Fax.Endpoint,
			AccountID: cfg.Fax.AccountID,
			APIKey:    cfg.Fax.APIKey,
			Timeout:   cfg.Fax.Timeout,
		}, faxBreaker, logger)
	}

	renderer := render.NewPDFRenderer()
	channels := []channel.TransmissionChannel{
		channel.NewElectronic(pharmacyGW, logger),
		channel.NewFax(faxGW, renderer, ledger, logger),
		channel.NewPrint(renderer, ledger, logger),
	}
	dispatcher := channel.NewDispatcher(channels, ledger, cfg.DispatchTimeout, m, logger)

	return service.New(service.Deps{
		EMR:        emr,
		Authority:  authority,
		Selector:   selector,
		Directory:  directory,
		Signatures: sigStore,
		Ledger:     ledger,
		Dispatcher: dispatcher,
		Refills:    refills,
		Metrics:    m,
		Logger:     logger,
	}), nil
}

// terminalError classifies errors that retrying the same command cannot fix.
func terminalError(err error) bool {
	return errors.Is(err, rx.ErrSignatureRequired) ||
		errors.Is(err, rx.ErrSignatureInvalid) ||
		errors.Is(err, rx.ErrNoCapablePharmacy) ||
		errors.Is(err, rx.ErrNotFound)
}
