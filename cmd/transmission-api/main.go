// Package main provides the transmission API service entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carebridge/rx-transmit/internal/api/handlers"
	"github.com/carebridge/rx-transmit/internal/api/middleware"
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
		ServiceName:    "transmission-api",
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
	logger.Info("connected to database")

	m := metrics.New()
	breakers := circuitbreaker.NewManager(logger)

	svc, ledger, err := buildService(cfg, pool, breakers, m, logger)
	if err != nil {
		logger.Fatal("service wiring failed", zap.Error(err))
	}

	monitorDone := make(chan struct{})
	go monitor(ledger, breakers, cfg.DispatchTimeout, m, logger, monitorDone)
	defer close(monitorDone)

	inboxCfg := idempotency.DefaultInboxConfig()
	inboxCfg.Terminal = terminalError
	inbox := idempotency.NewInbox(pool, inboxCfg, logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	transmissionHandler := handlers.NewTransmissionHandler(svc, inbox, logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.CORS)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("transmission-api"))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		r.Mount("/", transmissionHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting transmission API",
		zap.String("port", cfg.Port),
		zap.Bool("simulation_mode", cfg.SimulationMode))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// buildService wires the full transmission graph from configuration. The
// ledger is returned alongside the service for the stale-pending monitor.
func buildService(cfg *config.Config, pool *pgxpool.Pool, breakers *circuitbreaker.Manager,
	m *metrics.Metrics, logger *zap.Logger) (*service.TransmissionService, *rx.Ledger, error) {

	sigStore := rx.NewPgSignatureStore(pool, logger)
	authority := rx.NewAuthority(sigStore, cfg.SessionSignatureTTL, logger)
	directory := rx.NewPgDirectory(pool, logger)
	selector := rx.NewSelector(directory, logger)
	ledger := rx.NewLedger(pool, redpanda.TopicTransmissionEvents, logger)
	refills := rx.NewRefillProcessor(pool, ledger, logger)
	emr := rx.NewEMRStore(pool, logger)

	pharmacyGW, faxGW, err := buildGateways(cfg, breakers, logger)
	if err != nil {
		return nil, nil, err
	}

	renderer := render.NewPDFRenderer()
	channels := []channel.TransmissionChannel{
		channel.NewElectronic(pharmacyGW, logger),
		channel.NewFax(faxGW, renderer, ledger, logger),
		channel.NewPrint(renderer, ledger, logger),
	}
	dispatcher := channel.NewDispatcher(channels, ledger, cfg.DispatchTimeout, m, logger)

	svc := service.New(service.Deps{
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
	})
	return svc, ledger, nil
}

// monitor flags transmissions stuck pending past their dispatch window and
// publishes breaker states. A stuck pending entry cannot be assumed to have
// succeeded or failed and needs operator attention.
func monitor(ledger *rx.Ledger, breakers *circuitbreaker.Manager, dispatchTimeout time.Duration,
	m *metrics.Metrics, logger *zap.Logger, done <-chan struct{}) {

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			stale, err := ledger.ListStalePending(ctx, 2*dispatchTimeout)
			cancel()
			if err != nil {
				logger.Error("stale pending sweep failed", zap.Error(err))
			} else {
				m.PendingTransmissions.Set(float64(len(stale)))
				for _, t := range stale {
					logger.Warn("transmission stuck pending",
						zap.String("transmission_id", t.ID),
						zap.String("channel", string(t.Channel)),
						zap.Time("created_at", t.CreatedAt))
				}
			}

			for _, hs := range breakers.GetHealthStatus() {
				m.CircuitBreakerState.WithLabelValues(hs.Name).Set(breakerStateValue(hs.State))
			}
		}
	}
}

// buildGateways returns the delivery gateways. The simulation doubles are
// reachable only through the explicit SimulationMode flag; configuration
// validation has already rejected missing credentials outside it.
func buildGateways(cfg *config.Config, breakers *circuitbreaker.Manager, logger *zap.Logger) (channel.PharmacyGateway, channel.FaxGateway, error) {
	if cfg.SimulationMode {
		return gateway.NewNullPharmacyGateway(logger), gateway.NewNullFaxGateway(logger), nil
	}

	pharmBreaker, err := breakers.GetOrCreate("pharmacy-gateway", circuitbreaker.DefaultConfig("pharmacy-gateway"))
	if err != nil {
		return nil, nil, fmt.Errorf("create pharmacy gateway breaker: %w", err)
	}
	faxBreaker, err := breakers.GetOrCreate("fax-gateway", circuitbreaker.DefaultConfig("fax-gateway"))
	if err != nil {
		return nil, nil, fmt.Errorf("create fax gateway breaker: %w", err)
	}

	pharmacyGW := gateway.NewPharmacyClient(gateway.Config{
		Endpoint:  cfg.Pharmacy.Endpoint,
		AccountID: cfg.Pharmacy.AccountID,
		APIKey:    cfg.Pharmacy.APIKey,
		Timeout:   cfg.Pharmacy.Timeout,
	}, pharmBreaker, logger)

	faxGW := gateway.NewFaxClient(gateway.Config{
		Endpoint:  cfg.Fax.Endpoint,
		AccountID: cfg.Fax.AccountID,
		APIKey:    cfg.Fax.APIKey,
		Timeout:   cfg.Fax.Timeout,
	}, faxBreaker, logger)

	return pharmacyGW, faxGW, nil
}

func breakerStateValue(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.StateOpen:
		return 1
	case circuitbreaker.StateHalfOpen:
		return 2
	}
	return 0
}

// terminalError classifies errors the inbox must never reprocess: retrying
// them would yield the same authorization or routing refusal.
func terminalError(err error) bool {
	return errors.Is(err, rx.ErrSignatureRequired) ||
		errors.Is(err, rx.ErrSignatureInvalid) ||
		errors.Is(err, rx.ErrNoCapablePharmacy) ||
		errors.Is(err, rx.ErrNotFound)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"transmission-api","version":"1.0.0"}`)
}
