// Database-backed tests for the transmission ledger and refill processor.
// They need a reachable PostgreSQL instance; set TEST_DATABASE_URL to run
// them. Each test provisions a throwaway schema and drops it afterwards.
package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/rx-transmit/internal/domain/rx"
)

const schemaDDL = `
CREATE TABLE prescription_transmissions (
	id TEXT PRIMARY KEY,
	medication_id TEXT NOT NULL,
	order_id TEXT NOT NULL,
	patient_id TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	pharmacy_id TEXT NOT NULL,
	channel TEXT NOT NULL,
	state TEXT NOT NULL,
	signature_id TEXT NOT NULL,
	retry_count INT NOT NULL DEFAULT 0,
	request_payload JSONB,
	response_payload JSONB,
	error_detail TEXT,
	gateway_message_id TEXT,
	gateway_thread_id TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE transmission_attempts (
	id BIGSERIAL PRIMARY KEY,
	transmission_id TEXT NOT NULL,
	seq INT NOT NULL,
	state TEXT NOT NULL,
	request_payload JSONB,
	response_payload JSONB,
	error_detail TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE transmission_outbox (
	id BIGSERIAL PRIMARY KEY,
	aggregate_id TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload JSONB NOT NULL,
	topic TEXT NOT NULL,
	key TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at TIMESTAMPTZ,
	retry_count INT NOT NULL DEFAULT 0,
	last_error TEXT
);

CREATE TABLE orders (
	id TEXT PRIMARY KEY,
	refills_remaining INT NOT NULL
);

CREATE TABLE refill_requests (
	id TEXT PRIMARY KEY,
	original_transmission_id TEXT NOT NULL,
	pharmacy_id TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT,
	new_transmission_id TEXT,
	requested_by TEXT,
	note TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
`

// testPool connects to TEST_DATABASE_URL with a fresh schema on the search
// path, creates the transmission tables in it, and registers cleanup.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	schema := fmt.Sprintf("rx_test_%d", time.Now().UnixNano())

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse TEST_DATABASE_URL: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := pool.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		pool.Close()
		t.Fatalf("create schema: %v", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
		pool.Close()
		t.Fatalf("create tables: %v", err)
	}

	t.Cleanup(func() {
		pool.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		pool.Close()
	})
	return pool
}

func newTransmission(orderID string) *rx.Transmission {
	return &rx.Transmission{
		ID:           uuid.New().String(),
		MedicationID: "med-1",
		OrderID:      orderID,
		PatientID:    "pat-1",
		ProviderID:   "prov-1",
		PharmacyID:   "ph-1",
		Channel:      rx.ChannelElectronic,
		SignatureID:  "sig-1",
	}
}

func TestRetryCountAccumulatesAcrossFailures(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	ledger := rx.NewLedger(pool, "transmission-events", nil)

	tx := newTransmission("ord-1")
	if err := ledger.Create(ctx, tx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	first, err := ledger.UpdateState(ctx, tx.ID, rx.StateFailed, rx.Update{ErrorDetail: "gateway down"})
	if err != nil {
		t.Fatalf("first failure: %v", err)
	}
	if first.RetryCount != 1 {
		t.Errorf("expected retry count 1 after first failure, got %d", first.RetryCount)
	}

	second, err := ledger.UpdateState(ctx, tx.ID, rx.StateFailed, rx.Update{ErrorDetail: "gateway still down"})
	if err != nil {
		t.Fatalf("second failure: %v", err)
	}
	if second.RetryCount != 2 {
		t.Errorf("expected retry count 2 after second failure, got %d", second.RetryCount)
	}

	// Delivery after two failures keeps the accumulated count.
	sent, err := ledger.UpdateState(ctx, tx.ID, rx.StateSent, rx.Update{GatewayMsgID: "GW-1"})
	if err != nil {
		t.Fatalf("delivery after failures: %v", err)
	}
	if sent.RetryCount != 2 {
		t.Errorf("delivery must not change the retry count, got %d", sent.RetryCount)
	}

	stored, err := ledger.Get(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.RetryCount != 2 || stored.State != rx.StateSent {
		t.Errorf("stored row: state %s retry %d, want sent/2", stored.State, stored.RetryCount)
	}

	attempts, err := ledger.Attempts(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Attempts failed: %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("expected 3 audit attempts, got %d", len(attempts))
	}
	for i, a := range attempts {
		if a.Seq != i+1 {
			t.Errorf("attempt %d has seq %d", i, a.Seq)
		}
	}
	if attempts[0].ErrorDetail != "gateway down" {
		t.Error("earlier attempt payloads must survive later transitions")
	}
}

func TestDeliveredStateIsTerminal(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	ledger := rx.NewLedger(pool, "transmission-events", nil)

	tx := newTransmission("ord-1")
	if err := ledger.Create(ctx, tx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := ledger.UpdateState(ctx, tx.ID, rx.StateSent, rx.Update{}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	_, err := ledger.UpdateState(ctx, tx.ID, rx.StateFailed, rx.Update{})
	if !errors.Is(err, rx.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestConcurrentRefillsNeverOvershoot(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	ledger := rx.NewLedger(pool, "transmission-events", nil)
	processor := rx.NewRefillProcessor(pool, ledger, nil)

	const remaining = 2
	if _, err := pool.Exec(ctx,
		`INSERT INTO orders (id, refills_remaining) VALUES ($1, $2)`, "ord-1", remaining); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	orig := newTransmission("ord-1")
	if err := ledger.Create(ctx, orig); err != nil {
		t.Fatalf("seed original transmission: %v", err)
	}

	const requests = 6
	var wg sync.WaitGroup
	errs := make([]error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = processor.Approve(ctx, orig.ID, newTransmission("ord-1"), rx.RefillMetadata{})
		}(i)
	}
	wg.Wait()

	approved, denied := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			approved++
		case errors.Is(err, rx.ErrNoRefillsRemaining):
			denied++
		default:
			t.Errorf("unexpected refill error: %v", err)
		}
	}
	if approved != remaining {
		t.Errorf("expected %d approvals, got %d", remaining, approved)
	}
	if denied != requests-remaining {
		t.Errorf("expected %d denials, got %d", requests-remaining, denied)
	}

	var left int
	if err := pool.QueryRow(ctx,
		`SELECT refills_remaining FROM orders WHERE id = $1`, "ord-1").Scan(&left); err != nil {
		t.Fatalf("read order: %v", err)
	}
	if left != 0 {
		t.Errorf("refills_remaining must end at 0, got %d", left)
	}

	var transmissions int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM prescription_transmissions`).Scan(&transmissions); err != nil {
		t.Fatalf("count transmissions: %v", err)
	}
	if transmissions != 1+remaining {
		t.Errorf("expected the original plus %d replacements, got %d", remaining, transmissions)
	}
}
