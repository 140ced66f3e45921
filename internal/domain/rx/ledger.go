package rx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carebridge/rx-transmit/internal/infrastructure/postgres"
)

// Ledger event types published through the transactional outbox.
const (
	EventTransmissionCreated      = "TransmissionCreated"
	EventTransmissionStateChanged = "TransmissionStateChanged"
)

// Update carries the fields recorded alongside a state transition.
type Update struct {
	Request      json.RawMessage
	Response     json.RawMessage
	ErrorDetail  string
	GatewayMsgID string
	GatewayThrID string
}

// Ledger is the durable record of every transmission attempt and the single
// source of truth for transmission state. State transitions are validated
// and every attempt's payloads are preserved in an append-only audit trail;
// retried attempts never overwrite prior payloads.
type Ledger struct {
	pool       *pgxpool.Pool
	eventTopic string
	logger     *zap.Logger
}

// NewLedger creates a ledger over pool. Lifecycle events are written to the
// transactional outbox for eventTopic in the same transaction as the state
// change.
func NewLedger(pool *pgxpool.Pool, eventTopic string, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{pool: pool, eventTopic: eventTopic, logger: logger}
}

// Create inserts a new pending transmission.
func (l *Ledger) Create(ctx context.Context, t *Transmission) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := l.CreateTx(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateTx inserts a new pending transmission inside an existing
// transaction. The refill processor uses this to tie transmission creation
// to the refill decrement atomically.
func (l *Ledger) CreateTx(ctx context.Context, tx pgx.Tx, t *Transmission) error {
	t.State = StatePending
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	query := `
		INSERT INTO prescription_transmissions
		(id, medication_id, order_id, patient_id, provider_id, pharmacy_id,
		 channel, state, signature_id, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $10)
	`
	_, err := tx.Exec(ctx, query,
		t.ID, t.MedicationID, t.OrderID, t.PatientID, t.ProviderID, t.PharmacyID,
		t.Channel, t.State, t.SignatureID, now,
	)
	if err != nil {
		return fmt.Errorf("insert transmission: %w", err)
	}

	return l.writeEvent(ctx, tx, t, EventTransmissionCreated)
}

// Get loads a transmission by id.
func (l *Ledger) Get(ctx context.Context, id string) (*Transmission, error) {
	t, err := scanTransmission(l.pool.QueryRow(ctx, selectTransmission+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transmission %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return t, nil
}

// UpdateState transitions a transmission under a row lock, appends an audit
// attempt with the exchanged payloads, and emits a state-change event. The
// retry count increases only on a transition to failed. Transitions that the
// lifecycle forbids return ErrInvalidTransition.
func (l *Ledger) UpdateState(ctx context.Context, id string, next State, u Update) (*Transmission, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := scanTransmission(tx.QueryRow(ctx, selectTransmission+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transmission %s: %w", id, ErrNotFound)
		}
		return nil, err
	}

	if !t.State.CanTransition(next) {
		return nil, fmt.Errorf("transmission %s: %s -> %s: %w", id, t.State, next, ErrInvalidTransition)
	}

	retry := t.RetryCount
	if next == StateFailed {
		retry++
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE prescription_transmissions
		SET state = $2, retry_count = $3, request_payload = $4, response_payload = $5,
		    error_detail = $6, gateway_message_id = $7, gateway_thread_id = $8, updated_at = $9
		WHERE id = $1
	`, id, next, retry, u.Request, u.Response, u.ErrorDetail, u.GatewayMsgID, u.GatewayThrID, now)
	if err != nil {
		return nil, fmt.Errorf("update transmission: %w", err)
	}

	// Append the attempt so earlier payloads survive retries.
	_, err = tx.Exec(ctx, `
		INSERT INTO transmission_attempts (transmission_id, seq, state, request_payload, response_payload, error_detail)
		VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM transmission_attempts WHERE transmission_id = $1), $2, $3, $4, $5)
	`, id, next, u.Request, u.Response, u.ErrorDetail)
	if err != nil {
		return nil, fmt.Errorf("append attempt: %w", err)
	}

	t.State = next
	t.RetryCount = retry
	t.Request = u.Request
	t.Response = u.Response
	t.ErrorDetail = u.ErrorDetail
	t.GatewayMsgID = u.GatewayMsgID
	t.GatewayThrID = u.GatewayThrID
	t.UpdatedAt = now

	if err := l.writeEvent(ctx, tx, t, EventTransmissionStateChanged); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	l.logger.Info("transmission state changed",
		zap.String("transmission_id", id),
		zap.String("state", string(next)),
		zap.Int("retry_count", retry))
	return t, nil
}

// History returns a patient's transmissions ordered by creation time, which
// also fixes the audit ordering within any single order.
func (l *Ledger) History(ctx context.Context, patientID string) ([]*Transmission, error) {
	rows, err := l.pool.Query(ctx, selectTransmission+` WHERE patient_id = $1 ORDER BY created_at ASC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransmissions(rows)
}

// Attempts returns the append-only attempt trail for a transmission.
func (l *Ledger) Attempts(ctx context.Context, transmissionID string) ([]*Attempt, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, transmission_id, seq, state, request_payload, response_payload, error_detail, created_at
		FROM transmission_attempts
		WHERE transmission_id = $1
		ORDER BY seq ASC
	`, transmissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		a := &Attempt{}
		var errDetail *string
		if err := rows.Scan(&a.ID, &a.TransmissionID, &a.Seq, &a.State, &a.Request, &a.Response, &errDetail, &a.CreatedAt); err != nil {
			return nil, err
		}
		if errDetail != nil {
			a.ErrorDetail = *errDetail
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListStalePending returns transmissions stuck pending longer than olderThan.
// A pending transmission past its timeout window is an error condition that
// needs operator attention; it cannot be assumed to have succeeded or failed.
func (l *Ledger) ListStalePending(ctx context.Context, olderThan time.Duration) ([]*Transmission, error) {
	rows, err := l.pool.Query(ctx,
		selectTransmission+` WHERE state = $1 AND created_at < NOW() - $2::interval ORDER BY created_at ASC`,
		StatePending, olderThan.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransmissions(rows)
}

// StoreDocument persists a rendered document (print channel) alongside the
// ledger entry.
func (l *Ledger) StoreDocument(ctx context.Context, transmissionID, contentType string, data []byte) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO transmission_documents (transmission_id, content_type, document)
		VALUES ($1, $2, $3)
	`, transmissionID, contentType, data)
	if err != nil {
		return fmt.Errorf("store document for %s: %w", transmissionID, err)
	}
	return nil
}

func (l *Ledger) writeEvent(ctx context.Context, tx pgx.Tx, t *Transmission, eventType string) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return postgres.WriteEntry(ctx, tx, &postgres.OutboxEntry{
		AggregateID:   t.ID,
		AggregateType: "Transmission",
		EventType:     eventType,
		Payload:       payload,
		Topic:         l.eventTopic,
		Key:           t.OrderID,
	})
}

const selectTransmission = `
	SELECT id, medication_id, order_id, patient_id, provider_id, pharmacy_id,
	       channel, state, signature_id, retry_count, request_payload,
	       response_payload, error_detail, gateway_message_id, gateway_thread_id,
	       created_at, updated_at
	FROM prescription_transmissions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransmission(row rowScanner) (*Transmission, error) {
	t := &Transmission{}
	var errDetail, gwMsg, gwThr *string
	err := row.Scan(
		&t.ID, &t.MedicationID, &t.OrderID, &t.PatientID, &t.ProviderID, &t.PharmacyID,
		&t.Channel, &t.State, &t.SignatureID, &t.RetryCount, &t.Request,
		&t.Response, &errDetail, &gwMsg, &gwThr,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if errDetail != nil {
		t.ErrorDetail = *errDetail
	}
	if gwMsg != nil {
		t.GatewayMsgID = *gwMsg
	}
	if gwThr != nil {
		t.GatewayThrID = *gwThr
	}
	return t, nil
}

func collectTransmissions(rows pgx.Rows) ([]*Transmission, error) {
	var out []*Transmission
	for rows.Next() {
		t, err := scanTransmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
