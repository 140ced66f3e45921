package rx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// RefillStatus is the lifecycle of a refill request.
type RefillStatus string

const (
	RefillRequested RefillStatus = "requested"
	RefillApproved  RefillStatus = "approved"
	RefillDenied    RefillStatus = "denied"
)

// RefillRequest records one refill decision against an original transmission.
type RefillRequest struct {
	ID                string       `json:"id"`
	OriginalID        string       `json:"original_transmission_id"`
	PharmacyID        string       `json:"pharmacy_id"`
	Status            RefillStatus `json:"status"`
	Reason            string       `json:"reason,omitempty"`
	NewTransmissionID string       `json:"new_transmission_id,omitempty"`
	RequestedBy       string       `json:"requested_by,omitempty"`
	Note              string       `json:"note,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// RefillMetadata is caller-supplied context recorded with the decision.
type RefillMetadata struct {
	RequestedBy string
	Note        string
}

// RefillProcessor applies the check-and-decrement rule for refills. The
// refill decrement and the creation of the replacement transmission happen
// in one transaction against the order row, held under FOR UPDATE so that
// concurrent requests on the same order serialize and refillsRemaining
// never goes negative.
type RefillProcessor struct {
	pool   *pgxpool.Pool
	ledger *Ledger
	logger *zap.Logger
}

// NewRefillProcessor creates a refill processor sharing the ledger's store.
func NewRefillProcessor(pool *pgxpool.Pool, ledger *Ledger, logger *zap.Logger) *RefillProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefillProcessor{pool: pool, ledger: ledger, logger: logger}
}

// Approve decrements the order's refills and creates newT as a pending
// transmission in the same transaction. On denial the refill request row is
// still recorded and the returned error is ErrNoRefillsRemaining or
// ErrNotFound; no transmission is created and no decrement is applied.
func (p *RefillProcessor) Approve(ctx context.Context, originalID string, newT *Transmission, meta RefillMetadata) (*RefillRequest, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req := &RefillRequest{
		ID:          uuid.New().String(),
		OriginalID:  originalID,
		PharmacyID:  newT.PharmacyID,
		Status:      RefillRequested,
		RequestedBy: meta.RequestedBy,
		Note:        meta.Note,
	}

	var orderID string
	err = tx.QueryRow(ctx,
		`SELECT order_id FROM prescription_transmissions WHERE id = $1`, originalID,
	).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, p.deny(ctx, req, fmt.Errorf("original transmission %s: %w", originalID, ErrNotFound))
	}
	if err != nil {
		return nil, fmt.Errorf("load original transmission: %w", err)
	}

	var remaining int
	err = tx.QueryRow(ctx, `
		UPDATE orders
		SET refills_remaining = refills_remaining - 1
		WHERE id = $1 AND refills_remaining > 0
		RETURNING refills_remaining
	`, orderID).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, p.deny(ctx, req, fmt.Errorf("order %s: %w", orderID, ErrNoRefillsRemaining))
	}
	if err != nil {
		return nil, fmt.Errorf("decrement refills for order %s: %w", orderID, err)
	}

	if err := p.ledger.CreateTx(ctx, tx, newT); err != nil {
		return nil, fmt.Errorf("create refill transmission: %w", err)
	}

	req.Status = RefillApproved
	req.NewTransmissionID = newT.ID
	if err := insertRefillRequest(ctx, tx, req); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit refill: %w", err)
	}

	p.logger.Info("refill approved",
		zap.String("original_transmission_id", originalID),
		zap.String("order_id", orderID),
		zap.String("new_transmission_id", newT.ID),
		zap.Int("refills_remaining", remaining))
	return req, nil
}

// deny records the denial outside the (rolled-back) approval transaction and
// returns cause.
func (p *RefillProcessor) deny(ctx context.Context, req *RefillRequest, cause error) error {
	req.Status = RefillDenied
	req.Reason = cause.Error()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return cause
	}
	defer tx.Rollback(ctx)

	if err := insertRefillRequest(ctx, tx, req); err != nil {
		p.logger.Error("failed to record refill denial", zap.Error(err))
		return cause
	}
	if err := tx.Commit(ctx); err != nil {
		p.logger.Error("failed to record refill denial", zap.Error(err))
	}
	return cause
}

func insertRefillRequest(ctx context.Context, tx pgx.Tx, req *RefillRequest) error {
	req.CreatedAt = time.Now().UTC()
	_, err := tx.Exec(ctx, `
		INSERT INTO refill_requests
		(id, original_transmission_id, pharmacy_id, status, reason, new_transmission_id, requested_by, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, req.ID, req.OriginalID, req.PharmacyID, req.Status, req.Reason,
		nullIfEmpty(req.NewTransmissionID), req.RequestedBy, req.Note, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert refill request: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
